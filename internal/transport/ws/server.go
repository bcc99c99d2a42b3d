package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cwrk-planet/session-recorder/internal/session"
	"github.com/cwrk-planet/session-recorder/internal/transport/dto"
)

type StateSource interface {
	State() *session.State
}

type Server struct {
	upgrader websocket.Upgrader
	hub      *Hub
	source   StateSource
	log      *slog.Logger

	pingEvery time.Duration
}

func NewServer(hub *Hub, source StateSource, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		hub:    hub,
		source: source,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingEvery: 15 * time.Second,
	}
}

// HandleWS: GET /ws/session. Клиент только читает; входящие сообщения
// игнорируются.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", "err", err)
		return
	}

	c := newWsConn(conn)
	if st := s.source.State(); st != nil {
		if err := c.Send(Message{Type: TypeState, Payload: dto.FromState(st)}); err != nil {
			s.log.Warn("ws send initial state failed", "err", err)
		}
	}
	s.hub.Add(c)

	go s.writeLoop(r.Context(), c)
	s.readLoop(c)

	s.hub.Remove(c)
	if err := c.Close(); err != nil {
		s.log.Debug("ws close failed", "err", err)
	}
}

func (s *Server) readLoop(c *wsConn) {
	c.conn.SetReadLimit(1 << 16)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		}
	}
}

type wsConn struct {
	conn   *websocket.Conn
	sendMu chan struct{}
	closed chan struct{}
}

func newWsConn(c *websocket.Conn) *wsConn {
	return &wsConn{
		conn:   c,
		sendMu: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (c *wsConn) Send(msg Message) error {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	return c.conn.WriteJSON(msg)
}

func (c *wsConn) Close() error {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()
	select {
	case <-c.closed:
		return nil
	default:
		close(c.closed)
	}
	return c.conn.Close()
}
