package ws

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cwrk-planet/session-recorder/internal/session"
	"github.com/cwrk-planet/session-recorder/internal/transport/dto"
)

type Conn interface {
	Send(msg Message) error
	Close() error
}

const eventBuffer = 64

// Hub fans session changes out to every connected client. It is a session
// observer: StateChanged and Notify only enqueue, Run does the sending.
type Hub struct {
	mu    sync.RWMutex
	conns map[Conn]struct{}

	latest  atomic.Pointer[session.State]
	stateCh chan struct{}
	events  chan Message
	log     *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		conns:   make(map[Conn]struct{}),
		stateCh: make(chan struct{}, 1),
		events:  make(chan Message, eventBuffer),
		log:     log,
	}
}

func (h *Hub) Add(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

func (h *Hub) Remove(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		if err := c.Send(msg); err != nil {
			h.log.Debug("ws send failed", slog.String("type", msg.Type), slog.Any("err", err))
		}
	}
}

// StateChanged keeps only the newest state; intermediate ones are skipped.
func (h *Hub) StateChanged(st *session.State) {
	h.latest.Store(st)
	select {
	case h.stateCh <- struct{}{}:
	default:
	}
}

func (h *Hub) Notify(n session.Notification) {
	msg, ok := notificationMessage(n)
	if !ok {
		return
	}
	select {
	case h.events <- msg:
	default:
		h.log.Warn("ws event queue full, dropped", slog.String("type", msg.Type))
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.events:
			h.Broadcast(msg)
		case <-h.stateCh:
			if st := h.latest.Load(); st != nil {
				h.Broadcast(Message{Type: TypeState, Payload: dto.FromState(st)})
			}
		}
	}
}

func notificationMessage(n session.Notification) (Message, bool) {
	switch n.Kind {
	case session.KindJoin, session.KindLeave:
		typ := TypePeerJoined
		if n.Kind == session.KindLeave {
			typ = TypePeerLeft
		}
		return Message{Type: typ, Payload: PeerEventPayload{
			SessionID:   n.SessionID,
			Identity:    n.Identity,
			DisplayName: n.DisplayName,
			Role:        string(n.Role),
			TSUnix:      n.At.Unix(),
		}}, true
	case session.KindRecordingStarted:
		return Message{Type: TypeRecordingStarted, Payload: RecordingPayload{
			SessionID: n.SessionID, Reason: n.Reason, TSUnix: n.At.Unix(),
		}}, true
	case session.KindRecordingEnded:
		return Message{Type: TypeRecordingEnded, Payload: RecordingPayload{
			SessionID: n.SessionID, TSUnix: n.At.Unix(),
		}}, true
	}
	return Message{}, false
}
