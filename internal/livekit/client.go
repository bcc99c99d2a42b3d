// Package livekit connects to a LiveKit room and turns its callbacks into
// session events. It also serves the roster and audio samplers the session
// polls.
package livekit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"

	"github.com/cwrk-planet/session-recorder/internal/activity"
	"github.com/cwrk-planet/session-recorder/internal/domain"
	"github.com/cwrk-planet/session-recorder/internal/session"
)

// tokenTTL bounds a self-signed join token.
const tokenTTL = 6 * time.Hour

type Config struct {
	URL       string
	Token     string
	APIKey    string
	APISecret string
	Room      string
	Identity  string
}

// Sink receives session events. *session.Session implements it.
type Sink interface {
	Post(e session.Event) error
}

type Client struct {
	cfg    Config
	log    *slog.Logger
	frames *frameRegistry

	mu   sync.RWMutex
	room *lksdk.Room
	sink Sink
}

func New(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{cfg: cfg, log: log, frames: newFrameRegistry()}
}

// Connect joins the room and starts forwarding events to sink. The current
// roster is posted as a single Hydrated event once the join completes.
func (c *Client) Connect(ctx context.Context, sink Sink) error {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()

	cb := &lksdk.RoomCallback{
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			c.post(session.ParticipantConnected{Info: participantInfo(rp)})
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			c.post(session.ParticipantDisconnected{Info: participantInfo(rp)})
		},
		OnDisconnected: func() {
			c.post(session.Disconnected{Reason: "room disconnected"})
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed:   c.onTrackSubscribed,
			OnTrackUnsubscribed: c.onTrackUnsubscribed,
			OnMetadataChanged: func(_ string, p lksdk.Participant) {
				c.onParticipantChanged(p)
			},
			OnAttributesChanged: func(_ map[string]string, p lksdk.Participant) {
				c.onParticipantChanged(p)
			},
		},
	}

	c.log.Info("connecting to livekit", slog.String("url", c.cfg.URL), slog.String("room", c.cfg.Room))

	type result struct {
		room *lksdk.Room
		err  error
	}
	done := make(chan result, 1)
	go func() {
		token := c.cfg.Token
		if token == "" {
			var err error
			token, err = NewSigner(c.cfg.APIKey, c.cfg.APISecret, tokenTTL, time.Minute).Sign(c.cfg.Room, c.cfg.Identity, time.Now())
			if err != nil {
				done <- result{nil, fmt.Errorf("sign token: %w", err)}
				return
			}
		}
		room, err := lksdk.ConnectToRoomWithToken(c.cfg.URL, token, cb, lksdk.WithAutoSubscribe(true))
		done <- result{room, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.room != nil {
				r.room.Disconnect()
			}
		}()
		return fmt.Errorf("livekit connect: %w", ctx.Err())
	case res = <-done:
	}
	if res.err != nil {
		return fmt.Errorf("livekit connect: %w", res.err)
	}

	c.mu.Lock()
	c.room = res.room
	c.mu.Unlock()

	roster := c.Participants()
	c.log.Info("livekit connected", slog.String("room", res.room.Name()), slog.Int("participants", len(roster)))
	c.post(session.Hydrated{Participants: roster})
	return nil
}

func (c *Client) Close() {
	c.mu.Lock()
	room := c.room
	c.room = nil
	c.mu.Unlock()
	if room != nil {
		room.Disconnect()
	}
	c.frames.clear()
}

// Participants enumerates the remote participants and their publications.
func (c *Client) Participants() []domain.RemoteParticipant {
	c.mu.RLock()
	room := c.room
	c.mu.RUnlock()
	if room == nil {
		return nil
	}

	rps := room.GetRemoteParticipants()
	out := make([]domain.RemoteParticipant, 0, len(rps))
	for _, rp := range rps {
		item := domain.RemoteParticipant{Info: participantInfo(rp)}
		for _, pub := range rp.TrackPublications() {
			rpub, ok := pub.(*lksdk.RemoteTrackPublication)
			if !ok {
				continue
			}
			item.Publications = append(item.Publications, c.publication(rpub, rp))
		}
		out = append(out, item)
	}
	return out
}

// Acquire binds a sampler to the participant's reported audio level.
func (c *Client) Acquire(identity string, track domain.Track) (activity.Sampler, error) {
	t, ok := track.(*remoteTrack)
	if !ok || t.participant == nil {
		return nil, fmt.Errorf("acquire %s: %w", identity, domain.ErrNoSampler)
	}
	return newLevelSampler(t.participant), nil
}

func (c *Client) publication(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) domain.RemotePublication {
	out := domain.RemotePublication{PublicationInfo: publicationInfo(pub)}
	if tr := pub.TrackRemote(); tr != nil && pub.IsSubscribed() {
		out.Track = &remoteTrack{sid: pub.SID(), kind: out.Kind, participant: rp}
	}
	if out.Kind == domain.TrackKindVideo {
		out.Stats = c.frames.probe(pub.SID())
	}
	return out
}

func (c *Client) onTrackSubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	info := publicationInfo(pub)
	info.Subscribed = true
	if info.Kind == domain.TrackKindVideo {
		c.frames.watch(pub.SID(), track, c.log)
	}
	c.post(session.TrackSubscribed{
		Info:        participantInfo(rp),
		Publication: info,
		Track:       &remoteTrack{sid: pub.SID(), kind: info.Kind, participant: rp},
	})
}

func (c *Client) onTrackUnsubscribed(_ *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	c.frames.forget(pub.SID())
	info := publicationInfo(pub)
	info.Subscribed = false
	c.post(session.TrackUnsubscribed{Info: participantInfo(rp), Publication: info})
}

func (c *Client) onParticipantChanged(p lksdk.Participant) {
	rp, ok := p.(*lksdk.RemoteParticipant)
	if !ok {
		return
	}
	c.post(session.ParticipantUpdated{Info: participantInfo(rp)})
}

func (c *Client) post(e session.Event) {
	c.mu.RLock()
	sink := c.sink
	c.mu.RUnlock()
	if sink == nil {
		return
	}
	if err := sink.Post(e); err != nil {
		if errors.Is(err, domain.ErrSessionClosed) {
			c.log.Debug("event after session close", slog.String("event", fmt.Sprintf("%T", e)))
			return
		}
		c.log.Warn("post event failed", slog.Any("err", err))
	}
}

func participantInfo(rp *lksdk.RemoteParticipant) domain.ParticipantInfo {
	return domain.ParticipantInfo{
		Identity:   rp.Identity(),
		Metadata:   rp.Metadata(),
		Attributes: rp.Attributes(),
		Agent:      isEgress(livekit.ParticipantInfo_Kind(rp.Kind())),
	}
}

func isEgress(k livekit.ParticipantInfo_Kind) bool {
	return k == livekit.ParticipantInfo_EGRESS
}

func publicationInfo(pub *lksdk.RemoteTrackPublication) domain.PublicationInfo {
	return domain.PublicationInfo{
		SID:        pub.SID(),
		Kind:       trackKind(pub.Kind()),
		Subscribed: pub.IsSubscribed(),
	}
}

func trackKind(k lksdk.TrackKind) domain.TrackKind {
	if k == lksdk.TrackKindVideo {
		return domain.TrackKindVideo
	}
	return domain.TrackKindAudio
}

// remoteTrack is the handle stored in the directory.
type remoteTrack struct {
	sid         string
	kind        domain.TrackKind
	participant *lksdk.RemoteParticipant
}

func (t *remoteTrack) SID() string            { return t.sid }
func (t *remoteTrack) Kind() domain.TrackKind { return t.kind }
