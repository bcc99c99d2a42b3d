package livekit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/cwrk-planet/session-recorder/internal/domain"
)

// rtpSource is the part of *webrtc.TrackRemote the frame counter reads.
type rtpSource interface {
	ReadRTP() (*rtpPacket, error)
}

// Кадр считается полученным по marker-биту последнего RTP-пакета кадра.
// Декодера в процессе нет, так что это ближайший доступный признак.
type frameRegistry struct {
	mu       sync.Mutex
	counters map[string]*atomic.Uint64
}

func newFrameRegistry() *frameRegistry {
	return &frameRegistry{counters: make(map[string]*atomic.Uint64)}
}

func (r *frameRegistry) counter(sid string) *atomic.Uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctr, ok := r.counters[sid]
	if !ok {
		ctr = new(atomic.Uint64)
		r.counters[sid] = ctr
	}
	return ctr
}

// watch drains track in the background and counts completed frames.
func (r *frameRegistry) watch(sid string, track *webrtc.TrackRemote, log *slog.Logger) {
	if track == nil {
		return
	}
	r.watchSource(sid, trackRemote{track}, log)
}

func (r *frameRegistry) watchSource(sid string, src rtpSource, log *slog.Logger) {
	ctr := r.counter(sid)
	go func() {
		for {
			pkt, err := src.ReadRTP()
			if err != nil {
				log.Debug("rtp reader stopped", slog.String("track", sid), slog.Any("err", err))
				return
			}
			if pkt.marker {
				ctr.Add(1)
			}
		}
	}()
}

func (r *frameRegistry) forget(sid string) {
	r.mu.Lock()
	delete(r.counters, sid)
	r.mu.Unlock()
}

func (r *frameRegistry) clear() {
	r.mu.Lock()
	r.counters = make(map[string]*atomic.Uint64)
	r.mu.Unlock()
}

func (r *frameRegistry) probe(sid string) domain.StatsProbe {
	return frameProbe{registry: r, sid: sid}
}

type frameProbe struct {
	registry *frameRegistry
	sid      string
}

func (p frameProbe) FramesDecoded(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.registry.mu.Lock()
	ctr, ok := p.registry.counters[p.sid]
	p.registry.mu.Unlock()
	if !ok {
		return 0, domain.ErrStatsUnavailable
	}
	return ctr.Load(), nil
}

type rtpPacket struct {
	marker bool
}

type trackRemote struct {
	t *webrtc.TrackRemote
}

func (s trackRemote) ReadRTP() (*rtpPacket, error) {
	pkt, _, err := s.t.ReadRTP()
	if err != nil {
		return nil, err
	}
	return &rtpPacket{marker: pkt.Marker}, nil
}
