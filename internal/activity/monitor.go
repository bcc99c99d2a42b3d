// Package activity samples per-participant audio levels and derives the
// speaking state kept in the directory.
package activity

import (
	"log/slog"
	"math"
	"time"

	"github.com/cwrk-planet/session-recorder/internal/directory"
	"github.com/cwrk-planet/session-recorder/internal/domain"
)

const (
	Interval = 150 * time.Millisecond

	// SpeakingThreshold is in sampler units (mean byte frequency energy).
	SpeakingThreshold = 25.0
	// levelScale maps sampler units onto the public 0..100 level.
	levelScale = 128.0
	// Hysteresis — изменения уровня меньше этого не переписывают запись.
	Hysteresis = 5.0
)

// Sampler yields frequency-energy bins (0..255) for one audio track.
type Sampler interface {
	Sample() ([]byte, error)
	Close() error
}

// Acquirer binds a new sampler to a subscribed audio track.
type Acquirer interface {
	Acquire(identity string, track domain.Track) (Sampler, error)
}

type AcquireFunc func(identity string, track domain.Track) (Sampler, error)

func (f AcquireFunc) Acquire(identity string, track domain.Track) (Sampler, error) {
	return f(identity, track)
}

// Monitor holds at most one live sampler per identity. Like the directory it
// is driven by the session loop only.
type Monitor struct {
	acquire  Acquirer
	log      *slog.Logger
	samplers map[string]Sampler
	closed   bool
}

func NewMonitor(a Acquirer, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		acquire:  a,
		log:      log,
		samplers: make(map[string]Sampler),
	}
}

// Attach replaces any sampler already bound to identity.
func (m *Monitor) Attach(identity string, track domain.Track) {
	if m.closed || m.acquire == nil || track == nil {
		return
	}
	m.Release(identity)

	s, err := m.acquire.Acquire(identity, track)
	if err != nil {
		m.log.Warn("audio sampler attach failed", "identity", identity, "track", track.SID(), "err", err)
		return
	}
	if s == nil {
		return
	}
	m.samplers[identity] = s
	m.log.Debug("audio sampler attached", "identity", identity, "track", track.SID())
}

func (m *Monitor) Release(identity string) {
	s, ok := m.samplers[identity]
	if !ok {
		return
	}
	delete(m.samplers, identity)
	if err := s.Close(); err != nil {
		m.log.Debug("audio sampler close failed", "identity", identity, "err", err)
	}
}

func (m *Monitor) Has(identity string) bool {
	_, ok := m.samplers[identity]
	return ok
}

func (m *Monitor) Len() int { return len(m.samplers) }

// Close releases every sampler. Safe to call more than once.
func (m *Monitor) Close() {
	if m.closed {
		return
	}
	m.closed = true
	for id := range m.samplers {
		m.Release(id)
	}
}

// Tick samples every participant in one pass and rewrites only the records
// whose observable state changed. Participants without a sampler decay to
// silence. Returns the number of rewritten records.
func (m *Monitor) Tick(dir *directory.Directory, now time.Time) int {
	changed := 0
	for _, p := range dir.Snapshot() {
		var (
			speaking bool
			level    float64
		)
		if s, ok := m.samplers[p.Identity]; ok {
			bins, err := s.Sample()
			if err != nil {
				m.log.Debug("audio sample failed", "identity", p.Identity, "err", err)
				continue
			}
			_, level, speaking = Measure(bins)
		}

		lastSpokeAt := p.LastSpokeAt
		if speaking {
			lastSpokeAt = now
		}
		if p.Speaking == speaking &&
			math.Abs(p.AudioLevel-level) <= Hysteresis &&
			p.LastSpokeAt.Equal(lastSpokeAt) {
			continue
		}

		dir.Upsert(p.Identity, func(r domain.Participant) domain.Participant {
			r.Speaking = speaking
			r.AudioLevel = level
			r.LastSpokeAt = lastSpokeAt
			return r
		})
		changed++
	}
	return changed
}

// Measure returns the mean bin energy, the 0..100 level and the speaking flag.
func Measure(bins []byte) (avg, level float64, speaking bool) {
	if len(bins) == 0 {
		return 0, 0, false
	}
	var sum int
	for _, b := range bins {
		sum += int(b)
	}
	avg = float64(sum) / float64(len(bins))
	level = math.Min(100, math.Max(0, avg/levelScale*100))
	return avg, level, avg > SpeakingThreshold
}
