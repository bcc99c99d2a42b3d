package activity

import (
	"errors"
	"testing"
	"time"

	"github.com/cwrk-planet/session-recorder/internal/directory"
	"github.com/cwrk-planet/session-recorder/internal/domain"
)

type fakeTrack struct {
	sid  string
	kind domain.TrackKind
}

func (t fakeTrack) SID() string            { return t.sid }
func (t fakeTrack) Kind() domain.TrackKind { return t.kind }

type fakeSampler struct {
	bins   []byte
	err    error
	closed int
}

func (s *fakeSampler) Sample() ([]byte, error) { return s.bins, s.err }
func (s *fakeSampler) Close() error            { s.closed++; return nil }

func constant(v byte) []byte {
	b := make([]byte, 128)
	for i := range b {
		b[i] = v
	}
	return b
}

type pool struct {
	next []*fakeSampler
	made []*fakeSampler
}

func (p *pool) Acquire(string, domain.Track) (Sampler, error) {
	if len(p.next) == 0 {
		return nil, errors.New("no sampler")
	}
	s := p.next[0]
	p.next = p.next[1:]
	p.made = append(p.made, s)
	return s, nil
}

func audio(sid string) domain.Track { return fakeTrack{sid: sid, kind: domain.TrackKindAudio} }

func TestMeasure(t *testing.T) {
	avg, level, speaking := Measure(constant(64))
	if avg != 64 || level != 50 || !speaking {
		t.Fatalf("got avg=%v level=%v speaking=%v", avg, level, speaking)
	}
	if _, level, _ := Measure(constant(255)); level != 100 {
		t.Fatalf("level must clamp to 100, got %v", level)
	}
	if _, _, speaking := Measure(constant(25)); speaking {
		t.Fatalf("threshold is strict")
	}
	if _, level, speaking := Measure(nil); level != 0 || speaking {
		t.Fatalf("empty bins should be silent")
	}
}

func TestAttach_ReplacesAndReleasesPrevious(t *testing.T) {
	first, second := &fakeSampler{}, &fakeSampler{}
	m := NewMonitor(&pool{next: []*fakeSampler{first, second}}, nil)

	m.Attach("a", audio("t1"))
	m.Attach("a", audio("t2"))

	if m.Len() != 1 {
		t.Fatalf("expected exactly one live sampler, got %d", m.Len())
	}
	if first.closed != 1 || second.closed != 0 {
		t.Fatalf("close counts: first=%d second=%d", first.closed, second.closed)
	}
}

func TestAttach_AcquireFailureIsSilent(t *testing.T) {
	m := NewMonitor(&pool{}, nil)
	m.Attach("a", audio("t1"))
	if m.Has("a") {
		t.Fatalf("failed acquisition must not register a sampler")
	}
}

func TestClose_ReleasesOnce(t *testing.T) {
	s := &fakeSampler{}
	m := NewMonitor(&pool{next: []*fakeSampler{s}}, nil)
	m.Attach("a", audio("t1"))

	m.Close()
	m.Close()
	m.Release("a")
	if s.closed != 1 {
		t.Fatalf("sampler closed %d times", s.closed)
	}
	m.Attach("b", audio("t2"))
	if m.Len() != 0 {
		t.Fatalf("closed monitor must not attach")
	}
}

func TestTick_LastSpokeAtTracksMostRecentSpeakingTick(t *testing.T) {
	s := &fakeSampler{bins: constant(80)}
	m := NewMonitor(&pool{next: []*fakeSampler{s}}, nil)
	d := directory.New()
	d.Upsert("a", nil)
	m.Attach("a", audio("t1"))

	base := time.Unix(100, 0)
	var last time.Time
	for i := 0; i < 5; i++ {
		last = base.Add(time.Duration(i) * Interval)
		m.Tick(d, last)
		p, _ := d.Get("a")
		if !p.Speaking || !p.LastSpokeAt.Equal(last) {
			t.Fatalf("tick %d: speaking=%v lastSpokeAt=%v", i, p.Speaking, p.LastSpokeAt)
		}
	}

	s.bins = constant(0)
	for i := 5; i < 8; i++ {
		m.Tick(d, base.Add(time.Duration(i)*Interval))
	}
	p, _ := d.Get("a")
	if p.Speaking {
		t.Fatalf("expected silence")
	}
	if !p.LastSpokeAt.Equal(last) {
		t.Fatalf("lastSpokeAt should freeze at %v, got %v", last, p.LastSpokeAt)
	}
}

func TestTick_HysteresisSuppressesSmallChanges(t *testing.T) {
	s := &fakeSampler{bins: constant(10)} // level ~7.8, silent
	m := NewMonitor(&pool{next: []*fakeSampler{s}}, nil)
	d := directory.New()
	d.Upsert("a", nil)
	m.Attach("a", audio("t1"))

	now := time.Unix(0, 0)
	if n := m.Tick(d, now); n != 1 {
		t.Fatalf("first tick should rewrite, got %d", n)
	}
	v := d.Version()

	s.bins = constant(14) // level ~10.9, within band
	if n := m.Tick(d, now.Add(Interval)); n != 0 || d.Version() != v {
		t.Fatalf("small change should not rewrite the record")
	}

	s.bins = constant(26) // crosses the speaking threshold
	if n := m.Tick(d, now.Add(2*Interval)); n != 1 {
		t.Fatalf("speaking flip must never be suppressed")
	}
	if p, _ := d.Get("a"); !p.Speaking {
		t.Fatalf("expected speaking")
	}
}

func TestTick_SampleErrorLeavesRecord(t *testing.T) {
	s := &fakeSampler{bins: constant(90)}
	m := NewMonitor(&pool{next: []*fakeSampler{s}}, nil)
	d := directory.New()
	d.Upsert("a", nil)
	m.Attach("a", audio("t1"))
	m.Tick(d, time.Unix(1, 0))

	s.err = errors.New("context suspended")
	m.Tick(d, time.Unix(2, 0))
	p, _ := d.Get("a")
	if !p.Speaking || !p.LastSpokeAt.Equal(time.Unix(1, 0)) {
		t.Fatalf("failed sample should be treated as no data: %+v", p)
	}
}

func TestTick_WithoutSamplerDecaysToSilence(t *testing.T) {
	s := &fakeSampler{bins: constant(90)}
	m := NewMonitor(&pool{next: []*fakeSampler{s}}, nil)
	d := directory.New()
	d.Upsert("a", nil)
	m.Attach("a", audio("t1"))
	m.Tick(d, time.Unix(1, 0))

	m.Release("a")
	m.Tick(d, time.Unix(2, 0))
	p, _ := d.Get("a")
	if p.Speaking || p.AudioLevel != 0 {
		t.Fatalf("expected silence after release: %+v", p)
	}
	if !p.LastSpokeAt.Equal(time.Unix(1, 0)) {
		t.Fatalf("lastSpokeAt must be kept: %v", p.LastSpokeAt)
	}
}
