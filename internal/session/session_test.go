package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/session-recorder/internal/activity"
	"github.com/cwrk-planet/session-recorder/internal/domain"
	"github.com/cwrk-planet/session-recorder/internal/presentation"
	"github.com/cwrk-planet/session-recorder/internal/readiness"
)

type fakeTrack struct {
	sid  string
	kind domain.TrackKind
}

func (t fakeTrack) SID() string            { return t.sid }
func (t fakeTrack) Kind() domain.TrackKind { return t.kind }

type fakeSampler struct {
	mu     sync.Mutex
	bins   []byte
	closed int
}

func (s *fakeSampler) Sample() ([]byte, error) { return s.bins, nil }
func (s *fakeSampler) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

type samplers struct {
	mu  sync.Mutex
	all []*fakeSampler
}

func (a *samplers) Acquire(string, domain.Track) (activity.Sampler, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := &fakeSampler{bins: []byte{100, 100, 100}}
	a.all = append(a.all, s)
	return s, nil
}

type signaler struct {
	mu           sync.Mutex
	begins, ends int
}

func (s *signaler) BeginRecording(context.Context) error {
	s.mu.Lock()
	s.begins++
	s.mu.Unlock()
	return nil
}

func (s *signaler) EndRecording(context.Context) error {
	s.mu.Lock()
	s.ends++
	s.mu.Unlock()
	return nil
}

func (s *signaler) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begins, s.ends
}

type roster []domain.RemoteParticipant

func (r roster) Participants() []domain.RemoteParticipant { return r }

type frames uint64

func (f frames) FramesDecoded(context.Context) (uint64, error) { return uint64(f), nil }

type observer struct {
	mu     sync.Mutex
	states int
	notes  []Notification
}

func (o *observer) StateChanged(*State) {
	o.mu.Lock()
	o.states++
	o.mu.Unlock()
}

func (o *observer) Notify(n Notification) {
	o.mu.Lock()
	o.notes = append(o.notes, n)
	o.mu.Unlock()
}

func (o *observer) kinds() []NotificationKind {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]NotificationKind, len(o.notes))
	for i, n := range o.notes {
		out[i] = n.Kind
	}
	return out
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time      { return c.t }
func (c *clock) add(d time.Duration) { c.t = c.t.Add(d) }

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestSession(t *testing.T, r domain.Roster) (*Session, *clock, *samplers, *signaler) {
	t.Helper()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	a := &samplers{}
	sig := &signaler{}
	s := New(Options{
		ID:       "test",
		Roster:   r,
		Sampler:  a,
		Signaler: sig,
		Policy:   presentation.HostOnly,
		Clock:    c.now,
		Logger:   quiet(),
	})
	return s, c, a, sig
}

func info(id, metadata string) domain.ParticipantInfo {
	return domain.ParticipantInfo{Identity: id, Metadata: metadata}
}

func TestConnectSkipsRecorderAndNotifiesJoin(t *testing.T) {
	s, _, _, _ := newTestSession(t, nil)
	obs := &observer{}
	s.Subscribe(obs)
	ctx := context.Background()

	s.dispatch(ctx, ParticipantConnected{Info: info("egress-123", "")})
	s.dispatch(ctx, ParticipantConnected{Info: domain.ParticipantInfo{Identity: "bot", Agent: true}})
	s.dispatch(ctx, ParticipantConnected{Info: info("ada", `{"displayName":"Ada","role":"host"}`)})
	s.dispatch(ctx, ParticipantConnected{Info: info("ada", `{"displayName":"Ada","role":"host"}`)})

	if s.dir.Len() != 1 {
		t.Fatalf("directory len = %d, want 1", s.dir.Len())
	}
	p, ok := s.dir.Get("ada")
	if !ok || p.DisplayName != "Ada" || p.Role != domain.RoleHost {
		t.Fatalf("record = %+v", p)
	}
	if k := obs.kinds(); len(k) != 1 || k[0] != KindJoin {
		t.Fatalf("notifications = %v", k)
	}
}

func TestTrackEventForUnknownParticipant(t *testing.T) {
	s, _, a, _ := newTestSession(t, nil)
	ctx := context.Background()

	s.dispatch(ctx, TrackSubscribed{
		Info:        info("bob", `{"name":"Bob"}`),
		Publication: domain.PublicationInfo{SID: "TR_a", Kind: domain.TrackKindAudio, Subscribed: true},
		Track:       fakeTrack{sid: "TR_a", kind: domain.TrackKindAudio},
	})

	p, ok := s.dir.Get("bob")
	if !ok {
		t.Fatalf("record was not synthesized")
	}
	if p.DisplayName != "Bob" || !p.HasAudio() {
		t.Fatalf("record = %+v", p)
	}
	if !s.mon.Has("bob") || len(a.all) != 1 {
		t.Fatalf("sampler not attached")
	}
}

func TestRecorderTracksIgnored(t *testing.T) {
	s, _, a, _ := newTestSession(t, nil)
	s.dispatch(context.Background(), TrackSubscribed{
		Info:        info("recorder-1", ""),
		Publication: domain.PublicationInfo{SID: "TR_v", Kind: domain.TrackKindVideo},
		Track:       fakeTrack{sid: "TR_v", kind: domain.TrackKindVideo},
	})
	if s.dir.Len() != 0 || len(a.all) != 0 {
		t.Fatalf("recorder must be ignored: len=%d samplers=%d", s.dir.Len(), len(a.all))
	}
}

func TestSamplerLifecycle(t *testing.T) {
	s, _, a, _ := newTestSession(t, nil)
	ctx := context.Background()
	sub := func(sid string) {
		s.dispatch(ctx, TrackSubscribed{
			Info:        info("c", ""),
			Publication: domain.PublicationInfo{SID: sid, Kind: domain.TrackKindAudio, Subscribed: true},
			Track:       fakeTrack{sid: sid, kind: domain.TrackKindAudio},
		})
	}
	sub("TR_1")
	sub("TR_2")
	if len(a.all) != 2 || a.all[0].closed != 1 || s.mon.Len() != 1 {
		t.Fatalf("replacement must release the previous sampler")
	}

	// устаревший unsubscribe не трогает текущий трек
	s.dispatch(ctx, TrackUnsubscribed{
		Info:        info("c", ""),
		Publication: domain.PublicationInfo{SID: "TR_1", Kind: domain.TrackKindAudio},
	})
	if p, _ := s.dir.Get("c"); !p.HasAudio() || !s.mon.Has("c") {
		t.Fatalf("stale unsubscribe removed the live track")
	}

	s.dispatch(ctx, ParticipantDisconnected{Info: info("c", "")})
	if s.dir.Len() != 0 || s.mon.Len() != 0 || a.all[1].closed != 1 {
		t.Fatalf("disconnect must release the sampler exactly once")
	}

	s.Close()
	s.Close()
	for i, sm := range a.all {
		if sm.closed != 1 {
			t.Fatalf("sampler %d closed %d times", i, sm.closed)
		}
	}
}

func TestHydrationMatchesReplay(t *testing.T) {
	r := roster{
		{
			Info: info("host", `{"role":"host","name":"H"}`),
			Publications: []domain.RemotePublication{
				{PublicationInfo: domain.PublicationInfo{SID: "v1", Kind: domain.TrackKindVideo, Subscribed: true}, Track: fakeTrack{"v1", domain.TrackKindVideo}},
				{PublicationInfo: domain.PublicationInfo{SID: "a1", Kind: domain.TrackKindAudio, Subscribed: true}, Track: fakeTrack{"a1", domain.TrackKindAudio}},
			},
		},
		{Info: info("egress-x", "")},
		{
			Info: info("guest", ""),
			Publications: []domain.RemotePublication{
				{PublicationInfo: domain.PublicationInfo{SID: "a2", Kind: domain.TrackKindAudio, Subscribed: false}},
			},
		},
	}
	ctx := context.Background()

	hydrated, _, ha, _ := newTestSession(t, r)
	hydrated.dispatch(ctx, Hydrated{Participants: r})

	replayed, _, ra, _ := newTestSession(t, r)
	for _, rp := range r {
		replayed.dispatch(ctx, ParticipantConnected{Info: rp.Info})
		for _, pub := range rp.Publications {
			if pub.Subscribed {
				replayed.dispatch(ctx, TrackSubscribed{Info: rp.Info, Publication: pub.PublicationInfo, Track: pub.Track})
			}
		}
	}

	a, b := hydrated.dir.Snapshot(), replayed.dir.Snapshot()
	if len(a) != len(b) || len(a) != 2 {
		t.Fatalf("snapshots differ in size: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Identity != b[i].Identity || a[i].Role != b[i].Role ||
			a[i].DisplayName != b[i].DisplayName ||
			a[i].HasVideo() != b[i].HasVideo() || a[i].HasAudio() != b[i].HasAudio() {
			t.Fatalf("record %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
	if len(ha.all) != len(ra.all) {
		t.Fatalf("samplers: %d vs %d", len(ha.all), len(ra.all))
	}
}

func TestReadinessFiresOnce(t *testing.T) {
	r := roster{{
		Info: info("ada", ""),
		Publications: []domain.RemotePublication{{
			PublicationInfo: domain.PublicationInfo{SID: "v", Kind: domain.TrackKindVideo, Subscribed: true},
			Stats:           frames(1),
		}},
	}}
	s, c, _, sig := newTestSession(t, r)
	obs := &observer{}
	s.Subscribe(obs)
	ctx := context.Background()
	s.dispatch(ctx, Hydrated{Participants: r})

	c.add(readiness.TickInterval)
	if rearm := s.readinessTick(ctx); rearm {
		t.Fatalf("timer must not be re-armed after start")
	}
	if rearm := s.readinessTick(ctx); rearm {
		t.Fatalf("started machine must stay idle")
	}
	if b, _ := sig.counts(); b != 1 {
		t.Fatalf("begin signals = %d, want 1", b)
	}
	s.publish()
	st := s.State()
	if st.Readiness.State != readiness.StateStarted || st.Readiness.Reason != readiness.ReasonFrameDecoded {
		t.Fatalf("readiness = %+v", st.Readiness)
	}
	if k := obs.kinds(); len(k) != 1 || k[0] != KindRecordingStarted {
		t.Fatalf("notifications = %v", k)
	}
}

func TestReadinessAudioOnlyAfterGrace(t *testing.T) {
	r := roster{{
		Info: info("ada", ""),
		Publications: []domain.RemotePublication{{
			PublicationInfo: domain.PublicationInfo{SID: "a", Kind: domain.TrackKindAudio, Subscribed: true},
		}},
	}}
	s, c, _, sig := newTestSession(t, r)
	ctx := context.Background()
	s.dispatch(ctx, Hydrated{Participants: r})

	var firedAt time.Duration
	for elapsed := readiness.TickInterval; elapsed <= time.Second; elapsed += readiness.TickInterval {
		c.add(readiness.TickInterval)
		if !s.readinessTick(ctx) {
			firedAt = elapsed
			break
		}
	}
	if firedAt != 600*time.Millisecond {
		t.Fatalf("fired at %v, want first tick after 500ms", firedAt)
	}
	if b, _ := sig.counts(); b != 1 {
		t.Fatalf("begin signals = %d", b)
	}
}

func TestReadinessCountsFromRoomConnect(t *testing.T) {
	r := roster{{
		Info: info("ada", ""),
		Publications: []domain.RemotePublication{{
			PublicationInfo: domain.PublicationInfo{SID: "v", Kind: domain.TrackKindVideo, Subscribed: true},
			Stats:           frames(0),
		}},
	}}
	s, c, _, sig := newTestSession(t, r)
	ctx := context.Background()

	// подключение к комнате заняло 6s
	for i := 0; i < 60; i++ {
		c.add(readiness.TickInterval)
		if !s.readinessTick(ctx) {
			t.Fatalf("tick before connect must keep the timer armed")
		}
	}
	if st := s.State(); st != nil {
		t.Fatalf("state published before connect: %+v", st.Readiness)
	}

	s.dispatch(ctx, Hydrated{Participants: r})
	connected := c.now()
	var firedAt time.Duration
	for firedAt == 0 && c.now().Sub(connected) < 10*time.Second {
		c.add(readiness.TickInterval)
		if !s.readinessTick(ctx) {
			firedAt = c.now().Sub(connected)
		}
	}
	if firedAt <= readiness.DecodeTimeout || firedAt > readiness.DecodeTimeout+readiness.TickInterval {
		t.Fatalf("fired %v after connect, want just past %v", firedAt, readiness.DecodeTimeout)
	}
	if b, _ := sig.counts(); b != 1 {
		t.Fatalf("begin signals = %d, want 1", b)
	}
	s.publish()
	if st := s.State().Readiness; st.Reason != readiness.ReasonTimeout || !st.StartedAt.Equal(connected) {
		t.Fatalf("readiness = %+v", st)
	}
}

func TestPublishDerivesView(t *testing.T) {
	s, _, _, _ := newTestSession(t, nil)
	obs := &observer{}
	s.Subscribe(obs)
	ctx := context.Background()

	s.dispatch(ctx, ParticipantConnected{Info: domain.ParticipantInfo{Identity: "h", Attributes: map[string]string{"role": "host"}}})
	s.dispatch(ctx, ParticipantConnected{Info: info("p", "")})
	s.publish()
	s.publish()

	st := s.State()
	if st.View.Main == nil || st.View.Main.Identity != "h" {
		t.Fatalf("main = %+v", st.View.Main)
	}
	if len(st.View.Others) != 1 || st.View.Others[0].Identity != "p" {
		t.Fatalf("others = %+v", st.View.Others)
	}
	if obs.states != 1 {
		t.Fatalf("unchanged state must not be re-published: %d", obs.states)
	}
}

func TestCloseEndsOnceAndRejectsPosts(t *testing.T) {
	s, _, _, sig := newTestSession(t, nil)
	s.Close()
	s.Close()
	if _, e := sig.counts(); e != 1 {
		t.Fatalf("end signals = %d, want 1", e)
	}
	if err := s.Post(ParticipantConnected{Info: info("x", "")}); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("post after close: %v", err)
	}
	if err := s.Run(context.Background()); !errors.Is(err, domain.ErrAlreadyStarted) {
		t.Fatalf("run after close: %v", err)
	}
}

func TestRunStopsOnDisconnect(t *testing.T) {
	sig := &signaler{}
	s := New(Options{Signaler: sig, Sampler: &samplers{}, Logger: quiet()})

	errc := make(chan error, 1)
	go func() { errc <- s.Run(context.Background()) }()

	if err := s.Post(ParticipantConnected{Info: info("ada", "")}); err != nil {
		t.Fatalf("post: %v", err)
	}
	if err := s.Post(Disconnected{Reason: "room closed"}); err != nil {
		t.Fatalf("post: %v", err)
	}

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not stop")
	}
	<-s.Done()
	if b, e := sig.counts(); b != 0 || e != 1 {
		t.Fatalf("begins=%d ends=%d", b, e)
	}
}
