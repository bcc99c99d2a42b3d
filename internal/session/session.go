// Package session serialises media-session events and the periodic ticks
// onto a single goroutine that owns the participant directory, the audio
// monitor and the readiness machine.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cwrk-planet/session-recorder/internal/activity"
	"github.com/cwrk-planet/session-recorder/internal/directory"
	"github.com/cwrk-planet/session-recorder/internal/domain"
	"github.com/cwrk-planet/session-recorder/internal/identity"
	"github.com/cwrk-planet/session-recorder/internal/presentation"
	"github.com/cwrk-planet/session-recorder/internal/readiness"
	"github.com/cwrk-planet/session-recorder/internal/recording"
)

const (
	DiagInterval = 4000 * time.Millisecond

	eventBuffer  = 256
	probeTimeout = 250 * time.Millisecond
	endTimeout   = 2 * time.Second
)

type Options struct {
	ID       string
	Roster   domain.Roster
	Sampler  activity.Acquirer
	Signaler recording.Signaler
	Policy   presentation.Policy
	Clock    func() time.Time
	Logger   *slog.Logger
}

type Session struct {
	id     string
	roster domain.Roster
	policy presentation.Policy
	now    func() time.Time
	log    *slog.Logger
	signal *recording.Once

	events chan Event
	stop   chan struct{}
	done   chan struct{}

	// принадлежат циклу Run
	dir         *directory.Directory
	mon         *activity.Monitor
	ready       *readiness.Machine
	lastVersion uint64
	lastReady   readiness.State

	state atomic.Pointer[State]

	obsMu     sync.RWMutex
	observers []Observer

	running   atomic.Bool
	stopOnce  sync.Once
	closeOnce sync.Once
}

func New(opts Options) *Session {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Signaler == nil {
		opts.Signaler = recording.Multi{}
	}
	log := opts.Logger.With(slog.String("session_id", opts.ID))

	s := &Session{
		id:     opts.ID,
		roster: opts.Roster,
		policy: opts.Policy,
		now:    opts.Clock,
		log:    log,
		signal: recording.NewOnce(opts.Signaler),
		events: make(chan Event, eventBuffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		mon:    activity.NewMonitor(opts.Sampler, log),
		ready:  readiness.Idle(),
	}
	s.dir = directory.New(
		directory.WithClock(opts.Clock),
		directory.WithRemoveHook(s.mon.Release),
	)
	s.lastReady = readiness.StateIdle
	return s
}

func (s *Session) ID() string { return s.id }

// State returns the latest published state. It is nil until the first
// batch of room events has been applied.
func (s *Session) State() *State { return s.state.Load() }

func (s *Session) Subscribe(o Observer) {
	s.obsMu.Lock()
	s.observers = append(s.observers, o)
	s.obsMu.Unlock()
}

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Post queues e for the session loop. It blocks while the queue is full and
// fails with ErrSessionClosed after teardown.
func (s *Session) Post(e Event) error {
	select {
	case <-s.done:
		return domain.ErrSessionClosed
	default:
	}
	select {
	case s.events <- e:
		return nil
	case <-s.done:
		return domain.ErrSessionClosed
	}
}

// Run drives the session until ctx is cancelled or a Disconnected event
// arrives. Teardown happens before Run returns.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return domain.ErrAlreadyStarted
	}
	defer s.teardown()

	audio := time.NewTicker(activity.Interval)
	defer audio.Stop()
	diag := time.NewTicker(DiagInterval)
	defer diag.Stop()
	readyTimer := time.NewTimer(readiness.TickInterval)
	defer readyTimer.Stop()
	readyC := readyTimer.C

	s.log.Info("session loop started", slog.String("policy", s.policy.String()))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("session loop stopped", slog.Any("reason", ctx.Err()))
			return nil
		case <-s.stop:
			return nil

		case e := <-s.events:
			if s.dispatch(ctx, e) {
				return nil
			}
			// забираем всё, что уже лежит в очереди, и публикуем один раз
			for drained := false; !drained; {
				select {
				case e := <-s.events:
					if s.dispatch(ctx, e) {
						return nil
					}
				default:
					drained = true
				}
			}
			s.publish()

		case <-audio.C:
			if s.mon.Tick(s.dir, s.now()) > 0 {
				s.publish()
			}

		case <-readyC:
			if s.readinessTick(ctx) {
				readyTimer.Reset(readiness.TickInterval)
			} else {
				readyC = nil
			}
			s.publish()

		case <-diag.C:
			s.diagnostics()
		}
	}
}

// Close stops the loop and waits for teardown. A session that never ran is
// torn down in place.
func (s *Session) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.running.CompareAndSwap(false, true) {
		s.teardown()
	}
	<-s.done
}

// teardown runs once: samplers are released, the end marker is sent and
// Post starts failing.
func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mon.Close()

		ctx, cancel := context.WithTimeout(context.Background(), endTimeout)
		defer cancel()
		if err := s.signal.EndRecording(ctx); err != nil {
			s.log.Error("end recording signal failed", slog.Any("err", err))
		}
		s.notify(Notification{Kind: KindRecordingEnded})
		s.log.Info("session closed")
	})
}

// dispatch applies one event. It reports true when the session must stop.
func (s *Session) dispatch(ctx context.Context, e Event) bool {
	if _, ok := e.(Disconnected); !ok {
		s.arm()
	}
	switch e := e.(type) {
	case ParticipantConnected:
		s.connect(e.Info)
	case ParticipantDisconnected:
		s.disconnect(e.Info)
	case ParticipantUpdated:
		s.update(e.Info)
	case TrackSubscribed:
		s.subscribe(e.Info, e.Publication, e.Track)
	case TrackUnsubscribed:
		s.unsubscribe(e.Info, e.Publication)
	case Hydrated:
		s.hydrate(e.Participants)
	case Disconnected:
		s.log.Info("media session disconnected", slog.String("reason", e.Reason))
		return true
	default:
		s.log.Warn("unknown session event", slog.Any("event", e))
	}
	return false
}

func (s *Session) connect(info domain.ParticipantInfo) {
	res := identity.Resolve(info)
	if res.Synthetic {
		s.log.Debug("skipping recorder", slog.String("identity", info.Identity))
		s.dir.Remove(info.Identity)
		return
	}

	_, existed := s.dir.Get(info.Identity)
	p, _ := s.dir.Upsert(info.Identity, func(p domain.Participant) domain.Participant {
		p.DisplayName = res.DisplayName
		p.Role = res.Role
		return p
	})
	if existed {
		return
	}
	s.log.Info("participant added",
		slog.String("identity", p.Identity),
		slog.String("name", p.DisplayName),
		slog.String("role", string(p.Role)))
	s.notify(Notification{Kind: KindJoin, Identity: p.Identity, DisplayName: p.DisplayName, Role: p.Role})
}

func (s *Session) disconnect(info domain.ParticipantInfo) {
	p, ok := s.dir.Get(info.Identity)
	if !ok || !s.dir.Remove(info.Identity) {
		return
	}
	s.log.Info("participant removed", slog.String("identity", p.Identity))
	s.notify(Notification{Kind: KindLeave, Identity: p.Identity, DisplayName: p.DisplayName, Role: p.Role})
}

func (s *Session) update(info domain.ParticipantInfo) {
	res := identity.Resolve(info)
	if res.Synthetic {
		if s.dir.Remove(info.Identity) {
			s.log.Info("participant reclassified as recorder", slog.String("identity", info.Identity))
		}
		return
	}
	if _, ok := s.dir.Get(info.Identity); !ok {
		s.connect(info)
		return
	}
	s.dir.Upsert(info.Identity, func(p domain.Participant) domain.Participant {
		p.DisplayName = res.DisplayName
		p.Role = res.Role
		return p
	})
}

// ensure returns false for synthetic participants. Unknown identities get a
// freshly resolved record.
func (s *Session) ensure(info domain.ParticipantInfo) bool {
	if identity.IsSynthetic(info) {
		return false
	}
	if _, ok := s.dir.Get(info.Identity); !ok {
		s.log.Debug("track event for unknown participant", slog.String("identity", info.Identity))
		s.connect(info)
	}
	return true
}

func (s *Session) subscribe(info domain.ParticipantInfo, pub domain.PublicationInfo, track domain.Track) {
	if track == nil || !s.ensure(info) {
		return
	}
	kind := pub.Kind
	if kind == "" {
		kind = track.Kind()
	}
	s.dir.Upsert(info.Identity, func(p domain.Participant) domain.Participant {
		switch kind {
		case domain.TrackKindVideo:
			p.VideoTrack = track
		case domain.TrackKindAudio:
			p.AudioTrack = track
		}
		return p
	})
	if kind == domain.TrackKindAudio {
		s.mon.Attach(info.Identity, track)
	}
	s.log.Debug("track subscribed",
		slog.String("identity", info.Identity),
		slog.String("kind", string(kind)),
		slog.String("track", pub.SID))
}

func (s *Session) unsubscribe(info domain.ParticipantInfo, pub domain.PublicationInfo) {
	if !s.ensure(info) {
		return
	}
	released := false
	s.dir.Upsert(info.Identity, func(p domain.Participant) domain.Participant {
		switch pub.Kind {
		case domain.TrackKindVideo:
			if matches(p.VideoTrack, pub.SID) {
				p.VideoTrack = nil
			}
		case domain.TrackKindAudio:
			if matches(p.AudioTrack, pub.SID) {
				p.AudioTrack = nil
				p.Speaking = false
				p.AudioLevel = 0
				released = true
			}
		}
		return p
	})
	if released {
		s.mon.Release(info.Identity)
	}
	s.log.Debug("track unsubscribed",
		slog.String("identity", info.Identity),
		slog.String("kind", string(pub.Kind)),
		slog.String("track", pub.SID))
}

// matches — пустой SID снимает любой трек этого вида.
func matches(t domain.Track, sid string) bool {
	return t != nil && (sid == "" || t.SID() == sid)
}

func (s *Session) hydrate(ps []domain.RemoteParticipant) {
	for _, rp := range ps {
		s.connect(rp.Info)
		for _, pub := range rp.Publications {
			if pub.Subscribed && pub.Track != nil {
				s.subscribe(rp.Info, pub.PublicationInfo, pub.Track)
			}
		}
	}
	s.log.Info("roster hydrated", slog.Int("participants", s.dir.Len()))
}

// arm starts the readiness clock on the first event from the room. Connect
// latency does not count against the readiness waits.
func (s *Session) arm() {
	if s.ready.Arm(s.now()) {
		s.log.Debug("readiness armed")
	}
}

// readinessTick reports whether the timer must be re-armed.
func (s *Session) readinessTick(ctx context.Context) bool {
	if s.ready.Started() {
		return false
	}
	if !s.ready.Armed() {
		return true
	}
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	obs := readiness.Observe(pctx, s.roster, identity.IsSynthetic, s.log)
	cancel()

	now := s.now()
	if !s.ready.Evaluate(now, obs) {
		s.log.Debug("readiness check",
			slog.Bool("has_video", obs.HasVideo),
			slog.Bool("has_subscribed", obs.HasSubscribed),
			slog.Bool("has_decoded", obs.HasDecoded))
		return true
	}

	st := s.ready.Status(now)
	s.log.Info("recording ready",
		slog.String("reason", string(st.Reason)),
		slog.Duration("elapsed", st.Elapsed))
	if err := s.signal.BeginRecording(ctx); err != nil {
		s.log.Error("begin recording signal failed", slog.Any("err", err))
	}
	s.notify(Notification{Kind: KindRecordingStarted, Reason: string(st.Reason)})
	return false
}

func (s *Session) diagnostics() {
	st := s.State()
	if st == nil {
		s.log.Info("diag snapshot", slog.String("readiness", string(readiness.StateIdle)))
		return
	}
	main := ""
	if st.View.Main != nil {
		main = st.View.Main.Identity
	}
	s.log.Info("diag snapshot",
		slog.Int("participants", len(st.Participants)),
		slog.Int("samplers", s.mon.Len()),
		slog.String("readiness", string(st.Readiness.State)),
		slog.String("main_stage", main),
		slog.Int("co_host_video", len(st.View.CoHostVideo)),
		slog.Int("others", len(st.View.Others)),
		slog.Int("remaining", st.View.Remaining))
}

// publish stores a new State when something observable changed.
func (s *Session) publish() {
	v := s.dir.Version()
	rs := s.ready.Status(s.now()).State
	if v == s.lastVersion && rs == s.lastReady {
		return
	}
	s.lastVersion, s.lastReady = v, rs
	st := s.storeState()

	s.obsMu.RLock()
	defer s.obsMu.RUnlock()
	for _, o := range s.observers {
		o.StateChanged(st)
	}
}

func (s *Session) storeState() *State {
	now := s.now()
	snap := s.dir.Snapshot()
	st := &State{
		SessionID:    s.id,
		Version:      s.dir.Version(),
		Participants: snap,
		View:         presentation.Derive(snap, s.policy),
		Readiness:    s.ready.Status(now),
		UpdatedAt:    now,
	}
	s.state.Store(st)
	return st
}

func (s *Session) notify(n Notification) {
	n.ID = uuid.New()
	n.SessionID = s.id
	if n.At.IsZero() {
		n.At = s.now()
	}
	s.obsMu.RLock()
	defer s.obsMu.RUnlock()
	for _, o := range s.observers {
		o.Notify(n)
	}
}
