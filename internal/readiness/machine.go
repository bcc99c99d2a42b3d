// Package readiness decides, once per session, when recording may begin.
package readiness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwrk-planet/session-recorder/internal/domain"
)

const (
	TickInterval = 100 * time.Millisecond
	// AudioOnlyGrace — сессии без видео не ждут кадра, который никогда не придёт.
	AudioOnlyGrace = 500 * time.Millisecond
	DecodeTimeout  = 5000 * time.Millisecond
)

type State string

const (
	// StateIdle — комната ещё не подключена, отсчёт не идёт.
	StateIdle    State = "idle"
	StateWaiting State = "waiting"
	StateStarted State = "started"
)

type Reason string

const (
	ReasonNone         Reason = ""
	ReasonFrameDecoded Reason = "frame_decoded"
	ReasonAudioOnly    Reason = "audio_only"
	ReasonTimeout      Reason = "timeout"
)

// Observation is what one scan of the roster found.
type Observation struct {
	HasVideo      bool
	HasSubscribed bool
	HasDecoded    bool
}

// Decide applies the start rule to an observation taken elapsed after start.
func Decide(elapsed time.Duration, obs Observation) (Reason, bool) {
	switch {
	case obs.HasDecoded:
		return ReasonFrameDecoded, true
	case !obs.HasVideo && obs.HasSubscribed && elapsed > AudioOnlyGrace:
		return ReasonAudioOnly, true
	case obs.HasSubscribed && elapsed > DecodeTimeout:
		return ReasonTimeout, true
	}
	return ReasonNone, false
}

type Status struct {
	State     State         `json:"state"`
	Reason    Reason        `json:"reason,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	FiredAt   time.Time     `json:"fired_at,omitempty"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	Last      Observation   `json:"last_observation"`
}

// Machine moves Idle -> Waiting -> Started. Started is reached exactly once.
type Machine struct {
	start   time.Time
	state   State
	reason  Reason
	firedAt time.Time
	last    Observation
	ticks   int
}

// New returns a machine already counting from start.
func New(start time.Time) *Machine {
	return &Machine{start: start, state: StateWaiting}
}

// Idle returns a machine that ignores observations until Arm.
func Idle() *Machine {
	return &Machine{state: StateIdle}
}

// Arm starts the clock at now. Only the first call has effect.
func (m *Machine) Arm(now time.Time) bool {
	if m.state != StateIdle {
		return false
	}
	m.start = now
	m.state = StateWaiting
	return true
}

func (m *Machine) Armed() bool { return m.state != StateIdle }

func (m *Machine) Started() bool { return m.state == StateStarted }

// Evaluate records obs and reports true only on the transition to Started.
func (m *Machine) Evaluate(now time.Time, obs Observation) bool {
	if m.state != StateWaiting {
		return false
	}
	m.ticks++
	m.last = obs
	reason, ok := Decide(now.Sub(m.start), obs)
	if !ok {
		return false
	}
	m.state = StateStarted
	m.reason = reason
	m.firedAt = now
	return true
}

func (m *Machine) Status(now time.Time) Status {
	st := Status{
		State:     m.state,
		Reason:    m.reason,
		StartedAt: m.start,
		FiredAt:   m.firedAt,
		Last:      m.last,
		Elapsed:   now.Sub(m.start),
	}
	switch m.state {
	case StateIdle:
		st.Elapsed = 0
	case StateStarted:
		st.Elapsed = m.firedAt.Sub(m.start)
	}
	return st
}

// Observe scans the roster, skipping participants for which synthetic
// reports true. A probe that fails or panics counts as no evidence for that
// track only.
func Observe(ctx context.Context, roster domain.Roster, synthetic func(domain.ParticipantInfo) bool, log *slog.Logger) Observation {
	var obs Observation
	if roster == nil {
		return obs
	}
	if log == nil {
		log = slog.Default()
	}
	for _, p := range roster.Participants() {
		if synthetic != nil && synthetic(p.Info) {
			continue
		}
		for _, pub := range p.Publications {
			if pub.Subscribed {
				obs.HasSubscribed = true
			}
			if pub.Kind != domain.TrackKindVideo {
				continue
			}
			obs.HasVideo = true
			if obs.HasDecoded || !pub.Subscribed || pub.Stats == nil {
				continue
			}
			n, err := probe(ctx, pub.Stats)
			if err != nil {
				log.Debug("readiness stats probe failed",
					"identity", p.Info.Identity, "track", pub.SID, "err", err)
				continue
			}
			if n > 0 {
				obs.HasDecoded = true
			}
		}
	}
	return obs
}

func probe(ctx context.Context, s domain.StatsProbe) (n uint64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stats probe panic: %v", r)
		}
	}()
	return s.FramesDecoded(ctx)
}
