// Package dto is the JSON shape of session state shared by the HTTP and WS
// surfaces.
package dto

import (
	"time"

	"github.com/cwrk-planet/session-recorder/internal/domain"
	"github.com/cwrk-planet/session-recorder/internal/postgres"
	"github.com/cwrk-planet/session-recorder/internal/presentation"
	"github.com/cwrk-planet/session-recorder/internal/readiness"
	"github.com/cwrk-planet/session-recorder/internal/session"
)

type Participant struct {
	Identity    string  `json:"identity"`
	DisplayName string  `json:"display_name"`
	Initials    string  `json:"initials"`
	Role        string  `json:"role"`
	HasVideo    bool    `json:"has_video"`
	HasAudio    bool    `json:"has_audio"`
	Speaking    bool    `json:"speaking"`
	AudioLevel  float64 `json:"audio_level"`
	LastSpokeAt int64   `json:"last_spoke_at_unix_ms,omitempty"`
	JoinedAt    int64   `json:"joined_at_unix_ms"`
}

type View struct {
	Main        *Participant        `json:"main,omitempty"`
	Waiting     bool                `json:"waiting"`
	CoHostVideo []Participant       `json:"co_host_video"`
	Others      []Participant       `json:"others"`
	Remaining   int                 `json:"remaining"`
	Layout      presentation.Layout `json:"layout"`
	Total       int                 `json:"total"`
}

type Readiness struct {
	State     string     `json:"state"`
	Reason    string     `json:"reason,omitempty"`
	ElapsedMS int64      `json:"elapsed_ms"`
	StartedAt time.Time  `json:"started_at"`
	FiredAt   *time.Time `json:"fired_at,omitempty"`

	HasVideo      bool `json:"has_video"`
	HasSubscribed bool `json:"has_subscribed"`
	HasDecoded    bool `json:"has_decoded"`
}

type State struct {
	SessionID    string        `json:"session_id"`
	Version      uint64        `json:"version"`
	Participants []Participant `json:"participants"`
	View         View          `json:"view"`
	Readiness    Readiness     `json:"readiness"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

func FromParticipant(p domain.Participant) Participant {
	out := Participant{
		Identity:    p.Identity,
		DisplayName: p.DisplayName,
		Initials:    presentation.Initials(p.DisplayName),
		Role:        string(p.Role),
		HasVideo:    p.HasVideo(),
		HasAudio:    p.HasAudio(),
		Speaking:    p.Speaking,
		AudioLevel:  p.AudioLevel,
		JoinedAt:    p.JoinedAt.UnixMilli(),
	}
	if !p.LastSpokeAt.IsZero() {
		out.LastSpokeAt = p.LastSpokeAt.UnixMilli()
	}
	return out
}

func FromParticipants(ps []domain.Participant) []Participant {
	out := make([]Participant, len(ps))
	for i, p := range ps {
		out[i] = FromParticipant(p)
	}
	return out
}

func FromView(v presentation.View) View {
	out := View{
		Waiting:     v.Waiting(),
		CoHostVideo: FromParticipants(v.CoHostVideo),
		Others:      FromParticipants(v.Others),
		Remaining:   v.Remaining,
		Layout:      v.Layout,
		Total:       v.Total,
	}
	if v.Main != nil {
		m := FromParticipant(*v.Main)
		out.Main = &m
	}
	return out
}

func FromReadiness(s readiness.Status) Readiness {
	out := Readiness{
		State:         string(s.State),
		Reason:        string(s.Reason),
		ElapsedMS:     s.Elapsed.Milliseconds(),
		StartedAt:     s.StartedAt,
		HasVideo:      s.Last.HasVideo,
		HasSubscribed: s.Last.HasSubscribed,
		HasDecoded:    s.Last.HasDecoded,
	}
	if !s.FiredAt.IsZero() {
		at := s.FiredAt
		out.FiredAt = &at
	}
	return out
}

func FromState(st *session.State) State {
	return State{
		SessionID:    st.SessionID,
		Version:      st.Version,
		Participants: FromParticipants(st.Participants),
		View:         FromView(st.View),
		Readiness:    FromReadiness(st.Readiness),
		UpdatedAt:    st.UpdatedAt,
	}
}

type JournalEntry struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Identity    string    `json:"identity,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Role        string    `json:"role,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}

func FromEntries(es []postgres.Entry) []JournalEntry {
	out := make([]JournalEntry, 0, len(es))
	for _, e := range es {
		out = append(out, JournalEntry{
			ID:          e.ID,
			Kind:        e.Kind,
			Identity:    e.Identity,
			DisplayName: e.DisplayName,
			Role:        e.Role,
			Reason:      e.Reason,
			At:          e.At,
		})
	}
	return out
}
