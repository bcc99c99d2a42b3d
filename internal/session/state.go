package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/cwrk-planet/session-recorder/internal/domain"
	"github.com/cwrk-planet/session-recorder/internal/presentation"
	"github.com/cwrk-planet/session-recorder/internal/readiness"
)

// State is an immutable point-in-time view published after every batch.
// Consumers must not modify it.
type State struct {
	SessionID    string
	Version      uint64
	Participants []domain.Participant
	View         presentation.View
	Readiness    readiness.Status
	UpdatedAt    time.Time
}

type NotificationKind string

const (
	KindJoin             NotificationKind = "join"
	KindLeave            NotificationKind = "leave"
	KindRecordingStarted NotificationKind = "recording_started"
	KindRecordingEnded   NotificationKind = "recording_ended"
)

type Notification struct {
	ID          uuid.UUID
	SessionID   string
	Kind        NotificationKind
	Identity    string
	DisplayName string
	Role        domain.Role
	Reason      string
	At          time.Time
}

// Observer is called from the session loop and must not block.
type Observer interface {
	StateChanged(st *State)
	Notify(n Notification)
}
