package session

import "github.com/cwrk-planet/session-recorder/internal/domain"

// Event is anything the media session reports. Events are applied in the
// order they were posted.
type Event interface{ isEvent() }

type ParticipantConnected struct {
	Info domain.ParticipantInfo
}

type ParticipantDisconnected struct {
	Info domain.ParticipantInfo
}

// ParticipantUpdated — изменились metadata или attributes.
type ParticipantUpdated struct {
	Info domain.ParticipantInfo
}

type TrackSubscribed struct {
	Info        domain.ParticipantInfo
	Publication domain.PublicationInfo
	Track       domain.Track
}

type TrackUnsubscribed struct {
	Info        domain.ParticipantInfo
	Publication domain.PublicationInfo
	Track       domain.Track
}

// Hydrated carries the roster as it was when the session connected. It is
// applied as a connect per participant followed by a subscribe per
// subscribed publication.
type Hydrated struct {
	Participants []domain.RemoteParticipant
}

// Disconnected ends the session loop.
type Disconnected struct {
	Reason string
}

func (ParticipantConnected) isEvent()    {}
func (ParticipantDisconnected) isEvent() {}
func (ParticipantUpdated) isEvent()      {}
func (TrackSubscribed) isEvent()         {}
func (TrackUnsubscribed) isEvent()       {}
func (Hydrated) isEvent()                {}
func (Disconnected) isEvent()            {}
