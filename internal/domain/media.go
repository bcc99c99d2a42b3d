package domain

import "context"

type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// Track is an opaque handle owned by the media session.
type Track interface {
	SID() string
	Kind() TrackKind
}

// ParticipantInfo is what the media session tells us about a participant
// at the moment of an event.
type ParticipantInfo struct {
	Identity   string
	Metadata   string
	Attributes map[string]string
	// Agent is set when the session itself marks the participant as an
	// egress/recording agent.
	Agent bool
}

type PublicationInfo struct {
	SID        string
	Kind       TrackKind
	Subscribed bool
}

// StatsProbe reports delivery statistics of a subscribed video track.
type StatsProbe interface {
	FramesDecoded(ctx context.Context) (uint64, error)
}

type RemotePublication struct {
	PublicationInfo
	Track Track      // nil while not subscribed
	Stats StatsProbe // nil when the session cannot provide stats
}

type RemoteParticipant struct {
	Info         ParticipantInfo
	Publications []RemotePublication
}

// Roster is a synchronous enumeration of the participants currently present.
type Roster interface {
	Participants() []RemoteParticipant
}
