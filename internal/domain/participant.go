package domain

import "time"

type Role string

const (
	RoleHost        Role = "host"
	RoleCoHost      Role = "coHost"
	RoleParticipant Role = "participant"
)

// ParseRole принимает только закрытый набор ролей.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleHost, RoleCoHost, RoleParticipant:
		return Role(s), true
	}
	return "", false
}

// Participant — запись каталога для одного реального (не синтетического) участника.
// Треки принадлежат медиа-сессии, запись хранит только ссылку.
type Participant struct {
	Identity    string
	DisplayName string
	Role        Role
	VideoTrack  Track
	AudioTrack  Track
	Speaking    bool
	AudioLevel  float64 // 0..100
	LastSpokeAt time.Time
	JoinedAt    time.Time
	IsRecorder  bool
}

func (p Participant) HasVideo() bool { return p.VideoTrack != nil }
func (p Participant) HasAudio() bool { return p.AudioTrack != nil }
func (p Participant) HasMedia() bool { return p.HasVideo() || p.HasAudio() }
