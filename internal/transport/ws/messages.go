package ws

import "github.com/cwrk-planet/session-recorder/internal/transport/dto"

// Типы событий, которые уходят в WS
const (
	TypeState            = "state"             // снапшот сессии
	TypePeerJoined       = "peer_joined"       // участник подключился
	TypePeerLeft         = "peer_left"         // участник вышел
	TypeRecordingStarted = "recording_started" // сработала готовность
	TypeRecordingEnded   = "recording_ended"   // сессия закрыта
)

type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type StatePayload = dto.State

type PeerEventPayload struct {
	SessionID   string `json:"session_id"`
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	TSUnix      int64  `json:"ts_unix"`
}

type RecordingPayload struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
	TSUnix    int64  `json:"ts_unix"`
}
