package domain

type (
	RoomID  string
	GroupID string
)

// ConnectionState is owned by the signaling channel; Session mirrors it read-only.
type ConnectionState int

const (
	ConnIdle ConnectionState = iota
	ConnConnecting
	ConnConnected
	ConnReconnecting
	ConnDisconnected
	ConnFailed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnIdle:
		return "idle"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnReconnecting:
		return "reconnecting"
	case ConnDisconnected:
		return "disconnected"
	case ConnFailed:
		return "failed"
	}
	return "unknown"
}

// Session is the one live room membership of this client.
// Exactly one Session is live per coordinator instance.
type Session struct {
	RoomID          RoomID          `json:"roomId"`
	GroupID         GroupID         `json:"groupId"`
	ConnectionState ConnectionState `json:"connectionState"`
	LocalMute       bool            `json:"localMute"`
	LocalVolume     float64         `json:"localVolume"`
}

// BackoffState tracks reconnection attempts.
// Reset to zero on every successful connect.
type BackoffState struct {
	Attempt     int `json:"attempt"`
	MaxAttempts int `json:"maxAttempts"`
}
