package core

import (
	"context"
	"encoding/json"

	"github.com/openroom/voiceclient/internal/domain"
)

type EventName string

// Room-scoped signaling events. The channel routes payloads verbatim and never
// interprets them.
const (
	EventJoinRoom         EventName = "join-room"
	EventLeaveRoom        EventName = "leave-room"
	EventUserJoined       EventName = "user-joined"
	EventUserLeft         EventName = "user-left"
	EventUserSpeaking     EventName = "user-speaking"
	EventUserStoppedSpeak EventName = "user-stopped-speaking"
	EventUserMuteChanged  EventName = "user-mute-changed"
	EventRecordingStarted EventName = "recording-started"
	EventRecordingStopped EventName = "recording-stopped"
	EventAuthSuccess      EventName = "auth-success"
	EventAuthError        EventName = "auth-error"
	EventConnectError     EventName = "connect_error"
	EventError            EventName = "error"
)

// Envelope is the wire format of one signaling event.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler receives the raw payload of one inbound event. Handlers must be
// idempotent-safe: redelivery after a reconnect is possible.
type Handler func(payload json.RawMessage)

// SubID identifies one registered handler for removal.
type SubID int

type Credentials struct {
	Token  string
	UserID domain.UserID
}

// SignalingChannel is one logical, always-eventually-connected event channel
// to the server. Owned by the adapter; the coordinator holds it by interface.
type SignalingChannel interface {
	// Connect is idempotent: it returns immediately when already connected.
	Connect(ctx context.Context, creds Credentials) error
	// Disconnect is user-initiated and suppresses auto-reconnect.
	Disconnect()
	// Send fails fast with ErrSignalingDisconnected when not connected.
	Send(event EventName, payload any) error
	On(event EventName, h Handler) SubID
	Off(event EventName, id SubID)
	State() domain.ConnectionState
	// OnStateChange registers an observer for connection state transitions.
	OnStateChange(fn func(domain.ConnectionState))
}
