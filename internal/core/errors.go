package core

import "errors"

// Error taxonomy for the session coordinator. Everything user-facing is one of
// these, wrapped with context at the failure site.
var (
	ErrPermissionDenied      = errors.New("audio device permission denied")
	ErrDeviceUnavailable     = errors.New("audio device unavailable")
	ErrCapabilityNegotiation = errors.New("capability negotiation failed")
	ErrTransportCreation     = errors.New("transport creation failed")
	ErrProduceFailed         = errors.New("produce failed")
	ErrSignalingDisconnected = errors.New("signaling disconnected")
	ErrSignalingAuth         = errors.New("signaling auth failed")
	ErrReconnectExhausted    = errors.New("reconnect attempts exhausted")
	ErrInvalidState          = errors.New("invalid state for operation")
)
