package core

import (
	"context"

	"github.com/openroom/voiceclient/internal/domain"
)

// MediaSession negotiates the local capability set and manages the send and
// receive legs for one room. Legs are owned by the session in an arena keyed
// by id; callers hold ids only.
type MediaSession interface {
	// InitializeCapabilities fetches the server capability description once
	// per process lifetime. A second call is a no-op.
	InitializeCapabilities(ctx context.Context) error
	// AcquireLocalAudio requests microphone access. The returned source is
	// also what the voice detector attaches to.
	AcquireLocalAudio(ctx context.Context, c Constraints) (AudioSource, error)
	// CreateTransport requests transport parameters from the server and
	// constructs the local transport bound to them.
	CreateTransport(ctx context.Context, dir domain.LegDirection) error
	// Produce creates the send leg from the acquired audio source. The
	// producer id is minted by the server before the local produce completes.
	Produce(ctx context.Context) (domain.LegID, error)
	// Pause and Resume toggle the send leg without renegotiating the
	// transport. This is the mute primitive: mute is not stop.
	Pause() error
	Resume() error
	// Legs returns a snapshot of all live legs.
	Legs() []domain.MediaLeg
	// Teardown closes producer then transport. Safe to call multiple times.
	Teardown()
	// OnTransportState registers an observer for ICE-level connectivity.
	OnTransportState(fn func(connected bool))
}
