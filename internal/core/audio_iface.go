package core

// PCMFrame is one frame of signed 16-bit mono PCM samples.
type PCMFrame []int16

// Constraints mirror the capture options requested from the device layer.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultConstraints enables the full voice processing set.
func DefaultConstraints() Constraints {
	return Constraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// AudioSource is a live local capture stream. Frames fan out to every
// registered consumer (the producer pump and the voice detector).
type AudioSource interface {
	// OnFrame registers a per-frame consumer and returns its cancel func.
	OnFrame(fn func(PCMFrame)) (cancel func())
	SampleRate() int
	// Close stops capture and releases the device. Idempotent.
	Close()
}
