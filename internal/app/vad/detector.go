// Package vad derives a normalized energy level and a speaking flag from a
// live audio stream.
package vad

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openroom/voiceclient/internal/core"
)

const maxSampleMagnitude = 32768.0

type Config struct {
	// Threshold is the level above which the stream counts as speech.
	Threshold float64
	// HoldFrames is the number of consecutive ticks below Threshold required
	// before the speaking flag clears. Zero means a bare threshold, which
	// flickers under real microphone noise.
	HoldFrames int
	// TickInterval is the sampling period.
	TickInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Threshold:    0.01,
		HoldFrames:   0,
		TickInterval: 16 * time.Millisecond,
	}
}

// Detector samples an attached audio source on a fixed interval and publishes
// level/speaking updates. It never mutates roster or media state itself; it
// only feeds the publish callback.
type Detector struct {
	cfg     Config
	publish func(level float64, speaking bool)

	mu        sync.Mutex
	unsub     func()
	stop      chan struct{}
	latest    core.PCMFrame
	speaking  bool
	belowRun  int
	lastLevel float64
}

// New creates a detector. publish is invoked from the sampling goroutine on
// every tick while a source is attached.
func New(cfg Config, publish func(level float64, speaking bool)) *Detector {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 16 * time.Millisecond
	}
	return &Detector{cfg: cfg, publish: publish}
}

// Attach builds an analysis context over src, replacing and releasing any
// previously attached stream first.
func (d *Detector) Attach(src core.AudioSource) {
	d.Detach()

	d.mu.Lock()
	d.unsub = src.OnFrame(func(f core.PCMFrame) {
		d.mu.Lock()
		d.latest = f
		d.mu.Unlock()
	})
	stop := make(chan struct{})
	d.stop = stop
	d.mu.Unlock()

	log.Info().Str("module", "vad").Int("sample_rate", src.SampleRate()).Msg("detector attached")
	go d.loop(stop)
}

// Detach stops the sampling loop and releases the analysis context. Safe to
// call when never attached.
func (d *Detector) Detach() {
	d.mu.Lock()
	unsub := d.unsub
	stop := d.stop
	d.unsub = nil
	d.stop = nil
	d.latest = nil
	d.speaking = false
	d.belowRun = 0
	d.lastLevel = 0
	d.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if stop != nil {
		close(stop)
		log.Info().Str("module", "vad").Msg("detector detached")
	}
}

// Level returns the most recently published level.
func (d *Detector) Level() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastLevel
}

func (d *Detector) loop(stop chan struct{}) {
	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

func (d *Detector) tick() {
	d.mu.Lock()
	frame := d.latest
	level := FrameLevel(frame)
	speaking := d.speaking

	if level > d.cfg.Threshold {
		speaking = true
		d.belowRun = 0
	} else if speaking {
		d.belowRun++
		if d.belowRun > d.cfg.HoldFrames {
			speaking = false
			d.belowRun = 0
		}
	}
	d.speaking = speaking
	d.lastLevel = level
	publish := d.publish
	d.mu.Unlock()

	if publish != nil {
		publish(level, speaking)
	}
}

// FrameLevel is the mean sample magnitude normalized by the maximum
// representable magnitude. Always in [0,1].
func FrameLevel(f core.PCMFrame) float64 {
	if len(f) == 0 {
		return 0
	}
	var sum float64
	for _, s := range f {
		v := float64(s)
		if v < 0 {
			v = -v
		}
		sum += v
	}
	level := sum / float64(len(f)) / maxSampleMagnitude
	if level > 1 {
		level = 1
	}
	return level
}
