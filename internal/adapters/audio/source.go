// Package audio provides the local capture stream: raw s16le PCM read from a
// capture device or pipe, fanned out frame-by-frame to consumers.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/openroom/voiceclient/internal/core"
)

// FrameDuration is fixed at 20ms, the opus framing the send leg uses.
const framesPerSecond = 50

// Open acquires the capture device at path. The constraint set is recorded on
// the source; the device layer is expected to apply it upstream.
func Open(path string, sampleRate int, c core.Constraints) (core.AudioSource, error) {
	f, err := os.Open(path)
	if err != nil {
		switch {
		case os.IsPermission(err):
			return nil, fmt.Errorf("%w: %s", core.ErrPermissionDenied, path)
		case os.IsNotExist(err):
			return nil, fmt.Errorf("%w: %s", core.ErrDeviceUnavailable, path)
		default:
			return nil, fmt.Errorf("%w: open %s: %v", core.ErrDeviceUnavailable, path, err)
		}
	}

	s := &PipeSource{
		f:           f,
		rate:        sampleRate,
		constraints: c,
		subs:        make(map[int]func(core.PCMFrame)),
		done:        make(chan struct{}),
	}
	go s.readLoop()
	log.Info().Str("module", "audio").Str("device", path).Int("sample_rate", sampleRate).Msg("capture opened")
	return s, nil
}

// PipeSource reads s16le mono PCM from an os.File and delivers fixed 20ms
// frames to every subscriber.
type PipeSource struct {
	f           *os.File
	rate        int
	constraints core.Constraints

	mu      sync.Mutex
	subs    map[int]func(core.PCMFrame)
	nextSub int

	done      chan struct{}
	closeOnce sync.Once
}

func (s *PipeSource) SampleRate() int { return s.rate }

func (s *PipeSource) Constraints() core.Constraints { return s.constraints }

func (s *PipeSource) OnFrame(fn func(core.PCMFrame)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *PipeSource) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.f.Close()
		log.Info().Str("module", "audio").Msg("capture closed")
	})
}

func (s *PipeSource) readLoop() {
	samplesPerFrame := s.rate / framesPerSecond
	buf := make([]byte, samplesPerFrame*2)
	for {
		select {
		case <-s.done:
			return
		default:
		}
		if _, err := io.ReadFull(s.f, buf); err != nil {
			if err != io.EOF {
				log.Warn().Err(err).Str("module", "audio").Msg("capture read error")
			}
			s.Close()
			return
		}
		frame := make(core.PCMFrame, samplesPerFrame)
		for i := range frame {
			frame[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
		}
		s.deliver(frame)
	}
}

func (s *PipeSource) deliver(frame core.PCMFrame) {
	s.mu.Lock()
	fns := make([]func(core.PCMFrame), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(frame)
	}
}
