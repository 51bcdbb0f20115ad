package audio

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openroom/voiceclient/internal/core"
)

const testRate = 8000 // 160 samples per 20ms frame keeps fixtures small

func writePCMFixture(t *testing.T, samples []int16) string {
	t.Helper()
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	path := filepath.Join(t.TempDir(), "capture.raw")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestOpenMissingDevice(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"), testRate, core.DefaultConstraints())
	if !errors.Is(err, core.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestOpenPermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses file permissions")
	}
	path := filepath.Join(t.TempDir(), "locked")
	if err := os.WriteFile(path, nil, 0o000); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	_, err := Open(path, testRate, core.DefaultConstraints())
	if !errors.Is(err, core.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestFramesDeliveredToSubscribers(t *testing.T) {
	samplesPerFrame := testRate / framesPerSecond
	// Two full frames; a trailing partial frame must be discarded.
	samples := make([]int16, samplesPerFrame*2+7)
	for i := range samples {
		samples[i] = int16(i - 100)
	}
	path := writePCMFixture(t, samples)

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	src := &PipeSource{
		f:    f,
		rate: testRate,
		subs: make(map[int]func(core.PCMFrame)),
		done: make(chan struct{}),
	}
	defer src.Close()

	frames := make(chan core.PCMFrame, 8)
	cancel := src.OnFrame(func(f core.PCMFrame) { frames <- f })
	defer cancel()

	// Subscribed before the first read, so no frame can be missed.
	go src.readLoop()

	var got []core.PCMFrame
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case f := <-frames:
			got = append(got, f)
		case <-timeout:
			t.Fatalf("received %d frames, want 2", len(got))
		}
	}

	if len(got[0]) != samplesPerFrame {
		t.Fatalf("frame size = %d, want %d", len(got[0]), samplesPerFrame)
	}
	if got[0][0] != -100 {
		t.Errorf("first sample = %d, want -100 (little-endian decode)", got[0][0])
	}
	if got[1][0] != samples[samplesPerFrame] {
		t.Errorf("second frame starts at %d, want %d", got[1][0], samples[samplesPerFrame])
	}

	select {
	case f := <-frames:
		t.Errorf("unexpected third frame of %d samples from partial tail", len(f))
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	s := &PipeSource{
		subs: make(map[int]func(core.PCMFrame)),
		done: make(chan struct{}),
	}
	var n int
	cancel := s.OnFrame(func(core.PCMFrame) { n++ })
	s.deliver(core.PCMFrame{1, 2, 3})
	if n != 1 {
		t.Fatalf("subscriber received %d frames, want 1", n)
	}
	cancel()
	s.deliver(core.PCMFrame{1, 2, 3})
	if n != 1 {
		t.Errorf("cancelled subscriber received %d frames", n)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	path := writePCMFixture(t, make([]int16, testRate/framesPerSecond))
	src, err := Open(path, testRate, core.DefaultConstraints())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	src.Close()
	src.Close()
}

func TestConstraintsRecorded(t *testing.T) {
	path := writePCMFixture(t, nil)
	c := core.Constraints{EchoCancellation: true}
	src, err := Open(path, testRate, c)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()
	if got := src.(*PipeSource).Constraints(); got != c {
		t.Errorf("constraints = %+v, want %+v", got, c)
	}
}
