package rtc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/openroom/voiceclient/internal/core"
	"github.com/openroom/voiceclient/internal/domain"
)

type stubSource struct {
	closes atomic.Int32
}

func (s *stubSource) OnFrame(fn func(core.PCMFrame)) func() { return func() {} }

func (s *stubSource) SampleRate() int { return 48000 }

func (s *stubSource) Close() { s.closes.Add(1) }

func stubOpen(src core.AudioSource, err error) OpenDeviceFunc {
	return func(core.Constraints) (core.AudioSource, error) { return src, err }
}

func newTestSession(t *testing.T, handler http.Handler) *Session {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewSession(NewAPIClient(srv.URL), stubOpen(&stubSource{}, nil), nil, 48000)
}

func TestInitializeCapabilitiesOnce(t *testing.T) {
	var hits atomic.Int32
	s := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"codecs":[]}`))
	}))

	ctx := context.Background()
	if err := s.InitializeCapabilities(ctx); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if err := s.InitializeCapabilities(ctx); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("server hit %d times, want 1", got)
	}
}

func TestInitializeCapabilitiesFailure(t *testing.T) {
	s := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))

	err := s.InitializeCapabilities(context.Background())
	if !errors.Is(err, core.ErrCapabilityNegotiation) {
		t.Fatalf("expected ErrCapabilityNegotiation, got %v", err)
	}
}

func TestAcquireLocalAudioPropagatesErrors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	s := NewSession(NewAPIClient(srv.URL), stubOpen(nil, core.ErrPermissionDenied), nil, 48000)

	_, err := s.AcquireLocalAudio(context.Background(), core.DefaultConstraints())
	if !errors.Is(err, core.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestProduceWithoutTransport(t *testing.T) {
	s := newTestSession(t, http.NotFoundHandler())

	_, err := s.Produce(context.Background())
	if !errors.Is(err, core.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestPauseWithoutProducer(t *testing.T) {
	s := newTestSession(t, http.NotFoundHandler())

	if err := s.Pause(); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("pause: expected ErrInvalidState, got %v", err)
	}
	if err := s.Resume(); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("resume: expected ErrInvalidState, got %v", err)
	}
}

func TestCreateTransportFailure(t *testing.T) {
	s := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no capacity", http.StatusServiceUnavailable)
	}))

	err := s.CreateTransport(context.Background(), domain.LegSend)
	if !errors.Is(err, core.ErrTransportCreation) {
		t.Fatalf("expected ErrTransportCreation, got %v", err)
	}
}

func TestCreateTransportBindsPeerConnection(t *testing.T) {
	s := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"t1","iceParameters":{},"iceCandidates":[],"dtlsParameters":{}}`))
	}))

	if err := s.CreateTransport(context.Background(), domain.LegSend); err != nil {
		t.Fatalf("create transport: %v", err)
	}
	s.mu.Lock()
	pc, id := s.pc, s.transportID
	s.mu.Unlock()
	if pc == nil {
		t.Error("no local peer connection bound")
	}
	if id != "t1" {
		t.Errorf("transport id = %q, want t1", id)
	}
	s.Teardown()
}

func TestTeardownIdempotentAndClosesSource(t *testing.T) {
	src := &stubSource{}
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	s := NewSession(NewAPIClient(srv.URL), stubOpen(src, nil), nil, 48000)

	if _, err := s.AcquireLocalAudio(context.Background(), core.DefaultConstraints()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	s.Teardown()
	s.Teardown()
	if got := src.closes.Load(); got != 1 {
		t.Errorf("source closed %d times, want 1", got)
	}
}

func TestAcquireAfterTeardownRearms(t *testing.T) {
	src := &stubSource{}
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	s := NewSession(NewAPIClient(srv.URL), stubOpen(src, nil), nil, 48000)

	s.Teardown()
	if _, err := s.AcquireLocalAudio(context.Background(), core.DefaultConstraints()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	s.Teardown()
	if got := src.closes.Load(); got != 1 {
		t.Errorf("source closed %d times, want 1", got)
	}
}
