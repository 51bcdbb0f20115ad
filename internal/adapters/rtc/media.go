package rtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
	opus "gopkg.in/hraban/opus.v2"

	"github.com/openroom/voiceclient/internal/adapters/audio"
	"github.com/openroom/voiceclient/internal/app/vad"
	"github.com/openroom/voiceclient/internal/core"
	"github.com/openroom/voiceclient/internal/domain"
)

const frameDuration = 20 * time.Millisecond

// OpenDeviceFunc acquires the local capture device.
type OpenDeviceFunc func(c core.Constraints) (core.AudioSource, error)

// Session is the concrete core.MediaSession. It owns the pion transport, the
// produced send leg and all consumed receive legs.
type Session struct {
	api        *APIClient
	openDevice OpenDeviceFunc
	stun       []string
	sampleRate int

	mu          sync.Mutex
	caps        []byte
	source      core.AudioSource
	pc          *webrtc.PeerConnection
	transportID string
	producerID  domain.LegID
	pumpCancel  func()
	tornDown    bool

	legs *legArena

	hmu         sync.RWMutex
	stateFns    []func(connected bool)
	remoteLevel func(userID domain.UserID, level float64)
}

func NewSession(api *APIClient, openDevice OpenDeviceFunc, stun []string, sampleRate int) *Session {
	return &Session{
		api:        api,
		openDevice: openDevice,
		stun:       stun,
		sampleRate: sampleRate,
		legs:       newLegArena(),
	}
}

// InitializeCapabilities loads the server capability description once per
// process lifetime; later calls are no-ops.
func (s *Session) InitializeCapabilities(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.caps != nil {
		return nil
	}
	caps, err := s.api.RTPCapabilities(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrCapabilityNegotiation, err)
	}
	s.caps = caps
	log.Info().Str("module", "rtc").Int("caps_bytes", len(caps)).Msg("capabilities loaded")
	return nil
}

func (s *Session) AcquireLocalAudio(_ context.Context, c core.Constraints) (core.AudioSource, error) {
	src, err := s.openDevice(c)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.source = src
	s.tornDown = false
	s.mu.Unlock()
	return src, nil
}

// CreateTransport requests parameters from the server and binds a local pion
// transport to them. ICE state feeds the registered transport observers.
func (s *Session) CreateTransport(ctx context.Context, dir domain.LegDirection) error {
	info, err := s.api.CreateTransport(ctx, string(dir))
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrTransportCreation, err)
	}

	servers := make([]webrtc.ICEServer, 0, len(s.stun))
	for _, u := range s.stun {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrTransportCreation, err)
	}

	pc.OnICEConnectionStateChange(func(st webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("ice_state", st.String()).Msg("ICE state")
		switch st {
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			s.notifyTransport(true)
		case webrtc.ICEConnectionStateDisconnected, webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
			s.notifyTransport(false)
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.addConsumer(track)
	})

	s.mu.Lock()
	s.pc = pc
	s.transportID = info.ID
	s.mu.Unlock()
	log.Info().Str("module", "rtc").Str("transport_id", info.ID).Str("direction", string(dir)).Msg("transport created")
	return nil
}

// Produce creates the send leg. Two-phase: the server mints the producer id
// first, only then does the local encode pump start.
func (s *Session) Produce(ctx context.Context) (domain.LegID, error) {
	s.mu.Lock()
	pc := s.pc
	src := s.source
	transportID := s.transportID
	s.mu.Unlock()
	if pc == nil || src == nil {
		return "", fmt.Errorf("%w: produce without active transport or track", core.ErrInvalidState)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: uint32(s.sampleRate), Channels: 1},
		"audio", "voiceclient",
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrProduceFailed, err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrProduceFailed, err)
	}

	rtpParameters := map[string]any{
		"codecs": []map[string]any{{
			"mimeType":    webrtc.MimeTypeOpus,
			"clockRate":   s.sampleRate,
			"channels":    1,
			"payloadType": 111,
		}},
	}
	producerID, err := s.api.CreateProducer(ctx, transportID, "audio", rtpParameters, map[string]any{"source": "mic"})
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrProduceFailed, err)
	}

	enc, err := audio.NewEncoder(s.sampleRate)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrProduceFailed, err)
	}

	l := &leg{id: domain.LegID(producerID), direction: domain.LegSend}
	cancel := src.OnFrame(func(frame core.PCMFrame) {
		if l.getState() != legLive {
			return
		}
		pkt, err := enc.Encode(frame)
		if err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("encode frame")
			return
		}
		if err := track.WriteSample(media.Sample{Data: pkt, Duration: frameDuration}); err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("write sample")
		}
	})
	l.closeFn = cancel
	s.legs.add(l)

	s.mu.Lock()
	s.producerID = l.id
	s.pumpCancel = cancel
	s.mu.Unlock()

	log.Info().Str("module", "rtc").Str("producer_id", producerID).Msg("producing")
	return l.id, nil
}

// Pause mutes the send leg without touching the transport or producer.
func (s *Session) Pause() error { return s.setProducerState(legPaused) }

// Resume unmutes the send leg.
func (s *Session) Resume() error { return s.setProducerState(legLive) }

func (s *Session) setProducerState(st legState) error {
	s.mu.Lock()
	id := s.producerID
	s.mu.Unlock()
	l, ok := s.legs.get(id)
	if !ok {
		return fmt.Errorf("%w: no producer leg", core.ErrInvalidState)
	}
	l.mark(st)
	log.Info().Str("module", "rtc").Str("leg", string(id)).Bool("paused", st == legPaused).Msg("producer state")
	return nil
}

func (s *Session) Legs() []domain.MediaLeg {
	return s.legs.snapshot()
}

// Teardown closes producer, then transport, then the capture source. Safe to
// call multiple times.
func (s *Session) Teardown() {
	s.mu.Lock()
	if s.tornDown {
		s.mu.Unlock()
		return
	}
	s.tornDown = true
	pc := s.pc
	src := s.source
	s.pc = nil
	s.source = nil
	s.transportID = ""
	s.producerID = ""
	s.pumpCancel = nil
	s.mu.Unlock()

	s.legs.closeAll()
	if pc != nil {
		if err := pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("transport close")
		}
	}
	if src != nil {
		src.Close()
	}
	log.Info().Str("module", "rtc").Msg("torn down")
}

func (s *Session) OnTransportState(fn func(connected bool)) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.stateFns = append(s.stateFns, fn)
}

// OnRemoteLevel registers the observer fed by receive-leg metering.
func (s *Session) OnRemoteLevel(fn func(userID domain.UserID, level float64)) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.remoteLevel = fn
}

func (s *Session) notifyTransport(connected bool) {
	s.hmu.RLock()
	fns := make([]func(bool), len(s.stateFns))
	copy(fns, s.stateFns)
	s.hmu.RUnlock()
	for _, fn := range fns {
		fn(connected)
	}
}

// addConsumer creates a receive leg for a remote track. The stream id carries
// the remote user id by server contract.
func (s *Session) addConsumer(track *webrtc.TrackRemote) {
	userID := domain.UserID(track.StreamID())
	l := &leg{
		id:        domain.LegID(uuid.NewString()),
		direction: domain.LegReceive,
		remote:    userID,
	}
	s.legs.add(l)
	log.Info().Str("module", "rtc").Str("user", string(userID)).Str("leg", string(l.id)).Msg("consumer added")
	go s.drainConsumer(l, track)
}

// drainConsumer reads RTP from the remote track and derives a coarse level
// for presentation metering.
func (s *Session) drainConsumer(l *leg, track *webrtc.TrackRemote) {
	dec, err := opus.NewDecoder(s.sampleRate, 1)
	if err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("opus decoder")
		return
	}
	pcm := make([]int16, s.sampleRate/10)
	for {
		if l.getState() == legClosed {
			return
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			s.legs.removeByRemote(l.remote)
			log.Info().Err(err).Str("module", "rtc").Str("leg", string(l.id)).Msg("consumer leg ended")
			return
		}
		s.meterRemote(l.remote, dec, pkt, pcm)
	}
}

func (s *Session) meterRemote(userID domain.UserID, dec *opus.Decoder, pkt *rtp.Packet, pcm []int16) {
	if len(pkt.Payload) == 0 {
		return
	}
	n, err := dec.Decode(pkt.Payload, pcm)
	if err != nil || n <= 0 {
		return
	}
	s.hmu.RLock()
	fn := s.remoteLevel
	s.hmu.RUnlock()
	if fn != nil {
		fn(userID, vad.FrameLevel(core.PCMFrame(pcm[:n])))
	}
}
