// Package app holds the session coordinator and the roster it owns.
package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/openroom/voiceclient/internal/app/vad"
	"github.com/openroom/voiceclient/internal/core"
	"github.com/openroom/voiceclient/internal/domain"
)

// State is the coordinator's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateJoining
	StateActive
	StateLeaving
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateLeaving:
		return "leaving"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Snapshot is the read-only view handed to the presentation layer.
type Snapshot struct {
	State         string                `json:"state"`
	Session       *domain.Session       `json:"session,omitempty"`
	Participants  []domain.Participant  `json:"participants"`
	LocalLevel    float64               `json:"localLevel"`
	LocalSpeaking bool                  `json:"localSpeaking"`
	RecordingID   string                `json:"recordingId,omitempty"`
	LastError     string                `json:"lastError,omitempty"`
}

type Options struct {
	Signal      core.SignalingChannel
	Media       core.MediaSession
	Credentials core.Credentials
	DisplayName string
	VAD         vad.Config
}

// Coordinator sequences room join/leave, wires detector output into local
// state and outbound signaling, and exposes one command/state surface.
// Exactly one Session is live per coordinator.
type Coordinator struct {
	signal core.SignalingChannel
	media  core.MediaSession

	registry *Registry
	detector *vad.Detector

	creds       core.Credentials
	displayName string

	mu            sync.Mutex
	state         State
	session       *domain.Session
	localLevel    float64
	localSpeaking bool
	recordingID   string
	lastError     string

	seq atomic.Uint64

	hmu       sync.RWMutex
	changeFns map[int]func(Snapshot)
	nextObs   int
}

func NewCoordinator(opts Options) *Coordinator {
	c := &Coordinator{
		signal:      opts.Signal,
		media:       opts.Media,
		registry:    NewRegistry(),
		creds:       opts.Credentials,
		displayName: opts.DisplayName,
		state:       StateIdle,
		changeFns:   make(map[int]func(Snapshot)),
	}
	c.detector = vad.New(opts.VAD, c.publishLocalVoice)
	c.bindSignalHandlers()
	c.signal.OnStateChange(c.handleConnState)
	return c
}

// Registry exposes the roster read-only for tests and the control surface.
func (c *Coordinator) Registry() *Registry { return c.registry }

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// JoinRoom runs the ordered join sequence. Valid only from Idle (or Failed,
// as the explicit retry after backoff exhaustion); overlapping calls are
// rejected rather than coalesced.
func (c *Coordinator) JoinRoom(ctx context.Context, roomID domain.RoomID, groupID domain.GroupID) error {
	c.mu.Lock()
	if c.state != StateIdle && c.state != StateFailed {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: join while %s", core.ErrInvalidState, state)
	}
	c.state = StateJoining
	c.lastError = ""
	c.mu.Unlock()
	c.notify()
	log.Info().Str("module", "app.coordinator").Str("room", string(roomID)).Msg("joining")

	src, err := c.media.AcquireLocalAudio(ctx, core.DefaultConstraints())
	if err != nil {
		return c.abortJoin(err)
	}
	if err := c.signal.Connect(ctx, c.creds); err != nil {
		return c.abortJoin(err)
	}
	if err := c.media.InitializeCapabilities(ctx); err != nil {
		return c.abortJoin(err)
	}
	if err := c.media.CreateTransport(ctx, domain.LegSend); err != nil {
		return c.abortJoin(err)
	}
	if _, err := c.media.Produce(ctx); err != nil {
		return c.abortJoin(err)
	}
	if err := c.signal.Send(core.EventJoinRoom, joinRoomPayload{RoomID: roomID, GroupID: groupID}); err != nil {
		return c.abortJoin(err)
	}
	c.detector.Attach(src)

	c.mu.Lock()
	c.session = &domain.Session{
		RoomID:          roomID,
		GroupID:         groupID,
		ConnectionState: c.signal.State(),
		LocalVolume:     1,
	}
	c.state = StateActive
	c.mu.Unlock()

	name := c.displayName
	role := domain.RoleMember
	c.registry.Upsert(c.seq.Add(1), c.creds.UserID, Patch{DisplayName: &name, Role: &role})

	c.notify()
	log.Info().Str("module", "app.coordinator").Str("room", string(roomID)).Msg("joined")
	return nil
}

// abortJoin rolls back every resource the failed sequence acquired, so a
// failed join never leaves a half-joined Session.
func (c *Coordinator) abortJoin(err error) error {
	log.Error().Err(err).Str("module", "app.coordinator").Msg("join aborted")
	c.detector.Detach()
	c.media.Teardown()
	c.registry.Clear()

	c.mu.Lock()
	c.state = StateIdle
	c.session = nil
	c.lastError = err.Error()
	c.mu.Unlock()
	c.notify()
	return fmt.Errorf("join room: %w", err)
}

// LeaveRoom tears the session down: best-effort leave signal, then detector,
// then media, then roster. All scheduled work attributable to the session is
// cancelled before this returns.
func (c *Coordinator) LeaveRoom() error {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: leave without session", core.ErrInvalidState)
	}
	roomID := c.session.RoomID
	c.state = StateLeaving
	c.mu.Unlock()
	c.notify()

	// Fire-and-forget when disconnected.
	if err := c.signal.Send(core.EventLeaveRoom, leaveRoomPayload{RoomID: roomID}); err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Msg("leave signal not delivered")
	}
	c.detector.Detach()
	c.media.Teardown()
	c.registry.Clear()

	c.mu.Lock()
	c.session = nil
	c.state = StateIdle
	c.localLevel = 0
	c.localSpeaking = false
	c.recordingID = ""
	c.mu.Unlock()
	c.notify()
	log.Info().Str("module", "app.coordinator").Str("room", string(roomID)).Msg("left")
	return nil
}

// ToggleMute pauses or resumes the send leg without recreating it and tells
// the peers.
func (c *Coordinator) ToggleMute() error {
	c.mu.Lock()
	if c.state != StateActive {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: mute while %s", core.ErrInvalidState, state)
	}
	muted := !c.session.LocalMute
	c.mu.Unlock()

	var err error
	if muted {
		err = c.media.Pause()
	} else {
		err = c.media.Resume()
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	// The session may have been torn down while the lock was dropped for the
	// media call (concurrent leave or terminal failure).
	if c.state != StateActive || c.session == nil {
		state := c.state
		c.mu.Unlock()
		if muted {
			_ = c.media.Resume()
		} else {
			_ = c.media.Pause()
		}
		return fmt.Errorf("%w: mute while %s", core.ErrInvalidState, state)
	}
	c.session.LocalMute = muted
	c.mu.Unlock()

	c.registry.Upsert(c.seq.Add(1), c.creds.UserID, Patch{IsMuted: &muted})
	if err := c.signal.Send(core.EventUserMuteChanged, muteChangedPayload{UserID: c.creds.UserID, Muted: muted}); err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Msg("mute signal not delivered")
	}
	c.notify()
	return nil
}

// Snapshot returns the current read-only state for the presentation layer.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	snap := Snapshot{
		State:         c.state.String(),
		LocalLevel:    c.localLevel,
		LocalSpeaking: c.localSpeaking,
		RecordingID:   c.recordingID,
		LastError:     c.lastError,
	}
	if c.session != nil {
		sess := *c.session
		sess.ConnectionState = c.signal.State()
		snap.Session = &sess
	}
	c.mu.Unlock()

	snap.Participants = c.registry.Snapshot()
	sort.Slice(snap.Participants, func(i, j int) bool {
		return snap.Participants[i].UserID < snap.Participants[j].UserID
	})
	return snap
}

// OnChange registers a presentation-layer observer and returns its remove
// func, so a disconnected stream does not keep its observer registered.
func (c *Coordinator) OnChange(fn func(Snapshot)) (cancel func()) {
	c.hmu.Lock()
	c.nextObs++
	id := c.nextObs
	c.changeFns[id] = fn
	c.hmu.Unlock()
	return func() {
		c.hmu.Lock()
		defer c.hmu.Unlock()
		delete(c.changeFns, id)
	}
}

func (c *Coordinator) notify() {
	c.hmu.RLock()
	fns := make([]func(Snapshot), 0, len(c.changeFns))
	for _, fn := range c.changeFns {
		fns = append(fns, fn)
	}
	c.hmu.RUnlock()
	if len(fns) == 0 {
		return
	}
	snap := c.Snapshot()
	for _, fn := range fns {
		fn(snap)
	}
}

// publishLocalVoice receives detector output. It only publishes state; edge
// transitions also go out over signaling so peers mirror them.
func (c *Coordinator) publishLocalVoice(level float64, speaking bool) {
	c.mu.Lock()
	if c.state != StateActive && c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	edge := speaking != c.localSpeaking
	c.localLevel = level
	c.localSpeaking = speaking
	c.mu.Unlock()

	if !edge {
		return
	}
	lvl := level
	c.registry.Upsert(c.seq.Add(1), c.creds.UserID, Patch{IsSpeaking: &speaking, AudioLevel: &lvl})

	event := core.EventUserStoppedSpeak
	if speaking {
		event = core.EventUserSpeaking
	}
	if err := c.signal.Send(event, speakingPayload{UserID: c.creds.UserID}); err != nil {
		log.Debug().Err(err).Str("module", "app.coordinator").Msg("speaking signal not delivered")
	}
	c.notify()
}

// HandleRemoteLevel feeds receive-leg metering into the roster. It never
// resurrects a departed participant.
func (c *Coordinator) HandleRemoteLevel(userID domain.UserID, level float64) {
	c.mu.Lock()
	active := c.state == StateActive || c.state == StateReconnecting
	c.mu.Unlock()
	if !active {
		return
	}
	c.registry.UpdateLevel(userID, level)
}

// handleConnState mirrors signaling transitions into the session state
// machine: Active -> Reconnecting -> Active on recovery, Failed terminally.
func (c *Coordinator) handleConnState(s domain.ConnectionState) {
	c.mu.Lock()
	if c.session != nil {
		c.session.ConnectionState = s
	}
	prev := c.state
	var rejoin *domain.Session
	switch s {
	case domain.ConnReconnecting:
		if prev == StateActive {
			c.state = StateReconnecting
		}
	case domain.ConnConnected:
		if prev == StateReconnecting && c.session != nil {
			c.state = StateActive
			sess := *c.session
			rejoin = &sess
		}
	case domain.ConnFailed:
		if prev == StateActive || prev == StateReconnecting {
			c.state = StateFailed
			c.lastError = core.ErrReconnectExhausted.Error()
		}
	}
	changed := c.state != prev
	c.mu.Unlock()

	if rejoin != nil {
		// New roster epoch: the rejoin makes the server resend the
		// authoritative roster, so nothing from before the drop is kept.
		c.registry.ResetEpoch(c.creds.UserID)
		if err := c.signal.Send(core.EventJoinRoom, joinRoomPayload{RoomID: rejoin.RoomID, GroupID: rejoin.GroupID}); err != nil {
			log.Warn().Err(err).Str("module", "app.coordinator").Msg("rejoin signal not delivered")
		}
	}
	if c.State() == StateFailed && changed {
		// Terminal: release everything, keep Failed visible until the user
		// explicitly rejoins.
		c.detector.Detach()
		c.media.Teardown()
		c.registry.Clear()
	}
	if changed {
		c.notify()
	}
}
