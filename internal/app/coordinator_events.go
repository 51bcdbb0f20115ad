package app

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/openroom/voiceclient/internal/core"
	"github.com/openroom/voiceclient/internal/domain"
)

type joinRoomPayload struct {
	RoomID  domain.RoomID  `json:"roomId"`
	GroupID domain.GroupID `json:"groupId"`
}

type leaveRoomPayload struct {
	RoomID domain.RoomID `json:"roomId"`
}

type muteChangedPayload struct {
	UserID domain.UserID `json:"userId"`
	Muted  bool          `json:"muted"`
}

type speakingPayload struct {
	UserID domain.UserID `json:"userId"`
}

type userInfoPayload struct {
	UserID domain.UserID `json:"userId"`
	User   struct {
		DisplayName string      `json:"displayName"`
		Role        domain.Role `json:"role"`
		Muted       bool        `json:"muted"`
	} `json:"user"`
}

// bindSignalHandlers registers the inbound reducers. Handlers only mutate the
// roster and the presentation fields; they never call back into media.
func (c *Coordinator) bindSignalHandlers() {
	c.signal.On(core.EventUserJoined, c.onUserJoined)
	c.signal.On(core.EventUserLeft, c.onUserLeft)
	c.signal.On(core.EventUserSpeaking, c.onSpeaking(true))
	c.signal.On(core.EventUserStoppedSpeak, c.onSpeaking(false))
	c.signal.On(core.EventUserMuteChanged, c.onMuteChanged)
	c.signal.On(core.EventRecordingStarted, c.onRecording(true))
	c.signal.On(core.EventRecordingStopped, c.onRecording(false))
	c.signal.On(core.EventConnectError, c.onSignalError)
	c.signal.On(core.EventError, c.onSignalError)
}

// inSession guards handlers: inbound roster events only apply while the
// session is live. Idempotent redelivery is handled by the registry ordering.
func (c *Coordinator) inSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateActive || c.state == StateReconnecting
}

func (c *Coordinator) onUserJoined(payload json.RawMessage) {
	if !c.inSession() {
		return
	}
	var p userInfoPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Msg("bad user-joined payload")
		return
	}
	patch := Patch{IsMuted: &p.User.Muted}
	if p.User.DisplayName != "" {
		patch.DisplayName = &p.User.DisplayName
	}
	if p.User.Role != "" {
		patch.Role = &p.User.Role
	}
	if c.registry.Upsert(c.seq.Add(1), p.UserID, patch) {
		c.notify()
	}
}

func (c *Coordinator) onUserLeft(payload json.RawMessage) {
	if !c.inSession() {
		return
	}
	var p struct {
		UserID domain.UserID `json:"userId"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Msg("bad user-left payload")
		return
	}
	if c.registry.Remove(c.seq.Add(1), p.UserID) {
		c.notify()
	}
}

func (c *Coordinator) onSpeaking(speaking bool) core.Handler {
	return func(payload json.RawMessage) {
		if !c.inSession() {
			return
		}
		var p speakingPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return
		}
		s := speaking
		if c.registry.Upsert(c.seq.Add(1), p.UserID, Patch{IsSpeaking: &s}) {
			c.notify()
		}
	}
}

func (c *Coordinator) onMuteChanged(payload json.RawMessage) {
	if !c.inSession() {
		return
	}
	var p muteChangedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}
	m := p.Muted
	if c.registry.Upsert(c.seq.Add(1), p.UserID, Patch{IsMuted: &m}) {
		c.notify()
	}
}

// onRecording only surfaces the event to the presentation layer.
func (c *Coordinator) onRecording(started bool) core.Handler {
	return func(payload json.RawMessage) {
		var p struct {
			RecordingID string `json:"recordingId"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return
		}
		c.mu.Lock()
		if started {
			c.recordingID = p.RecordingID
		} else {
			c.recordingID = ""
		}
		c.mu.Unlock()
		c.notify()
	}
}

func (c *Coordinator) onSignalError(payload json.RawMessage) {
	var p struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(payload, &p)
	if p.Message == "" {
		p.Message = string(payload)
	}
	log.Error().Str("module", "app.coordinator").Str("message", p.Message).Msg("signaling error")
	c.mu.Lock()
	c.lastError = p.Message
	c.mu.Unlock()
	c.notify()
}
