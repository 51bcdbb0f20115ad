package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/openroom/voiceclient/internal/domain"
)

// Patch is a partial update merged into a roster entry. Nil fields are left
// untouched.
type Patch struct {
	DisplayName *string
	Role        *domain.Role
	IsMuted     *bool
	IsSpeaking  *bool
	AudioLevel  *float64
}

// Registry is the authoritative in-memory roster of room occupants. It is a
// pure reducer over inbound signaling events: no I/O, no callbacks into media.
//
// Ordering is tracked per user id so that a removal dominates any later
// redelivery of a stale join for the same membership. Callers assign a
// monotonically increasing sequence number to each event.
type Registry struct {
	mu           sync.RWMutex
	participants map[domain.UserID]*domain.Participant
	lastSeq      map[domain.UserID]uint64
}

func NewRegistry() *Registry {
	return &Registry{
		participants: make(map[domain.UserID]*domain.Participant),
		lastSeq:      make(map[domain.UserID]uint64),
	}
}

// Upsert merges patch into the entry for id, creating it with defaults when
// absent. Events at or below the last seen sequence for id are ignored, so a
// stale join cannot resurrect a removed participant.
func (r *Registry) Upsert(seq uint64, id domain.UserID, patch Patch) bool {
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if seq <= r.lastSeq[id] {
		log.Debug().Str("module", "app.registry").Str("user", string(id)).Uint64("seq", seq).Msg("stale upsert ignored")
		return false
	}
	r.lastSeq[id] = seq

	p, ok := r.participants[id]
	if !ok {
		var err error
		p, err = domain.NewParticipant(id, string(id))
		if err != nil {
			return false
		}
		r.participants[id] = p
		log.Info().Str("module", "app.registry").Str("user", string(id)).Msg("participant added")
	}
	applyPatch(p, patch)
	return true
}

// Remove deletes the entry for id. The removal is authoritative: any upsert
// carrying a lower or equal sequence is a stale redelivery and stays dead.
func (r *Registry) Remove(seq uint64, id domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seq < r.lastSeq[id] {
		return false
	}
	r.lastSeq[id] = seq
	if _, ok := r.participants[id]; !ok {
		return false
	}
	delete(r.participants, id)
	log.Info().Str("module", "app.registry").Str("user", string(id)).Msg("participant removed")
	return true
}

// UpdateLevel adjusts the audio level of an existing entry only; metering
// must never resurrect a departed participant.
func (r *Registry) UpdateLevel(id domain.UserID, level float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[id]
	if !ok {
		return false
	}
	p.AudioLevel = clampLevel(level)
	return true
}

func (r *Registry) Get(id domain.UserID) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[id]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// Snapshot returns value copies; callers never see live entries.
func (r *Registry) Snapshot() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, *p)
	}
	return out
}

// ResetEpoch starts a fresh roster epoch after a reconnect: every remote
// entry and its ordering state is dropped, only the local entry survives.
// The rejoin makes the server resend the authoritative roster; anything it
// replays for a user who left in the previous epoch is never trusted.
func (r *Registry) ResetEpoch(keep domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept, ok := r.participants[keep]
	keptSeq := r.lastSeq[keep]
	r.participants = make(map[domain.UserID]*domain.Participant)
	r.lastSeq = make(map[domain.UserID]uint64)
	if ok {
		r.participants[keep] = kept
		r.lastSeq[keep] = keptSeq
	}
	log.Info().Str("module", "app.registry").Str("user", string(keep)).Msg("roster epoch reset")
}

// Clear drops all entries and ordering state, e.g. on room leave.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants = make(map[domain.UserID]*domain.Participant)
	r.lastSeq = make(map[domain.UserID]uint64)
	log.Info().Str("module", "app.registry").Msg("roster cleared")
}

func applyPatch(p *domain.Participant, patch Patch) {
	if patch.DisplayName != nil && len(*patch.DisplayName) <= domain.MaxDisplayNameLen {
		p.DisplayName = *patch.DisplayName
	}
	if patch.Role != nil {
		p.Role = *patch.Role
	}
	if patch.IsMuted != nil {
		p.IsMuted = *patch.IsMuted
	}
	if patch.IsSpeaking != nil {
		p.IsSpeaking = *patch.IsSpeaking
	}
	if patch.AudioLevel != nil {
		p.AudioLevel = clampLevel(*patch.AudioLevel)
	}
}

func clampLevel(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
