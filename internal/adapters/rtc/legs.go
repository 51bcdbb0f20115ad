package rtc

import (
	"sync"
	"sync/atomic"

	"github.com/openroom/voiceclient/internal/domain"
)

type legState int32

const (
	legLive legState = iota
	legPaused
	legClosed
)

// leg is one send or receive media stream. Callers outside the session hold
// leg ids only, never the leg itself.
type leg struct {
	id        domain.LegID
	direction domain.LegDirection
	remote    domain.UserID // receive legs only
	state     atomic.Int32  // zero value is legLive
	closeFn   func()
}

func (l *leg) getState() legState { return legState(l.state.Load()) }
func (l *leg) mark(s legState)    { l.state.Store(int32(s)) }
func (l *leg) meta() domain.MediaLeg {
	return domain.MediaLeg{
		ID:        l.id,
		Kind:      "audio",
		Direction: l.direction,
		Paused:    l.getState() == legPaused,
	}
}

// legArena owns all legs by id, keeping the coordinator free of handle cycles.
type legArena struct {
	mu   sync.RWMutex
	legs map[domain.LegID]*leg
}

func newLegArena() *legArena {
	return &legArena{legs: make(map[domain.LegID]*leg)}
}

func (a *legArena) add(l *leg) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.legs[l.id] = l
}

func (a *legArena) get(id domain.LegID) (*leg, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	l, ok := a.legs[id]
	return l, ok
}

func (a *legArena) removeByRemote(userID domain.UserID) *leg {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, l := range a.legs {
		if l.direction == domain.LegReceive && l.remote == userID {
			delete(a.legs, id)
			return l
		}
	}
	return nil
}

func (a *legArena) snapshot() []domain.MediaLeg {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]domain.MediaLeg, 0, len(a.legs))
	for _, l := range a.legs {
		out = append(out, l.meta())
	}
	return out
}

func (a *legArena) closeAll() {
	a.mu.Lock()
	legs := a.legs
	a.legs = make(map[domain.LegID]*leg)
	a.mu.Unlock()
	for _, l := range legs {
		l.mark(legClosed)
		if l.closeFn != nil {
			l.closeFn()
		}
	}
}
