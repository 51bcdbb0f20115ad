// Package signal implements the client side of the room signaling contract:
// one persistent websocket carrying JSON event envelopes, with an auth
// handshake on connect and reconnection-with-backoff on abnormal drops.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/openroom/voiceclient/internal/core"
	"github.com/openroom/voiceclient/internal/domain"
)

var ErrBackpressure = errors.New("send buffer full")

const sendBufferSize = 32

type Options struct {
	URL              string
	HandshakeTimeout time.Duration
	MaxAttempts      int
}

// Channel is the concrete core.SignalingChannel over gorilla/websocket.
type Channel struct {
	opts   Options
	dialer websocket.Dialer

	mu         sync.Mutex
	state      domain.ConnectionState
	conn       *websocket.Conn
	send       chan []byte
	pending    [][]byte
	creds      core.Credentials
	userClosed bool
	backoff    *Backoff
	retryTimer *time.Timer

	hmu      sync.RWMutex
	handlers map[core.EventName]map[core.SubID]core.Handler
	nextSub  core.SubID
	stateFns []func(domain.ConnectionState)
}

func NewChannel(opts Options) *Channel {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	return &Channel{
		opts: opts,
		dialer: websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		state:    domain.ConnIdle,
		backoff:  NewBackoff(opts.MaxAttempts),
		handlers: make(map[core.EventName]map[core.SubID]core.Handler),
	}
}

// Connect opens the channel and runs the auth handshake. Idempotent: returns
// immediately when already connected or connecting.
func (ch *Channel) Connect(ctx context.Context, creds core.Credentials) error {
	ch.mu.Lock()
	if ch.state == domain.ConnConnected || ch.state == domain.ConnConnecting {
		ch.mu.Unlock()
		return nil
	}
	ch.creds = creds
	ch.userClosed = false
	if ch.retryTimer != nil {
		ch.retryTimer.Stop()
		ch.retryTimer = nil
	}
	ch.mu.Unlock()

	return ch.connectOnce(ctx)
}

// connectOnce performs one dial + handshake. Shared by explicit Connect and
// the reconnect timer.
func (ch *Channel) connectOnce(ctx context.Context) error {
	ch.setState(domain.ConnConnecting)

	conn, _, err := ch.dialer.DialContext(ctx, ch.opts.URL, nil)
	if err != nil {
		ch.setState(domain.ConnDisconnected)
		return fmt.Errorf("%w: dial %s: %v", core.ErrSignalingDisconnected, ch.opts.URL, err)
	}

	if err := ch.authenticate(conn); err != nil {
		_ = conn.Close()
		if errors.Is(err, core.ErrSignalingAuth) {
			ch.setState(domain.ConnFailed)
		} else {
			ch.setState(domain.ConnDisconnected)
		}
		return err
	}

	ch.mu.Lock()
	ch.conn = conn
	ch.send = make(chan []byte, sendBufferSize)
	ch.backoff.Reset()
	pending := ch.pending
	ch.pending = nil
	for _, data := range pending {
		select {
		case ch.send <- data:
		default:
			log.Warn().Str("module", "signal").Msg("pending message dropped on flush")
		}
	}
	send := ch.send
	ch.mu.Unlock()

	ch.setState(domain.ConnConnected)
	log.Info().Str("module", "signal").Str("url", ch.opts.URL).Msg("connected")

	go ch.writePump(conn, send)
	go ch.readPump(conn)
	return nil
}

// authenticate sends credentials and waits for the gate event. The Connected
// transition only happens after auth-success.
func (ch *Channel) authenticate(conn *websocket.Conn) error {
	authPayload, err := json.Marshal(struct {
		Token  string        `json:"token"`
		UserID domain.UserID `json:"userId"`
	}{ch.creds.Token, ch.creds.UserID})
	if err != nil {
		return err
	}
	env, _ := json.Marshal(core.Envelope{Event: "auth", Data: authPayload})

	deadline := time.Now().Add(ch.opts.HandshakeTimeout)
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, env); err != nil {
		return fmt.Errorf("%w: auth write: %v", core.ErrSignalingDisconnected, err)
	}

	if err := conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: auth read: %v", core.ErrSignalingDisconnected, err)
	}
	var reply core.Envelope
	if err := json.Unmarshal(data, &reply); err != nil {
		return fmt.Errorf("%w: bad auth reply: %v", core.ErrSignalingAuth, err)
	}
	switch reply.Event {
	case core.EventAuthSuccess:
	case core.EventAuthError:
		return fmt.Errorf("%w: %s", core.ErrSignalingAuth, string(reply.Data))
	default:
		return fmt.Errorf("%w: unexpected handshake event %q", core.ErrSignalingAuth, reply.Event)
	}

	// Back to no deadline for the read pump.
	return conn.SetReadDeadline(time.Time{})
}

// Disconnect is explicit and user-initiated: it cancels any pending
// reconnection and suppresses auto-reconnect.
func (ch *Channel) Disconnect() {
	ch.mu.Lock()
	ch.userClosed = true
	if ch.retryTimer != nil {
		ch.retryTimer.Stop()
		ch.retryTimer = nil
	}
	conn := ch.conn
	ch.conn = nil
	ch.pending = nil
	ch.backoff.Reset()
	ch.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	ch.setState(domain.ConnDisconnected)
	log.Info().Str("module", "signal").Msg("disconnected by user")
}

// Send marshals an envelope and queues it for delivery. It fails fast when
// the channel is not connected; the message is never dropped silently.
func (ch *Channel) Send(event core.EventName, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	env, err := json.Marshal(core.Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.state != domain.ConnConnected || ch.send == nil {
		return fmt.Errorf("%w: cannot send %s", core.ErrSignalingDisconnected, event)
	}
	select {
	case ch.send <- env:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrBackpressure, event)
	}
}

func (ch *Channel) On(event core.EventName, h core.Handler) core.SubID {
	ch.hmu.Lock()
	defer ch.hmu.Unlock()
	ch.nextSub++
	id := ch.nextSub
	if ch.handlers[event] == nil {
		ch.handlers[event] = make(map[core.SubID]core.Handler)
	}
	ch.handlers[event][id] = h
	return id
}

func (ch *Channel) Off(event core.EventName, id core.SubID) {
	ch.hmu.Lock()
	defer ch.hmu.Unlock()
	delete(ch.handlers[event], id)
}

func (ch *Channel) State() domain.ConnectionState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

func (ch *Channel) OnStateChange(fn func(domain.ConnectionState)) {
	ch.hmu.Lock()
	defer ch.hmu.Unlock()
	ch.stateFns = append(ch.stateFns, fn)
}

// BackoffState exposes the attempt counter, mainly for the state snapshot.
func (ch *Channel) BackoffState() domain.BackoffState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.backoff.State()
}

func (ch *Channel) setState(s domain.ConnectionState) {
	ch.mu.Lock()
	if ch.state == s {
		ch.mu.Unlock()
		return
	}
	ch.state = s
	ch.mu.Unlock()

	ch.hmu.RLock()
	fns := make([]func(domain.ConnectionState), len(ch.stateFns))
	copy(fns, ch.stateFns)
	ch.hmu.RUnlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (ch *Channel) dispatch(env core.Envelope) {
	ch.hmu.RLock()
	hs := make([]core.Handler, 0, len(ch.handlers[env.Event]))
	for _, h := range ch.handlers[env.Event] {
		hs = append(hs, h)
	}
	ch.hmu.RUnlock()
	for _, h := range hs {
		h(env.Data)
	}
}
