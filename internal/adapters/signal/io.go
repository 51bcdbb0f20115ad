package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/openroom/voiceclient/internal/core"
	"github.com/openroom/voiceclient/internal/domain"
)

const writeDeadline = 5 * time.Second

func (ch *Channel) writePump(conn *websocket.Conn, send chan []byte) {
	for data := range send {
		if err := conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
			// Keep the message for the flush after reconnect.
			ch.mu.Lock()
			ch.pending = append(ch.pending, data)
			ch.mu.Unlock()
			return
		}
	}
}

func (ch *Channel) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Str("module", "signal").Msg("readPump read error")
			ch.handleDrop(conn)
			return
		}
		var env core.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("bad inbound envelope")
			continue
		}
		ch.dispatch(env)
	}
}

// handleDrop is the single path for a broken connection. User-initiated
// disconnects never reach the retry schedule.
func (ch *Channel) handleDrop(conn *websocket.Conn) {
	ch.mu.Lock()
	if ch.conn != conn {
		// A stale pump from a connection already replaced.
		ch.mu.Unlock()
		return
	}
	ch.conn = nil
	if ch.send != nil {
		close(ch.send)
		// Stash anything accepted but unsent for the post-reconnect flush.
	drain:
		for {
			select {
			case data, ok := <-ch.send:
				if !ok {
					break drain
				}
				ch.pending = append(ch.pending, data)
			default:
				break drain
			}
		}
		ch.send = nil
	}
	userClosed := ch.userClosed
	ch.mu.Unlock()

	_ = conn.Close()

	if userClosed {
		return
	}
	ch.scheduleRetry()
}

func (ch *Channel) scheduleRetry() {
	ch.mu.Lock()
	if ch.userClosed {
		ch.mu.Unlock()
		return
	}
	if ch.backoff.Exhausted() {
		ch.mu.Unlock()
		ch.setState(domain.ConnFailed)
		log.Error().Str("module", "signal").Msg("reconnect attempts exhausted")
		msg, _ := json.Marshal(map[string]string{"message": core.ErrReconnectExhausted.Error()})
		ch.dispatch(core.Envelope{Event: core.EventError, Data: msg})
		return
	}
	delay := ch.backoff.Next()
	attempt := ch.backoff.State().Attempt
	ch.retryTimer = time.AfterFunc(delay, ch.retryConnect)
	ch.mu.Unlock()

	ch.setState(domain.ConnReconnecting)
	log.Info().Str("module", "signal").Int("attempt", attempt).Dur("delay", delay).Msg("reconnect scheduled")
}

func (ch *Channel) retryConnect() {
	ch.mu.Lock()
	if ch.userClosed {
		ch.mu.Unlock()
		return
	}
	ch.retryTimer = nil
	ch.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), ch.opts.HandshakeTimeout)
	defer cancel()
	if err := ch.connectOnce(ctx); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("reconnect attempt failed")
		ch.scheduleRetry()
	}
}
