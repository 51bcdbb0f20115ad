package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/openroom/voiceclient/internal/app"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const streamBuffer = 16

// handleStateStream pushes a snapshot on every coordinator change. Slow
// readers miss intermediate snapshots rather than backing up the coordinator.
func handleStateStream(coord *app.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("state stream upgrade")
			return
		}
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("state stream opened")

		send := make(chan app.Snapshot, streamBuffer)
		var once sync.Once
		closed := make(chan struct{})
		unsub := coord.OnChange(func(snap app.Snapshot) {
			select {
			case <-closed:
			case send <- snap:
			default:
			}
		})

		// Initial state so the client does not wait for the first change.
		send <- coord.Snapshot()

		go func() {
			// Detect the peer going away; the write pump exits via closed.
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					once.Do(func() { close(closed) })
					return
				}
			}
		}()

		go func() {
			defer unsub()
			defer ws.Close()
			for {
				select {
				case <-closed:
					return
				case snap := <-send:
					data, err := json.Marshal(snap)
					if err != nil {
						continue
					}
					if err := ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
						once.Do(func() { close(closed) })
						return
					}
					if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
						once.Do(func() { close(closed) })
						return
					}
				}
			}
		}()
	}
}
