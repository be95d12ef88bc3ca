package sync

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	// subscribers only ever send control frames
	maxInboundMessage = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  512,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSHandler upgrades GET /ws into a feed subscription. The connection stays
// registered until the peer closes it or stops answering pings.
func WSHandler(hub *Hub, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Debug("websocket upgrade failed", "err", err)
			return
		}
		remote := ws.RemoteAddr().String()

		ws.SetReadLimit(maxInboundMessage)
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})

		hub.AddWS(ws)
		logger.Debug("ws subscriber connected", "remote", remote)

		done := make(chan struct{})
		go keepAlive(ws, done)

		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				break
			}
		}
		close(done)

		hub.RemoveWS(ws)
		logger.Debug("ws subscriber disconnected", "remote", remote)
	}
}

// keepAlive pings until done closes. WriteControl may run alongside the hub's
// writes.
func keepAlive(ws *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
