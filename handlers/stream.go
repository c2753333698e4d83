package handlers

import (
	"sync"
	"time"

	fws "github.com/fasthttp/websocket"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"game-session-broker/services"
)

// Close code sent when the requested session does not exist or is no longer
// active.
const closeSessionUnavailable = 4004

const streamWriteWait = 10 * time.Second

// SetupStreamRoutes wires the per-session live update stream. Subscribers
// receive the score and activity messages the hub publishes; the connection
// itself carries no client commands.
func SetupStreamRoutes(app *fiber.App, sessions *services.SessionService, hub *services.Hub) {
	app.Use("/api/session/:id/stream", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/api/session/:id/stream", websocket.New(func(conn *websocket.Conn) {
		defer conn.Close()

		sessionID := conn.Params("id")
		if !sessions.IsActive(sessionID) {
			msg := fws.FormatCloseMessage(closeSessionUnavailable, "session not found or inactive")
			conn.WriteControl(fws.CloseMessage, msg, time.Now().Add(streamWriteWait))
			return
		}

		sub := &wsSubscriber{conn: conn}
		hub.Subscribe(sessionID, sub)
		defer hub.Unsubscribe(sessionID, sub)

		// Updates come from the hub; just hold the connection open until the
		// client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

// wsSubscriber adapts a websocket connection to the hub's Subscriber
// interface. Writes are serialized; a failed write marks the observer
// unreachable and the hub drops it.
type wsSubscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSubscriber) Send(message []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return s.conn.WriteMessage(fws.TextMessage, message)
}
