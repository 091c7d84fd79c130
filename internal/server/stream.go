package server

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teju/navtelemetry/internal/reporter"
)

// RegisterStreamRoutes exposes the reporter's local fan-out as a live
// websocket feed of event envelopes.
func RegisterStreamRoutes(r fiber.Router, hub *reporter.Hub) {
	r.Get("/ws", websocket.New(func(c *websocket.Conn) {
		obs := hub.Register()

		done := make(chan struct{})
		go func() {
			for env := range obs.Events {
				msg, err := json.Marshal(env)
				if err != nil {
					continue
				}
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					break
				}
			}
			close(done)
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		// closing the observer channel unblocks the writer
		hub.Unregister(obs)
		<-done
	}))
}
