package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/teju/navtelemetry/internal/events"
	"github.com/teju/navtelemetry/internal/telemetry"
)

type sessionStartRequest struct {
	Route    events.RouteSnapshot `json:"route"`
	Location events.Location      `json:"location"`
}

type offRouteRequest struct {
	OffRoute bool `json:"off_route"`
}

type fasterRouteRequest struct {
	Route events.RouteSnapshot `json:"route"`
}

type feedbackRequest struct {
	FeedbackType  string `json:"feedback_type"`
	Description   string `json:"description"`
	Source        string `json:"source"`
	ScreenshotRef string `json:"screenshot_ref"`
}

// RegisterIngestRoutes wires the external-collaborator notifications to
// the engine. Every route does a cheap accept-and-return; assembly work
// happens on the engine's background scope.
func RegisterIngestRoutes(r fiber.Router, engine *telemetry.Engine, authMiddleware fiber.Handler) {
	r.Post("/sessions/start", authMiddleware, func(c *fiber.Ctx) error {
		var req sessionStartRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		engine.OnSessionStart(req.Route, req.Location)
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Post("/sessions/stop", authMiddleware, func(c *fiber.Ctx) error {
		engine.OnSessionStop()
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Post("/locations", authMiddleware, func(c *fiber.Ctx) error {
		var loc events.Location
		if err := c.BodyParser(&loc); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		engine.OnLocation(loc)
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Post("/progress", authMiddleware, func(c *fiber.Ctx) error {
		var p telemetry.Progress
		if err := c.BodyParser(&p); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		engine.OnRouteProgress(p)
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Post("/offroute", authMiddleware, func(c *fiber.Ctx) error {
		var req offRouteRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		engine.OnOffRoute(req.OffRoute)
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Post("/faster-route", authMiddleware, func(c *fiber.Ctx) error {
		var req fasterRouteRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		engine.OnFasterRoute(req.Route)
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Post("/feedback", authMiddleware, func(c *fiber.Ctx) error {
		var req feedbackRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := engine.PostUserFeedback(req.FeedbackType, req.Description, req.Source, req.ScreenshotRef); err != nil {
			if errors.Is(err, telemetry.ErrNotInitialized) {
				return fiber.NewError(fiber.StatusConflict, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.SendStatus(fiber.StatusAccepted)
	})
}
