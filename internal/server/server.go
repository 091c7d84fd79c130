package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teju/navtelemetry/internal/auth"
	"github.com/teju/navtelemetry/internal/config"
	"github.com/teju/navtelemetry/internal/reporter"
	"github.com/teju/navtelemetry/internal/telemetry"
)

type Server struct {
	App    *fiber.App
	Cfg    config.Config
	Engine *telemetry.Engine
	Hub    *reporter.Hub
}

func NewServer(cfg config.Config, engine *telemetry.Engine, hub *reporter.Hub) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		Engine: engine,
		Hub:    hub,
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	RegisterIngestRoutes(s.App.Group("/ingest"), s.Engine, jwtMiddleware)
	RegisterStreamRoutes(s.App.Group("/stream"), s.Hub)
}
