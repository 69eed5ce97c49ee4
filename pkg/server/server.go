// Package server provides the HTTP transport for the receptionist: the
// telephony webhook endpoints, the health surface, and the live audit feed.
package server

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/wellnessclinic/go-receptionist/pkg/callstate"
	"github.com/wellnessclinic/go-receptionist/pkg/hub"
	"github.com/wellnessclinic/go-receptionist/pkg/orchestrator"
)

// Options configures the server.
type Options struct {
	// Version reported by the health endpoint.
	Version string

	// TelephonyConfigured and OpenAIConfigured describe provider
	// credential presence for the health surface.
	TelephonyConfigured bool
	OpenAIConfigured    bool

	// AccessLog enables fiber's request logging middleware.
	AccessLog bool
}

// Server is the receptionist HTTP server.
type Server struct {
	app  *fiber.App
	orch *orchestrator.Orchestrator
	store *callstate.Store
	feed *hub.Hub
	opts Options

	logger *slog.Logger
}

// New creates the server and registers all routes.
func New(orch *orchestrator.Orchestrator, store *callstate.Store, feed *hub.Hub, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		orch:   orch,
		store:  store,
		feed:   feed,
		opts:   opts,
		logger: logger.With("component", "server"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "receptionist",
		DisableStartupMessage: true,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New())
	if opts.AccessLog {
		app.Use(fiberlogger.New())
	}

	// Webhook routes
	api := app.Group("/api")
	api.Post("/callbacks", s.handleCallbacks)
	api.Post("/incoming", s.handleIncoming)

	// Health and banner
	app.Get("/health", s.handleHealth)
	app.Get("/", s.handleRoot)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// Live audit feed
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app
	return s
}

// Listen starts the server on the given address. It blocks until shutdown.
func (s *Server) Listen(addr string) error {
	go s.feed.Run()
	s.logger.Info("listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// handleEventsWS streams audit entries to a feed client.
func (s *Server) handleEventsWS(c *websocket.Conn) {
	hub.NewClient(s.feed, c).Run()
}
