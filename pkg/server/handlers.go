package server

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/wellnessclinic/go-receptionist/pkg/telephony"
)

// handleCallbacks receives mid-call events from the telephony platform.
// Events are dispatched asynchronously so a slow generative reply on one
// call never delays the webhook acknowledgement; per-call ordering is
// enforced by the call state lock, not by this handler.
func (s *Server) handleCallbacks(c *fiber.Ctx) error {
	events, err := telephony.ParseEvents(c.Body())
	if err != nil {
		s.logger.Error("bad callback payload", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid event payload",
		})
	}

	batchID := uuid.NewString()
	for _, ev := range events {
		s.logger.Info("received event",
			"batch_id", batchID,
			"kind", string(ev.Kind),
			"connection_id", ev.ConnectionID,
		)
		ev := ev
		// Detached from the request context: the directive work
		// outlives this webhook response.
		go s.orch.HandleEvent(context.Background(), ev)
	}

	return c.SendStatus(fiber.StatusOK)
}

// handleIncoming receives incoming-call notifications from the event
// subscription, honoring the validation handshake before any call
// processing.
func (s *Server) handleIncoming(c *fiber.Ctx) error {
	validationCode, calls, err := telephony.ParseIncoming(c.Body())
	if err != nil {
		s.logger.Error("bad incoming payload", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid event payload",
		})
	}

	if validationCode != "" {
		return c.JSON(fiber.Map{"validationResponse": validationCode})
	}

	for _, call := range calls {
		call := call
		go s.orch.HandleIncomingCall(context.Background(), call)
	}

	return c.SendStatus(fiber.StatusOK)
}

// handleHealth reports liveness and provider configuration presence.
// Descriptive only: it never probes the providers.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":               "healthy",
		"version":              s.opts.Version,
		"active_calls":         s.store.Count(),
		"telephony_configured": s.opts.TelephonyConfigured,
		"openai_configured":    s.opts.OpenAIConfigured,
	})
}

// handleRoot returns the service banner.
func (s *Server) handleRoot(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"message": "Wellness Clinic voice receptionist",
	})
}
