package server

import (
	"context"
	"crypto/subtle"
	"time"

	"tubewatch/poller"
	"tubewatch/registry"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type ServerConfig struct {
	Registry *registry.Registry
	Poller   *poller.Poller

	// Checked by /healthz
	Health Pinger

	// When set, /events, /commands and /poll require it in X-Api-Key
	APIKey string
}

// Returns a fiber.App serving the bot endpoints
func Server(config *ServerConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"status":  c.Response().StatusCode(),
			"latency": time.Since(start),
		}).Info("Request")
		return err
	})

	app.Use(requestid.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		if config.Health != nil {
			if err := config.Health.Ping(c.UserContext()); err != nil {
				log.WithError(err).Warn("Health check failed")
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
			}
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/definition", func(c *fiber.Ctx) error {
		return c.JSON(definition())
	})

	auth := func(c *fiber.Ctx) error { return c.Next() }
	if config.APIKey != "" {
		auth = keyauth.New(keyauth.Config{
			KeyLookup: "header:X-Api-Key",
			Validator: func(c *fiber.Ctx, key string) (bool, error) {
				if subtle.ConstantTimeCompare([]byte(key), []byte(config.APIKey)) == 1 {
					return true, nil
				}
				return false, keyauth.ErrMissingOrMalformedAPIKey
			},
		})
	}

	h := &handlers{registry: config.Registry, poller: config.Poller}
	app.Post("/events", auth, h.event)
	app.Post("/commands", auth, h.command)
	app.Post("/poll", auth, h.poll)

	return app
}

type handlers struct {
	registry *registry.Registry
	poller   *poller.Poller
}

// poll runs one cycle for an external scheduler
func (h *handlers) poll(c *fiber.Ctx) error {
	report, err := h.poller.RunCycle(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Error processing subscriptions",
		})
	}
	return c.JSON(fiber.Map{
		"message": "Refreshed all subscriptions",
		"report":  report,
	})
}
