package server

import (
	"tubewatch/models"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

const (
	eventInstalled   = "bot_installed_event"
	eventUninstalled = "bot_uninstalled_event"
)

type eventRequest struct {
	Kind                         string             `json:"kind"`
	Location                     models.Location    `json:"location"`
	APIGateway                   string             `json:"api_gateway"`
	GrantedAutonomousPermissions models.Permissions `json:"granted_autonomous_permissions"`
	GrantedCommandPermissions    models.Permissions `json:"granted_command_permissions"`
}

func badEvent(c *fiber.Ctx, err error) error {
	log.WithError(err).Warn("Bot event parsing failed")
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"message": "Failed to parse bot event",
		"error":   err.Error(),
	})
}

func storeFailed(ev eventRequest, err error) error {
	log.WithFields(log.Fields{
		"kind":     ev.Kind,
		"location": ev.Location.String(),
		"error":    err,
	}).Error("Error handling bot event")
	return fiber.NewError(fiber.StatusInternalServerError, "Error handling bot event")
}

// event handles installation lifecycle notifications
func (h *handlers) event(c *fiber.Ctx) error {
	var ev eventRequest
	if err := c.BodyParser(&ev); err != nil {
		return badEvent(c, err)
	}
	if err := ev.Location.Validate(); err != nil {
		return badEvent(c, err)
	}

	ctx := c.UserContext()
	switch ev.Kind {
	case eventInstalled:
		if ev.APIGateway == "" {
			return badEvent(c, fiber.NewError(fiber.StatusBadRequest, "api_gateway is required"))
		}
		err := h.registry.OnInstall(ctx, ev.Location, models.Installation{
			APIGateway:            ev.APIGateway,
			AutonomousPermissions: ev.GrantedAutonomousPermissions,
			CommandPermissions:    ev.GrantedCommandPermissions,
		})
		if err != nil {
			return storeFailed(ev, err)
		}
		return c.SendStatus(fiber.StatusOK)

	case eventUninstalled:
		log.WithField("location", ev.Location.String()).Info("Uninstalling")
		links, err := h.registry.OnUninstall(ctx, ev.Location)
		if err != nil {
			return storeFailed(ev, err)
		}
		return c.JSON(fiber.Map{"links_removed": links})

	default:
		log.WithField("kind", ev.Kind).Debug("Ignoring bot event")
		return c.SendStatus(fiber.StatusOK)
	}
}
