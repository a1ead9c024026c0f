// Package notify delivers new-content messages to subscribed scopes.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tubewatch/models"

	log "github.com/sirupsen/logrus"
)

// ErrNotAuthorized is returned by a Transport when the gateway rejects the
// bot's credentials for the destination.
var ErrNotAuthorized = errors.New("caller not authorized")

type Destination struct {
	Gateway     string
	Permissions models.Permissions
	Scope       models.Scope
}

// Transport sends one message. A nil error means delivered.
type Transport interface {
	Send(ctx context.Context, dest Destination, text string) error
}

type Unsubscriber interface {
	Unsubscribe(ctx context.Context, scope models.Scope, sourceID string) (bool, error)
}

type Dispatcher struct {
	transport Transport
	registry  Unsubscriber
}

func NewDispatcher(transport Transport, registry Unsubscriber) *Dispatcher {
	return &Dispatcher{transport: transport, registry: registry}
}

// Deliver sends message to scope. When the gateway reports the bot is no
// longer authorized the subscription of scope to sourceID is removed, so
// later cycles stop retrying it.
func (d *Dispatcher) Deliver(ctx context.Context, inst *models.Installation, scope models.Scope, sourceID, message string) models.DeliveryOutcome {
	fields := log.Fields{
		"scope":  scope.String(),
		"source": sourceID,
	}

	err := d.transport.Send(ctx, Destination{
		Gateway:     inst.APIGateway,
		Permissions: inst.AutonomousPermissions,
		Scope:       scope,
	}, message)

	switch {
	case err == nil:
		log.WithFields(fields).Debug("Delivered new content")
		return models.Delivered
	case errors.Is(err, ErrNotAuthorized):
		log.WithFields(fields).Warn("Authorization revoked, unsubscribing")
		if _, uerr := d.registry.Unsubscribe(ctx, scope, sourceID); uerr != nil {
			log.WithFields(fields).WithError(uerr).Error("Error unsubscribing revoked scope")
		}
		return models.AuthorizationRevoked
	default:
		log.WithFields(fields).WithError(err).Warn("Error delivering new content")
		return models.DeliveryFailed
	}
}

// FormatItems renders items as one markdown link per line.
func FormatItems(items []models.Item) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, fmt.Sprintf("[%s](%s)", it.Title, it.Link))
	}
	return strings.Join(lines, "\n")
}
