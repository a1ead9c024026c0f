package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tubewatch/models"
	"tubewatch/notify"
	"tubewatch/registry"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

const (
	textNotInstalled       = "We do not currently have a suitable api key for this command scope. Please generate an api key and sync it to the bot."
	textSubscribeMissing   = "You must provide a YouTube channel to subscribe to"
	textUnsubscribeMissing = "You must provide a YouTube channel to unsubscribe from"
	textMostRecentMissing  = "You must supply a youtube channel ID to check"
	textInvalidChannel     = "That doesn't look like a YouTube channel ID. Channel IDs start with UC and are 24 characters long."
	textNoSubscriptions    = "You are not currently subscribed to any youtube channels"
	textUnsubscribedAll    = "You are now unsubscribed from all YouTube channels"
	textNoContent          = "I couldn't find any content for this channel"
	textFeedError          = "I can't seem to update that feed at the moment. If this problem persists we might have to unsubscribe you. It's possible that the channel got deleted."
	textRefreshed          = "All subscriptions for this scope refreshed. If there are any new videos they will be posted shortly."
)

type commandRequest struct {
	Command string       `json:"command"`
	Scope   models.Scope `json:"scope"`
	Args    struct {
		ChannelID string `json:"channel_id"`
	} `json:"args"`
}

func ephemeral(c *fiber.Ctx, text string) error {
	return c.JSON(fiber.Map{"text": text, "ephemeral": true})
}

func formatChannelID(id string) string {
	return fmt.Sprintf("[%s](https://www.youtube.com/channel/%s)", id, id)
}

func formatSubscriptionsList(sources []models.FeedSource) string {
	var sb strings.Builder
	sb.WriteString("You are subscribed to the following YouTube channels:")
	for _, src := range sources {
		fmt.Fprintf(&sb, "\n- [%s](https://www.youtube.com/channel/%s)", src.DisplayName(), src.SourceID)
	}
	return sb.String()
}

type commandFunc func(ctx context.Context, scope models.Scope, channelID string) (string, error)

func (h *handlers) command(c *fiber.Ctx) error {
	var req commandRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid command body")
	}
	if err := req.Scope.Validate(); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	commands := map[string]commandFunc{
		"subscribe":       h.subscribe,
		"unsubscribe":     h.unsubscribe,
		"unsubscribe_all": h.unsubscribeAll,
		"list":            h.list,
		"most_recent":     h.mostRecent,
		"refresh":         h.refresh,
	}
	run, ok := commands[req.Command]
	if !ok {
		return fiber.NewError(fiber.StatusBadRequest, "command not found")
	}

	channelID := strings.TrimSpace(req.Args.ChannelID)
	text, err := run(c.UserContext(), req.Scope, channelID)
	if err != nil {
		log.WithFields(log.Fields{
			"command": req.Command,
			"scope":   req.Scope.String(),
			"error":   err,
		}).Error("Error running command")
		return fiber.NewError(fiber.StatusInternalServerError, "Error running command")
	}
	return ephemeral(c, text)
}

func (h *handlers) subscribe(ctx context.Context, scope models.Scope, channelID string) (string, error) {
	if channelID == "" {
		return textSubscribeMissing, nil
	}

	result, err := h.registry.Subscribe(ctx, scope, channelID)
	switch {
	case errors.Is(err, registry.ErrInvalidSource):
		return textInvalidChannel, nil
	case errors.Is(err, registry.ErrNotInstalled):
		return textNotInstalled, nil
	case errors.Is(err, registry.ErrSourceUnresolvable):
		return "I couldn't find YouTube channel: " + formatChannelID(channelID), nil
	case err != nil:
		return "", err
	}

	if result == registry.AlreadySubscribed {
		return "You are already subscribed to YouTube channel: " + formatChannelID(channelID), nil
	}
	return "You are now subscribed to YouTube channel: " + formatChannelID(channelID), nil
}

func (h *handlers) unsubscribe(ctx context.Context, scope models.Scope, channelID string) (string, error) {
	if channelID == "" {
		return textUnsubscribeMissing, nil
	}
	removed, err := h.registry.Unsubscribe(ctx, scope, channelID)
	if err != nil {
		return "", err
	}
	if !removed {
		return "You are not subscribed to YouTube channel: " + formatChannelID(channelID), nil
	}
	return "You are now unsubscribed from YouTube channel: " + formatChannelID(channelID), nil
}

func (h *handlers) unsubscribeAll(ctx context.Context, scope models.Scope, _ string) (string, error) {
	if _, err := h.registry.UnsubscribeAll(ctx, scope); err != nil {
		return "", err
	}
	return textUnsubscribedAll, nil
}

func (h *handlers) list(ctx context.Context, scope models.Scope, _ string) (string, error) {
	sources, err := h.registry.List(ctx, scope)
	if err != nil {
		return "", err
	}
	if len(sources) == 0 {
		return textNoSubscriptions, nil
	}
	return formatSubscriptionsList(sources), nil
}

func (h *handlers) mostRecent(ctx context.Context, scope models.Scope, channelID string) (string, error) {
	if channelID == "" {
		return textMostRecentMissing, nil
	}
	item, err := h.registry.MostRecent(ctx, scope, channelID)
	switch {
	case errors.Is(err, registry.ErrInvalidSource):
		return textInvalidChannel, nil
	case errors.Is(err, registry.ErrSourceUnresolvable):
		return textNoContent, nil
	case err != nil:
		return "", err
	case item == nil:
		return textNoContent, nil
	}
	return notify.FormatItems([]models.Item{*item}), nil
}

func (h *handlers) refresh(ctx context.Context, scope models.Scope, _ string) (string, error) {
	report, err := h.poller.RefreshScope(ctx, scope)
	if errors.Is(err, registry.ErrNotInstalled) {
		return textNotInstalled, nil
	}
	if err != nil {
		return "", err
	}
	if report.FetchFailures > 0 {
		return textFeedError, nil
	}
	return textRefreshed, nil
}
