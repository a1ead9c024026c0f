package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tubewatch/models"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

// GatewayTransport posts messages to the chat platform's bot gateway.
type GatewayTransport struct {
	client  *fasthttp.Client
	timeout time.Duration
	apiKey  string
}

func NewGatewayTransport(timeout time.Duration, apiKey string) *GatewayTransport {
	return &GatewayTransport{
		client: &fasthttp.Client{
			Name:         "tubewatch",
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		timeout: timeout,
		apiKey:  apiKey,
	}
}

type messageRequest struct {
	MessageID   string             `json:"message_id"`
	Scope       models.Scope       `json:"scope"`
	Text        string             `json:"text"`
	Permissions models.Permissions `json:"permissions"`
}

func (t *GatewayTransport) Send(ctx context.Context, dest Destination, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(messageRequest{
		MessageID:   uuid.NewString(),
		Scope:       dest.Scope,
		Text:        text,
		Permissions: dest.Permissions,
	})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(strings.TrimRight(dest.Gateway, "/") + "/bot/message")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if t.apiKey != "" {
		req.Header.Set("X-Api-Key", t.apiKey)
	}
	req.SetBody(body)

	if t.timeout > 0 {
		err = t.client.DoTimeout(req, resp, t.timeout)
	} else {
		err = t.client.Do(req, resp)
	}
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	switch code := resp.StatusCode(); {
	case code >= 200 && code < 300:
		return nil
	case code == fasthttp.StatusUnauthorized || code == fasthttp.StatusForbidden:
		return ErrNotAuthorized
	default:
		return fmt.Errorf("send message: gateway returned %d", code)
	}
}
