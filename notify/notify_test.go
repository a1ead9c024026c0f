package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tubewatch/models"
	"tubewatch/notify"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTransport struct {
	err  error
	dest notify.Destination
	text string
}

func (s *stubTransport) Send(_ context.Context, dest notify.Destination, text string) error {
	s.dest = dest
	s.text = text
	return s.err
}

type recordingUnsubscriber struct {
	calls []models.Link
}

func (r *recordingUnsubscriber) Unsubscribe(_ context.Context, scope models.Scope, sourceID string) (bool, error) {
	r.calls = append(r.calls, models.Link{Scope: scope, SourceID: sourceID})
	return true, nil
}

func TestDeliver(t *testing.T) {
	scope := models.Scope{Kind: models.ScopeChannel, ID: "C1", ChannelID: "general"}
	inst := &models.Installation{
		APIGateway:            "http://gateway.test",
		AutonomousPermissions: models.Permissions{Message: []string{models.TextPermission}},
	}

	tests := []struct {
		name         string
		err          error
		expected     models.DeliveryOutcome
		unsubscribed bool
	}{
		{"delivered", nil, models.Delivered, false},
		{"failed", errors.New("timeout"), models.DeliveryFailed, false},
		{"revoked", notify.ErrNotAuthorized, models.AuthorizationRevoked, true},
		{"wrapped revoked", errors.Join(errors.New("send"), notify.ErrNotAuthorized), models.AuthorizationRevoked, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &stubTransport{err: tt.err}
			unsub := &recordingUnsubscriber{}
			d := notify.NewDispatcher(transport, unsub)

			outcome := d.Deliver(context.Background(), inst, scope, "UCx", "hello")
			assert.Equal(t, tt.expected, outcome)
			assert.Equal(t, "http://gateway.test", transport.dest.Gateway)
			assert.Equal(t, scope, transport.dest.Scope)
			assert.Equal(t, "hello", transport.text)

			if tt.unsubscribed {
				assert.Equal(t, []models.Link{{Scope: scope, SourceID: "UCx"}}, unsub.calls)
			} else {
				assert.Empty(t, unsub.calls)
			}
		})
	}
}

func TestFormatItems(t *testing.T) {
	items := []models.Item{
		{Title: "One", Link: "https://youtu.be/1"},
		{Title: "Two", Link: "https://youtu.be/2"},
	}
	assert.Equal(t, "[One](https://youtu.be/1)\n[Two](https://youtu.be/2)", notify.FormatItems(items))
	assert.Equal(t, "", notify.FormatItems(nil))
}

func TestGatewayTransport(t *testing.T) {
	scope := models.Scope{Kind: models.ScopeGroup, ID: "G1"}

	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{"ok", http.StatusOK, func(t *testing.T, err error) { assert.NoError(t, err) }},
		{"accepted", http.StatusAccepted, func(t *testing.T, err error) { assert.NoError(t, err) }},
		{"unauthorized", http.StatusUnauthorized, func(t *testing.T, err error) { assert.ErrorIs(t, err, notify.ErrNotAuthorized) }},
		{"forbidden", http.StatusForbidden, func(t *testing.T, err error) { assert.ErrorIs(t, err, notify.ErrNotAuthorized) }},
		{"server error", http.StatusInternalServerError, func(t *testing.T, err error) {
			assert.Error(t, err)
			assert.NotErrorIs(t, err, notify.ErrNotAuthorized)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			var apiKey, path string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				path = r.URL.Path
				apiKey = r.Header.Get("X-Api-Key")
				_ = json.NewDecoder(r.Body).Decode(&body)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			transport := notify.NewGatewayTransport(5*time.Second, "secret")
			err := transport.Send(context.Background(), notify.Destination{
				Gateway:     srv.URL + "/",
				Permissions: models.Permissions{Message: []string{models.TextPermission}},
				Scope:       scope,
			}, "new video")
			tt.check(t, err)

			assert.Equal(t, "/bot/message", path)
			assert.Equal(t, "secret", apiKey)
			require.NotNil(t, body)
			assert.Equal(t, "new video", body["text"])
			_, err = uuid.Parse(body["message_id"].(string))
			assert.NoError(t, err)
		})
	}
}

func TestGatewayTransportUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := notify.NewGatewayTransport(time.Second, "").Send(context.Background(), notify.Destination{Gateway: url}, "x")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, notify.ErrNotAuthorized)
}
