package models

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

type ScopeKind string

const (
	ScopeGroup   ScopeKind = "group"
	ScopeChannel ScopeKind = "channel"
	ScopeDirect  ScopeKind = "direct"
)

type LocationKind string

const (
	LocationGroup     LocationKind = "group"
	LocationCommunity LocationKind = "community"
	LocationUser      LocationKind = "user"
)

// Location is the root an installation is made in. A community location
// covers every channel scope inside that community.
type Location struct {
	Kind LocationKind `json:"kind"`
	ID   string       `json:"id"`
}

func (l Location) Validate() error {
	switch l.Kind {
	case LocationGroup, LocationCommunity, LocationUser:
	default:
		return fmt.Errorf("unknown location kind %q", l.Kind)
	}
	if l.ID == "" {
		return errors.New("location id is required")
	}
	return nil
}

// Key is the storage key of a location: base64url of its JSON encoding.
func (l Location) Key() string {
	return keyify(l)
}

func (l Location) String() string {
	return string(l.Kind) + ":" + l.ID
}

// Scope identifies the chat context notifications are delivered to.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	// ID is the group id, the community id or the user id depending on Kind.
	ID        string `json:"id"`
	ChannelID string `json:"channel_id,omitempty"`
}

func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeGroup, ScopeDirect:
	case ScopeChannel:
		if s.ChannelID == "" {
			return errors.New("channel scope requires a channel id")
		}
	default:
		return fmt.Errorf("unknown scope kind %q", s.Kind)
	}
	if s.ID == "" {
		return errors.New("scope id is required")
	}
	return nil
}

// Location returns the installation root that contains the scope.
func (s Scope) Location() Location {
	switch s.Kind {
	case ScopeChannel:
		return Location{Kind: LocationCommunity, ID: s.ID}
	case ScopeDirect:
		return Location{Kind: LocationUser, ID: s.ID}
	default:
		return Location{Kind: LocationGroup, ID: s.ID}
	}
}

func (s Scope) ContainedBy(l Location) bool {
	return s.Location() == l
}

func (s Scope) Key() string {
	return keyify(s)
}

func (s Scope) String() string {
	if s.Kind == ScopeChannel {
		return fmt.Sprintf("%s:%s/%s", s.Kind, s.ID, s.ChannelID)
	}
	return string(s.Kind) + ":" + s.ID
}

// ParseScopeKey is the inverse of Scope.Key.
func ParseScopeKey(key string) (Scope, error) {
	var s Scope
	raw, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return s, fmt.Errorf("decode scope key: %w", err)
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("unmarshal scope key: %w", err)
	}
	return s, s.Validate()
}

func keyify(v any) string {
	// Struct encodings never fail
	raw, _ := json.Marshal(v)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Message permission required to post notifications
const TextPermission = "Text"

type Permissions struct {
	Chat      []string `json:"chat"`
	Community []string `json:"community"`
	Message   []string `json:"message"`
}

func (p Permissions) HasMessagePermission(name string) bool {
	return slices.Contains(p.Message, name)
}

type Installation struct {
	Location              Location    `json:"location"`
	APIGateway            string      `json:"api_gateway"`
	AutonomousPermissions Permissions `json:"autonomous_permissions"`
	CommandPermissions    Permissions `json:"command_permissions"`
	InstalledAt           time.Time   `json:"installed_at"`
}

// CanNotify reports whether the bot may post to scopes of this installation
// on its own.
func (i *Installation) CanNotify() bool {
	return i != nil && i.AutonomousPermissions.HasMessagePermission(TextPermission)
}

// FeedSource is a polled YouTube channel. LastUpdated is the watermark in
// unix milliseconds.
type FeedSource struct {
	SourceID     string `json:"source_id"`
	Name         string `json:"name,omitempty"`
	LastUpdated  int64  `json:"last_updated"`
	FailureCount int    `json:"failure_count"`
}

// DisplayName falls back to the channel id when the name is unknown.
func (f FeedSource) DisplayName() string {
	if f.Name != "" {
		return f.Name
	}
	return f.SourceID
}

func (f FeedSource) Watermark() time.Time {
	return time.UnixMilli(f.LastUpdated)
}

// Link is one subscription of a scope to a source.
type Link struct {
	Scope    Scope  `json:"scope"`
	SourceID string `json:"source_id"`
}

// Item is a single new video.
type Item struct {
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	PublishedAt time.Time `json:"published_at"`
}

// FeedResult is either FeedItems or FetchFailed.
type FeedResult interface {
	feedResult()
}

// FeedItems is a successful fetch. An empty Items means nothing new.
type FeedItems struct {
	Items []Item
}

// FetchFailed is a failed fetch attempt.
type FetchFailed struct {
	Err error
}

func (FeedItems) feedResult()   {}
func (FetchFailed) feedResult() {}

type DeliveryOutcome int

const (
	Delivered DeliveryOutcome = iota
	DeliveryFailed
	AuthorizationRevoked
)

func (o DeliveryOutcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case DeliveryFailed:
		return "failed"
	case AuthorizationRevoked:
		return "revoked"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}
