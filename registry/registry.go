// Package registry owns subscription links and feed source records.
//
// A Registry is the only writer of links and sources. Every operation maps
// onto one store transaction touching the rows of that operation only, so
// interactive commands and poll cycles can share an instance.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tubewatch/db"
	"tubewatch/models"
	"tubewatch/youtube"

	log "github.com/sirupsen/logrus"
)

var (
	ErrNotInstalled       = db.ErrNotInstalled
	ErrSourceUnresolvable = errors.New("source unresolvable")
	ErrInvalidSource      = errors.New("invalid source id")
)

type SubscribeResult int

const (
	Subscribed SubscribeResult = iota
	AlreadySubscribed
	NotInstalled
	SourceUnresolvable
	InvalidSource
)

func (r SubscribeResult) String() string {
	switch r {
	case Subscribed:
		return "subscribed"
	case AlreadySubscribed:
		return "already_subscribed"
	case NotInstalled:
		return "not_installed"
	case SourceUnresolvable:
		return "source_unresolvable"
	case InvalidSource:
		return "invalid_source"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Store is the durable side of the registry. *db.DB implements it.
type Store interface {
	SaveInstallation(ctx context.Context, inst models.Installation) error
	Installation(ctx context.Context, loc models.Location) (*models.Installation, error)
	Uninstall(ctx context.Context, loc models.Location) (int, error)

	Source(ctx context.Context, sourceID string) (*models.FeedSource, error)
	DueSources(ctx context.Context, limit int) ([]models.FeedSource, error)
	AdvanceWatermark(ctx context.Context, sourceID string, ts int64) (bool, error)
	RecordFailure(ctx context.Context, sourceID string) (int, error)
	DeleteSource(ctx context.Context, sourceID string) (int, error)
	Prune(ctx context.Context) (int, error)

	Subscribe(ctx context.Context, scope models.Scope, src models.FeedSource) (bool, error)
	Unsubscribe(ctx context.Context, scope models.Scope, sourceID string) (bool, error)
	UnsubscribeAll(ctx context.Context, scope models.Scope) (int, error)
	ScopeSources(ctx context.Context, scope models.Scope) ([]models.FeedSource, error)
	Subscribers(ctx context.Context, sourceIDs []string) ([]db.Subscriber, error)
}

// Feeds is the part of the feed source adapter the registry needs.
type Feeds interface {
	FetchSince(ctx context.Context, sourceID string, since time.Time) models.FeedResult
	ChannelName(ctx context.Context, sourceID string) (string, error)
}

type Registry struct {
	store    Store
	feeds    Feeds
	validate func(string) bool
	now      func() time.Time
}

type Option func(*Registry)

// WithValidator replaces the source id check run before subscribing. The
// default accepts YouTube channel ids only.
func WithValidator(fn func(string) bool) Option {
	return func(r *Registry) { r.validate = fn }
}

// WithClock sets the clock used for new watermarks.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func New(store Store, feeds Feeds, opts ...Option) *Registry {
	r := &Registry{
		store:    store,
		feeds:    feeds,
		validate: youtube.ValidChannelID,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Feeds() Feeds {
	return r.feeds
}

// Subscribe links scope to sourceID. Invalid ids are rejected before any
// storage access. A source seen for the first time gets its display name
// from the feed; if that lookup fails nothing is written.
func (r *Registry) Subscribe(ctx context.Context, scope models.Scope, sourceID string) (SubscribeResult, error) {
	if !r.validate(sourceID) {
		return InvalidSource, ErrInvalidSource
	}

	inst, err := r.store.Installation(ctx, scope.Location())
	if err != nil {
		return 0, err
	}
	if !inst.CanNotify() {
		return NotInstalled, ErrNotInstalled
	}

	existing, err := r.store.Source(ctx, sourceID)
	if err != nil {
		return 0, err
	}

	src := models.FeedSource{SourceID: sourceID, LastUpdated: r.now().UnixMilli()}
	if existing == nil {
		name, err := r.feeds.ChannelName(ctx, sourceID)
		if err != nil {
			log.WithFields(log.Fields{
				"source": sourceID,
				"error":  err,
			}).Warn("Could not resolve source")
			return SourceUnresolvable, fmt.Errorf("%w: %v", ErrSourceUnresolvable, err)
		}
		src.Name = name
	}

	created, err := r.store.Subscribe(ctx, scope, src)
	if errors.Is(err, ErrNotInstalled) {
		return NotInstalled, err
	}
	if err != nil {
		return 0, err
	}
	if !created {
		return AlreadySubscribed, nil
	}
	return Subscribed, nil
}

// Unsubscribe removes the link if present. It reports whether a link was
// removed; removing nothing is not an error.
func (r *Registry) Unsubscribe(ctx context.Context, scope models.Scope, sourceID string) (bool, error) {
	return r.store.Unsubscribe(ctx, scope, sourceID)
}

func (r *Registry) UnsubscribeAll(ctx context.Context, scope models.Scope) (int, error) {
	return r.store.UnsubscribeAll(ctx, scope)
}

// List returns the sources scope is subscribed to ordered by source id.
func (r *Registry) List(ctx context.Context, scope models.Scope) ([]models.FeedSource, error) {
	return r.store.ScopeSources(ctx, scope)
}

// Installation returns the installation containing scope, or nil.
func (r *Registry) Installation(ctx context.Context, scope models.Scope) (*models.Installation, error) {
	return r.store.Installation(ctx, scope.Location())
}

// OnInstall records (or replaces) the installation at loc.
func (r *Registry) OnInstall(ctx context.Context, loc models.Location, inst models.Installation) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	inst.Location = loc
	if inst.InstalledAt.IsZero() {
		inst.InstalledAt = r.now()
	}
	if err := r.store.SaveInstallation(ctx, inst); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"location": loc.String(),
		"gateway":  inst.APIGateway,
	}).Info("Installed")
	return nil
}

// OnUninstall deletes the installation and every link of a scope contained
// in loc. Returns the number of links removed.
func (r *Registry) OnUninstall(ctx context.Context, loc models.Location) (int, error) {
	if err := loc.Validate(); err != nil {
		return 0, err
	}
	return r.store.Uninstall(ctx, loc)
}

// DueSources returns up to limit sources ordered by watermark, ties by id.
// A non-positive limit selects nothing.
func (r *Registry) DueSources(ctx context.Context, limit int) ([]models.FeedSource, error) {
	if limit <= 0 {
		return nil, nil
	}
	return r.store.DueSources(ctx, limit)
}

// AdvanceWatermark sets the watermark unless ts is earlier than the stored
// value.
func (r *Registry) AdvanceWatermark(ctx context.Context, sourceID string, ts time.Time) (bool, error) {
	return r.store.AdvanceWatermark(ctx, sourceID, ts.UnixMilli())
}

// RecordFailure bumps the consecutive failure counter and returns it.
func (r *Registry) RecordFailure(ctx context.Context, sourceID string) (int, error) {
	return r.store.RecordFailure(ctx, sourceID)
}

// DropSource unsubscribes every scope from sourceID.
func (r *Registry) DropSource(ctx context.Context, sourceID string) (int, error) {
	return r.store.DeleteSource(ctx, sourceID)
}

// Prune deletes sources nothing links to.
func (r *Registry) Prune(ctx context.Context) (int, error) {
	return r.store.Prune(ctx)
}

// MostRecent returns the newest item of sourceID regardless of watermark,
// or nil if the feed is empty.
func (r *Registry) MostRecent(ctx context.Context, scope models.Scope, sourceID string) (*models.Item, error) {
	if !r.validate(sourceID) {
		return nil, ErrInvalidSource
	}

	switch res := r.feeds.FetchSince(ctx, sourceID, time.Time{}).(type) {
	case models.FeedItems:
		if len(res.Items) == 0 {
			return nil, nil
		}
		newest := res.Items[0]
		for _, it := range res.Items[1:] {
			if it.PublishedAt.After(newest.PublishedAt) {
				newest = it
			}
		}
		return &newest, nil
	case models.FetchFailed:
		return nil, fmt.Errorf("%w: %v", ErrSourceUnresolvable, res.Err)
	default:
		return nil, fmt.Errorf("unexpected feed result %T", res)
	}
}
