package registry

import (
	"context"

	"tubewatch/db"
	"tubewatch/models"

	"github.com/samber/lo"
)

// Index maps a source id to the subscribers of that source. It is rebuilt
// from the links on every call to Interest and never stored.
type Index map[string][]db.Subscriber

// Interest builds the reverse index for the given sources.
func (r *Registry) Interest(ctx context.Context, sourceIDs []string) (Index, error) {
	subs, err := r.store.Subscribers(ctx, sourceIDs)
	if err != nil {
		return nil, err
	}
	return Index(lo.GroupBy(subs, func(s db.Subscriber) string { return s.SourceID })), nil
}

// ScopesInterestedIn returns the scopes subscribed to sourceID.
func (r *Registry) ScopesInterestedIn(ctx context.Context, sourceID string) ([]models.Scope, error) {
	idx, err := r.Interest(ctx, []string{sourceID})
	if err != nil {
		return nil, err
	}
	return idx.Scopes(sourceID), nil
}

func (idx Index) Subscribers(sourceID string) []db.Subscriber {
	return idx[sourceID]
}

func (idx Index) Scopes(sourceID string) []models.Scope {
	return lo.Map(idx[sourceID], func(s db.Subscriber, _ int) models.Scope { return s.Scope })
}
