package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tubewatch/models"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// Subscribe links scope to src, creating the source record if it is absent.
// An existing source record is left untouched. Returns false when the link
// already existed. The installation is checked inside the transaction so an
// uninstall racing with this call cannot leave a link behind.
func (d *DB) Subscribe(ctx context.Context, scope models.Scope, src models.FeedSource) (bool, error) {
	var created bool
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		inst, err := installation(ctx, tx, scope.Location())
		if err != nil {
			return err
		}
		if !inst.CanNotify() {
			return ErrNotInstalled
		}

		now := time.Now().UnixMilli()
		ib := flavor.NewInsertBuilder()
		ib.InsertIgnoreInto("feed_sources").
			Cols("source_id", "name", "last_updated", "failure_count", "created_at").
			Values(src.SourceID, src.Name, src.LastUpdated, 0, now)
		if _, err := exec(ctx, tx, ib); err != nil {
			return fmt.Errorf("insert source: %w", err)
		}

		ib = flavor.NewInsertBuilder()
		ib.InsertIgnoreInto("subscription_links").
			Cols("location", "scope", "source_id", "created_at").
			Values(scope.Location().Key(), scope.Key(), src.SourceID, now)
		n, err := exec(ctx, tx, ib)
		if err != nil {
			return fmt.Errorf("insert link: %w", err)
		}
		created = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}

	log.WithFields(log.Fields{
		"scope":   scope.String(),
		"source":  src.SourceID,
		"created": created,
	}).Info("Subscribed")
	return created, nil
}

// Unsubscribe removes the link and prunes the source if nothing else links
// to it. Removing a link that does not exist is not an error and reports
// false.
func (d *DB) Unsubscribe(ctx context.Context, scope models.Scope, sourceID string) (bool, error) {
	var removed int64
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		del := flavor.NewDeleteBuilder()
		del.DeleteFrom("subscription_links").Where(
			del.Equal("scope", scope.Key()),
			del.Equal("source_id", sourceID),
		)
		var err error
		if removed, err = exec(ctx, tx, del); err != nil {
			return fmt.Errorf("delete link: %w", err)
		}
		_, err = pruneSources(ctx, tx, []string{sourceID})
		return err
	})
	if err != nil {
		return false, err
	}

	log.WithFields(log.Fields{
		"scope":   scope.String(),
		"source":  sourceID,
		"removed": removed > 0,
	}).Info("Unsubscribed")
	return removed > 0, nil
}

// UnsubscribeAll removes every link of scope. Returns the number removed.
func (d *DB) UnsubscribeAll(ctx context.Context, scope models.Scope) (int, error) {
	var removed int64
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		sb := flavor.NewSelectBuilder()
		sb.Select("source_id").From("subscription_links").Where(sb.Equal("scope", scope.Key()))
		sources, err := queryStrings(ctx, tx, sb)
		if err != nil {
			return fmt.Errorf("query links: %w", err)
		}

		del := flavor.NewDeleteBuilder()
		del.DeleteFrom("subscription_links").Where(del.Equal("scope", scope.Key()))
		if removed, err = exec(ctx, tx, del); err != nil {
			return fmt.Errorf("delete links: %w", err)
		}
		_, err = pruneSources(ctx, tx, sources)
		return err
	})
	if err != nil {
		return 0, err
	}

	log.WithFields(log.Fields{
		"scope": scope.String(),
		"links": removed,
	}).Info("Unsubscribed from all")
	return int(removed), nil
}

// ScopeSources returns the sources scope is subscribed to, ordered by id.
func (d *DB) ScopeSources(ctx context.Context, scope models.Scope) ([]models.FeedSource, error) {
	sb := flavor.NewSelectBuilder()
	sb.Select(sourceColumns...).
		From("subscription_links").
		Join("feed_sources", "feed_sources.source_id = subscription_links.source_id").
		Where(sb.Equal("subscription_links.scope", scope.Key())).
		OrderBy("feed_sources.source_id").Asc()
	query, args := sb.Build()

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query scope sources: %w", err)
	}
	return scanSources(rows)
}

// Subscriber is a link together with the installation of its scope.
// Installation is nil when the scope's root is no longer installed.
type Subscriber struct {
	models.Link
	Installation *models.Installation
}

// Subscribers returns every link to one of the given sources, ordered by
// source then scope key.
func (d *DB) Subscribers(ctx context.Context, sourceIDs []string) ([]Subscriber, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}

	sb := flavor.NewSelectBuilder()
	sb.Select(
		"subscription_links.scope",
		"subscription_links.source_id",
		"subscription_links.location",
		"installations.api_gateway",
		"installations.autonomous_permissions",
		"installations.command_permissions",
	).
		From("subscription_links").
		JoinWithOption(sqlbuilder.LeftJoin, "installations", "installations.location = subscription_links.location").
		Where(sb.In("subscription_links.source_id", lo.ToAnySlice(lo.Uniq(sourceIDs))...)).
		OrderBy("subscription_links.source_id", "subscription_links.scope").Asc()
	query, args := sb.Build()

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer rows.Close()

	var subs []Subscriber
	for rows.Next() {
		var (
			scopeKey, sourceID, location string
			gateway, autonomous, command sql.NullString
		)
		if err := rows.Scan(&scopeKey, &sourceID, &location, &gateway, &autonomous, &command); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		scope, err := models.ParseScopeKey(scopeKey)
		if err != nil {
			log.WithFields(log.Fields{
				"scope": scopeKey,
				"error": err,
			}).Warn("Skipping link with unreadable scope")
			continue
		}

		sub := Subscriber{Link: models.Link{Scope: scope, SourceID: sourceID}}
		if gateway.Valid {
			inst := &models.Installation{Location: scope.Location(), APIGateway: gateway.String}
			if err := decodePermissions(autonomous.String, &inst.AutonomousPermissions); err != nil {
				return nil, err
			}
			if err := decodePermissions(command.String, &inst.CommandPermissions); err != nil {
				return nil, err
			}
			sub.Installation = inst
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
