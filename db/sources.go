package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tubewatch/models"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/samber/lo"
)

var sourceColumns = []string{
	"feed_sources.source_id",
	"COALESCE(feed_sources.name, '')",
	"feed_sources.last_updated",
	"feed_sources.failure_count",
}

func scanSources(rows *sql.Rows) ([]models.FeedSource, error) {
	defer rows.Close()
	sources := []models.FeedSource{}
	for rows.Next() {
		var src models.FeedSource
		if err := rows.Scan(&src.SourceID, &src.Name, &src.LastUpdated, &src.FailureCount); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func queryStrings(ctx context.Context, q querier, sb *sqlbuilder.SelectBuilder) ([]string, error) {
	query, args := sb.Build()
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Source returns the feed source record, or nil when it does not exist.
func (d *DB) Source(ctx context.Context, sourceID string) (*models.FeedSource, error) {
	sb := flavor.NewSelectBuilder()
	sb.Select(sourceColumns...).From("feed_sources").Where(sb.Equal("source_id", sourceID))
	query, args := sb.Build()

	var src models.FeedSource
	err := d.db.QueryRowContext(ctx, query, args...).Scan(&src.SourceID, &src.Name, &src.LastUpdated, &src.FailureCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query source: %w", err)
	}
	return &src, nil
}

// DueSources returns up to limit sources, stalest first.
func (d *DB) DueSources(ctx context.Context, limit int) ([]models.FeedSource, error) {
	sb := flavor.NewSelectBuilder()
	sb.Select(sourceColumns...).
		From("feed_sources").
		OrderBy("feed_sources.last_updated", "feed_sources.source_id").Asc().
		Limit(limit)
	query, args := sb.Build()

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query due sources: %w", err)
	}
	return scanSources(rows)
}

// AdvanceWatermark moves the source's watermark to ts and clears its failure
// counter. A ts earlier than the stored watermark changes nothing and
// reports false.
func (d *DB) AdvanceWatermark(ctx context.Context, sourceID string, ts int64) (bool, error) {
	ub := flavor.NewUpdateBuilder()
	ub.Update("feed_sources").
		Set(ub.Assign("last_updated", ts), ub.Assign("failure_count", 0)).
		Where(ub.Equal("source_id", sourceID), ub.LessEqualThan("last_updated", ts))

	n, err := exec(ctx, d.db, ub)
	if err != nil {
		return false, fmt.Errorf("advance watermark: %w", err)
	}
	return n > 0, nil
}

// RecordFailure increments the consecutive failure counter and returns the
// new value. Zero means the source no longer exists.
func (d *DB) RecordFailure(ctx context.Context, sourceID string) (int, error) {
	var count int
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		ub := flavor.NewUpdateBuilder()
		ub.Update("feed_sources").Set(ub.Incr("failure_count")).Where(ub.Equal("source_id", sourceID))
		if _, err := exec(ctx, tx, ub); err != nil {
			return fmt.Errorf("increment failures: %w", err)
		}

		sb := flavor.NewSelectBuilder()
		sb.Select("failure_count").From("feed_sources").Where(sb.Equal("source_id", sourceID))
		query, args := sb.Build()
		err := tx.QueryRowContext(ctx, query, args...).Scan(&count)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	})
	return count, err
}

// DeleteSource removes the source and every link to it. Returns the number
// of links removed.
func (d *DB) DeleteSource(ctx context.Context, sourceID string) (int, error) {
	var removed int64
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		del := flavor.NewDeleteBuilder()
		del.DeleteFrom("subscription_links").Where(del.Equal("source_id", sourceID))
		var err error
		if removed, err = exec(ctx, tx, del); err != nil {
			return fmt.Errorf("delete links: %w", err)
		}

		del = flavor.NewDeleteBuilder()
		del.DeleteFrom("feed_sources").Where(del.Equal("source_id", sourceID))
		if _, err := exec(ctx, tx, del); err != nil {
			return fmt.Errorf("delete source: %w", err)
		}
		return nil
	})
	return int(removed), err
}

const orphaned = "NOT EXISTS (SELECT 1 FROM subscription_links WHERE subscription_links.source_id = feed_sources.source_id)"

// pruneSources deletes those of the given sources that have no links left.
func pruneSources(ctx context.Context, tx *sql.Tx, sourceIDs []string) (int64, error) {
	if len(sourceIDs) == 0 {
		return 0, nil
	}
	del := flavor.NewDeleteBuilder()
	del.DeleteFrom("feed_sources").Where(
		del.In("source_id", lo.ToAnySlice(lo.Uniq(sourceIDs))...),
		orphaned,
	)
	n, err := exec(ctx, tx, del)
	if err != nil {
		return 0, fmt.Errorf("prune sources: %w", err)
	}
	return n, nil
}
