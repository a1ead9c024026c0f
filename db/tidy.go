package db

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Prune removes every feed source that no subscription links to.
func (d *DB) Prune(ctx context.Context) (int, error) {
	del := flavor.NewDeleteBuilder()
	del.DeleteFrom("feed_sources").Where(orphaned)

	n, err := exec(ctx, d.db, del)
	if err != nil {
		return 0, fmt.Errorf("prune sources: %w", err)
	}
	if n > 0 {
		log.WithField("sources", n).Info("Pruned orphaned sources")
	}
	return int(n), nil
}

// Tidy opens the database at path and prunes it
func Tidy(ctx context.Context, path string) (int, error) {
	d, err := Open(path)
	if err != nil {
		return 0, err
	}
	defer d.Close()

	return d.Prune(ctx)
}

type Stats struct {
	Installations int `json:"installations"`
	Sources       int `json:"sources"`
	Links         int `json:"links"`
}

func (d *DB) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	counts := []struct {
		table string
		dst   *int
	}{
		{"installations", &s.Installations},
		{"feed_sources", &s.Sources},
		{"subscription_links", &s.Links},
	}
	for _, c := range counts {
		sb := flavor.NewSelectBuilder()
		sb.Select("COUNT(*)").From(c.table)
		query, args := sb.Build()
		if err := d.db.QueryRowContext(ctx, query, args...).Scan(c.dst); err != nil {
			return s, fmt.Errorf("count %s: %w", c.table, err)
		}
	}
	return s, nil
}
