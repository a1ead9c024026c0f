package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tubewatch/models"

	log "github.com/sirupsen/logrus"
)

// SaveInstallation inserts the installation or replaces the stored record
// for its location. Existing subscriptions are kept.
func (d *DB) SaveInstallation(ctx context.Context, inst models.Installation) error {
	autonomous, err := json.Marshal(inst.AutonomousPermissions)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	command, err := json.Marshal(inst.CommandPermissions)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	installedAt := inst.InstalledAt
	if installedAt.IsZero() {
		installedAt = time.Now()
	}

	ib := flavor.NewInsertBuilder()
	ib.InsertInto("installations").
		Cols("location", "api_gateway", "autonomous_permissions", "command_permissions", "installed_at").
		Values(inst.Location.Key(), inst.APIGateway, string(autonomous), string(command), installedAt.UnixMilli())
	ib.SQL(`ON CONFLICT (location) DO UPDATE SET
		api_gateway = excluded.api_gateway,
		autonomous_permissions = excluded.autonomous_permissions,
		command_permissions = excluded.command_permissions,
		installed_at = excluded.installed_at`)

	if _, err := exec(ctx, d.db, ib); err != nil {
		return fmt.Errorf("save installation: %w", err)
	}
	return nil
}

// Installation returns the installation at loc, or nil when there is none.
func (d *DB) Installation(ctx context.Context, loc models.Location) (*models.Installation, error) {
	return installation(ctx, d.db, loc)
}

func installation(ctx context.Context, q querier, loc models.Location) (*models.Installation, error) {
	sb := flavor.NewSelectBuilder()
	sb.Select("api_gateway", "autonomous_permissions", "command_permissions", "installed_at").
		From("installations").
		Where(sb.Equal("location", loc.Key()))
	query, args := sb.Build()

	inst := models.Installation{Location: loc}
	var autonomous, command string
	var installedAt int64
	err := q.QueryRowContext(ctx, query, args...).Scan(&inst.APIGateway, &autonomous, &command, &installedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query installation: %w", err)
	}
	if err := decodePermissions(autonomous, &inst.AutonomousPermissions); err != nil {
		return nil, err
	}
	if err := decodePermissions(command, &inst.CommandPermissions); err != nil {
		return nil, err
	}
	inst.InstalledAt = time.UnixMilli(installedAt)
	return &inst, nil
}

func decodePermissions(raw string, p *models.Permissions) error {
	if err := json.Unmarshal([]byte(raw), p); err != nil {
		return fmt.Errorf("decode permissions: %w", err)
	}
	return nil
}

// Uninstall deletes the installation at loc together with every link of a
// scope inside it, then prunes the sources those links kept alive. Returns
// the number of links removed.
func (d *DB) Uninstall(ctx context.Context, loc models.Location) (int, error) {
	var removed int64
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		sb := flavor.NewSelectBuilder()
		sb.Select("DISTINCT source_id").From("subscription_links").Where(sb.Equal("location", loc.Key()))
		sources, err := queryStrings(ctx, tx, sb)
		if err != nil {
			return fmt.Errorf("query links: %w", err)
		}

		del := flavor.NewDeleteBuilder()
		del.DeleteFrom("subscription_links").Where(del.Equal("location", loc.Key()))
		if removed, err = exec(ctx, tx, del); err != nil {
			return fmt.Errorf("delete links: %w", err)
		}

		del = flavor.NewDeleteBuilder()
		del.DeleteFrom("installations").Where(del.Equal("location", loc.Key()))
		if _, err := exec(ctx, tx, del); err != nil {
			return fmt.Errorf("delete installation: %w", err)
		}

		_, err = pruneSources(ctx, tx, sources)
		return err
	})
	if err != nil {
		return 0, err
	}

	log.WithFields(log.Fields{
		"location": loc.String(),
		"links":    removed,
	}).Info("Uninstalled")
	return int(removed), nil
}
