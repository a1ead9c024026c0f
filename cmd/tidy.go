package cmd

import (
	"fmt"

	"tubewatch/db"

	"github.com/urfave/cli/v2"
)

func tidyCmd() *cli.Command {
	return &cli.Command{
		Name:  "tidy",
		Usage: "Tidy up the database",
		Description: `Tidy up the database by removing feed sources nobody subscribes to.

		Poll cycles prune these too, so this is only needed when the
		database was edited by hand or no cycle has run for a while.`,
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			fmt.Println("Database configured: ", cfg.Database.Path)
			n, err := db.Tidy(ctx.Context, cfg.Database.Path)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d orphaned sources\n", n)
			return nil
		},
	}
}
