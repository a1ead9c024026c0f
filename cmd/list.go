package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"tubewatch/models"

	"github.com/urfave/cli/v2"
)

func listCmd() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List subscriptions",
		Description: `Prints the YouTube channels a scope is subscribed to with their
watermark and consecutive fetch failures.

Without a scope, prints how many installations, sources and subscriptions
the database holds.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "kind",
				Usage: "Scope kind (group, channel or direct)",
			},
			&cli.StringFlag{
				Name:  "id",
				Usage: "Group, community or user id",
			},
			&cli.StringFlag{
				Name:  "channel",
				Usage: "Channel id within the community, for channel scopes",
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			svc, err := openServices(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			if ctx.String("kind") == "" {
				stats, err := svc.db.Stats(ctx.Context)
				if err != nil {
					return err
				}
				fmt.Printf("Installations: %d\nSources: %d\nSubscriptions: %d\n",
					stats.Installations, stats.Sources, stats.Links)
				return nil
			}

			scope := models.Scope{
				Kind:      models.ScopeKind(ctx.String("kind")),
				ID:        ctx.String("id"),
				ChannelID: ctx.String("channel"),
			}
			if err := scope.Validate(); err != nil {
				return err
			}
			sources, err := svc.registry.List(ctx.Context, scope)
			if err != nil {
				return err
			}
			if len(sources) == 0 {
				fmt.Println("No subscriptions for", scope)
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CHANNEL\tNAME\tLAST UPDATED\tFAILURES")
			for _, src := range sources {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n",
					src.SourceID, src.DisplayName(), src.Watermark().Format(time.RFC3339), src.FailureCount)
			}
			return w.Flush()
		},
	}
}
