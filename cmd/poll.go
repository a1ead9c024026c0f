package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"
)

func pollCmd() *cli.Command {
	return &cli.Command{
		Name:  "poll",
		Usage: "Run a single poll cycle",
		Description: `Selects the stalest batch of feed sources, fetches them and notifies
subscribers of new videos, then exits.

Can be run from an external scheduler instead of serve's built-in one.
Prints the cycle report as JSON on stdout.`,
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

			report, err := svc.poller.RunCycle(ctx.Context)
			if err != nil {
				return fmt.Errorf("poll cycle: %w", err)
			}
			out, err := json.Marshal(report)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}
