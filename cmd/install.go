package cmd

import (
	"fmt"
	"strings"

	"tubewatch/models"

	"github.com/cqroot/prompt"
	"github.com/urfave/cli/v2"
)

// installCmd registers an installation by hand
func installCmd() *cli.Command {
	return &cli.Command{
		Name:  "install",
		Usage: "Register an installation of the bot",
		Description: `Records that the bot is installed in a group, community or direct chat,
as the chat platform's install event would.

Values not given as flags are prompted for. The installation is granted the
Text message permission so subscribed scopes inside it get notifications.
Useful for local development without a chat platform.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "kind",
				Usage: "Location kind (group, community or user)",
			},
			&cli.StringFlag{
				Name:  "id",
				Usage: "Location id",
			},
			&cli.StringFlag{
				Name:  "gateway",
				Usage: "Base URL of the chat platform API gateway",
			},
		},
		Action: func(ctx *cli.Context) error {
			kind := ctx.String("kind")
			if kind == "" {
				var err error
				kind, err = prompt.New().Ask("Location kind:").Choose([]string{
					string(models.LocationGroup),
					string(models.LocationCommunity),
					string(models.LocationUser),
				})
				if err != nil {
					return err
				}
			}
			id, err := askIfEmpty(ctx.String("id"), "Location id:", "")
			if err != nil {
				return err
			}
			gateway, err := askIfEmpty(ctx.String("gateway"), "API gateway:", "http://localhost:8080")
			if err != nil {
				return err
			}

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			svc, err := openServices(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			text := models.Permissions{Message: []string{models.TextPermission}}
			loc := models.Location{Kind: models.LocationKind(kind), ID: id}
			err = svc.registry.OnInstall(ctx.Context, loc, models.Installation{
				APIGateway:            gateway,
				AutonomousPermissions: text,
				CommandPermissions:    text,
			})
			if err != nil {
				return fmt.Errorf("install: %w", err)
			}
			fmt.Printf("Installed at %s (key %s)\n", loc, loc.Key())
			return nil
		},
	}
}

func askIfEmpty(value, question, placeholder string) (string, error) {
	if value != "" {
		return value, nil
	}
	answer, err := prompt.New().Ask(question).Input(placeholder)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}
