package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tubewatch/db"
	"tubewatch/poller"
	"tubewatch/server"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the bot",
		Description: `Starts the bot HTTP server and the poll scheduler.

Runs pending database migrations, then launches the HTTP server on the
specified or default port. The chat platform delivers installation events
to /events and user commands to /commands.
Subscribed YouTube channels are polled on the configured schedule and new
videos are posted to the subscribed chats.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on",
				EnvVars: []string{"TUBEWATCH_PORT"},
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "API key required on the bot endpoints",
				EnvVars: []string{"TUBEWATCH_API_KEY"},
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Poll schedule, a cron expression or e.g. @every 30m",
				EnvVars: []string{"TUBEWATCH_SCHEDULE"},
			},
			&cli.BoolFlag{
				Name:    "no-schedule",
				Usage:   "Do not poll on a schedule, only via /poll",
				EnvVars: []string{"TUBEWATCH_NO_SCHEDULE"},
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			if ctx.IsSet("port") {
				cfg.Server.Port = ctx.Int("port")
			}
			if ctx.IsSet("api-key") {
				cfg.Server.APIKey = ctx.String("api-key")
			}
			if ctx.IsSet("schedule") {
				cfg.Poll.Schedule = ctx.String("schedule")
			}

			log.WithFields(log.Fields{
				"database": cfg.Database.Path,
				"port":     cfg.Server.Port,
				"schedule": cfg.Poll.Schedule,
			}).Info("Starting tubewatch")

			if err := db.Migrate(cfg.Database.Path); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			svc, err := openServices(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			app := server.Server(&server.ServerConfig{
				Registry: svc.registry,
				Poller:   svc.poller,
				Health:   svc.db,
				APIKey:   cfg.Server.APIKey,
			})

			var scheduler *poller.Scheduler
			if !ctx.Bool("no-schedule") {
				scheduler, err = poller.NewScheduler(svc.poller, cfg.Poll.Schedule)
				if err != nil {
					return err
				}
				scheduler.Start()
			}

			// Graceful shutdown
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			errs := make(chan error, 1)

			go func() {
				log.Info("Starting server...")
				errs <- app.Listen(fmt.Sprintf(":%d", cfg.Server.Port))
			}()

			select {
			case <-sigs:
				log.Info("Gracefully shutting down...")
			case err = <-errs:
				log.WithError(err).Error("Server stopped")
			}

			if scheduler != nil {
				stopCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
				scheduler.Stop(stopCtx)
				cancel()
			}
			if shutdownErr := app.ShutdownWithTimeout(60 * time.Second); shutdownErr != nil {
				log.WithError(shutdownErr).Warn("Error shutting down server")
			}

			log.Info("Done!")
			return err
		},
	}
}
