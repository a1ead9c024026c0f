package cmd

import (
	"fmt"
	"os"

	"tubewatch/config"
	"tubewatch/db"
	"tubewatch/notify"
	"tubewatch/poller"
	"tubewatch/registry"
	"tubewatch/youtube"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "tubewatch",
		Usage: "A chat bot posting new YouTube videos to subscribed chats",
		Description: `A chat bot that lets groups, channels and direct chats subscribe
		to YouTube channels and posts a message whenever a subscribed channel
		publishes a new video.

		Subscriptions are stored in an SQLite database. Channel feeds are polled
		in batches on a schedule, stalest first.

		Flags can generally be set via environment variables, e.g.:

		--database => TUBEWATCH_DATABASE=tubewatch.db
		--port => TUBEWATCH_PORT=3000
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "tubewatch.toml",
				Usage:   "Path to the TOML configuration file",
				EnvVars: []string{"TUBEWATCH_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "database",
				Aliases: []string{"d"},
				Usage:   "SQLite database file location",
				EnvVars: []string{"TUBEWATCH_DATABASE"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"TUBEWATCH_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text or json)",
				EnvVars: []string{"TUBEWATCH_LOG_FORMAT"},
			},
		},
		Before: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			return setupLogging(cfg.Log)
		},
		Commands: []*cli.Command{
			serveCmd(),
			migrateCmd(),
			rollbackCmd(),
			pollCmd(),
			tidyCmd(),
			installCmd(),
			listCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

// loadConfig reads the config file and lets global flags override it
func loadConfig(ctx *cli.Context) (*config.TomlConfig, error) {
	cfg, err := config.LoadConfig(ctx.String("config"))
	if err != nil {
		return nil, err
	}
	if ctx.IsSet("database") {
		cfg.Database.Path = ctx.String("database")
	}
	if ctx.IsSet("log-level") {
		cfg.Log.Level = ctx.String("log-level")
	}
	if ctx.IsSet("log-format") {
		cfg.Log.Format = ctx.String("log-format")
	}
	return cfg, nil
}

func setupLogging(cfg config.TomlLog) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	switch cfg.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid log format %q", cfg.Format)
	}
	return nil
}

type services struct {
	db       *db.DB
	registry *registry.Registry
	poller   *poller.Poller
}

func (s *services) Close() error {
	return s.db.Close()
}

// openServices wires the store, feed client, dispatcher and poller
func openServices(cfg *config.TomlConfig) (*services, error) {
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	feeds := youtube.NewClient(cfg.Feeds.BaseURL, cfg.Feeds.Timeout.Duration)
	reg := registry.New(database, feeds)
	transport := notify.NewGatewayTransport(cfg.Gateway.Timeout.Duration, cfg.Gateway.APIKey)
	dispatcher := notify.NewDispatcher(transport, reg)
	p := poller.New(reg, dispatcher, poller.Config{
		BatchSize:   cfg.Poll.BatchSize,
		MaxFailures: cfg.Poll.MaxFailures,
	})

	return &services{db: database, registry: reg, poller: p}, nil
}
