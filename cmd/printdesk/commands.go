package main

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	"github.com/campusprint/printdesk/internal/config"
	"github.com/campusprint/printdesk/internal/db"
	"github.com/campusprint/printdesk/internal/logging"
	"github.com/campusprint/printdesk/internal/server"
)

var version = "dev"

func App() *cli.Command {
	return &cli.Command{
		Name:    "printdesk",
		Version: version,
		Usage:   "Campus print desk: upload, pay, and redeem print jobs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config file",
				Value:   "config.yaml",
				Sources: cli.EnvVars("PRINTDESK_CONFIG_PATH"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override the configured log level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			serveCmd(),
			migrateCmd(),
		},
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if v := cmd.String("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Usage:   "Listen port",
				Sources: cli.EnvVars("PRINTDESK_PORT"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if p := cmd.Int("port"); p > 0 {
				cfg.Server.Port = int(p)
			}

			if cfg.Logging.Level != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}

			logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
			return server.Run(ctx, cfg, logger)
		},
	}
}

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending database migrations and exit",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
			database, err := db.Open(db.Config{Path: cfg.Database.Path})
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer database.Close()

			logger.Info().Str("path", cfg.Database.Path).Msg("migrations applied")
			return nil
		},
	}
}
