package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/jamgate/internal/shared"
	"github.com/urfave/cli/v3"
)

// setupCommand handles setup operations for the identity store.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Initialize database and run migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
		},
		Action: r.SetupDatabase,
	}
}

// configCommand manages the configuration file.
func configCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Configuration commands",
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write a configuration file from the template",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to configuration file",
						Value:   "config.toml",
					},
				},
				Action: r.ConfigInit,
			},
			{
				Name:  "show",
				Usage: "Print the effective configuration as JSON",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to configuration file",
						Value:   "config.toml",
					},
					&cli.BoolFlag{
						Name:  "pretty",
						Usage: "Pretty-print output",
						Value: true,
					},
				},
				Action: r.ConfigShow,
			},
		},
	}
}

// SetupDatabase initializes the database and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	var config *shared.Config
	if _, err := os.Stat(configPath); err == nil {
		if config, err = shared.LoadConfig(configPath); err != nil {
			r.logger.Warn("failed to load config, using defaults", "error", err)
			config = shared.DefaultConfig()
		}
	} else {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			r.logger.Warn("failed to create config file, using defaults", "error", err)
			config = shared.DefaultConfig()
		} else {
			r.logger.Info("config file created", "path", configPath)
			if config, err = shared.LoadConfig(configPath); err != nil {
				r.logger.Warn("failed to load created config, using defaults", "error", err)
				config = shared.DefaultConfig()
			}
		}
	}

	r.logger.Info("initializing database", "path", config.Database.Path)

	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)

	r.logger.Info("running database migrations")
	if err := shared.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	r.logger.Infof("setup complete for database: %v", config.Database.Path)
	return nil
}

// ConfigInit writes a fresh configuration file from the embedded template.
func (r *Runner) ConfigInit(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%w: %s already exists", shared.ErrInvalidArgument, configPath)
	}

	if err := shared.CreateConfigFile(configPath); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	if err := r.writePlain("Configuration written to %s\n", configPath); err != nil {
		return err
	}
	return r.writePlain("Set credentials.spotify.client_id and client_secret before serving.\n")
}

// ConfigShow prints the effective configuration, secrets redacted.
func (r *Runner) ConfigShow(ctx context.Context, cmd *cli.Command) error {
	config := r.loadConfig(cmd.String("config"))

	view := map[string]any{
		"server": map[string]any{
			"host":            config.Server.Host,
			"port":            config.Server.Port,
			"session_max_age": config.Server.SessionMaxAge,
			"rate_per_second": config.Server.RatePerSecond,
			"rate_burst":      config.Server.RateBurst,
		},
		"database": map[string]any{
			"path": config.Database.Path,
		},
		"frontend": map[string]any{
			"origin":      config.Frontend.Origin,
			"success_url": config.Frontend.SuccessURL,
			"failure_url": config.Frontend.FailureURL,
		},
		"spotify": map[string]any{
			"client_id":    config.Credentials.Spotify.ClientID,
			"redirect_uri": config.Credentials.Spotify.RedirectURI,
			"scopes":       config.Credentials.Spotify.Scopes,
		},
	}

	return r.writeJSON(view, cmd.Bool("pretty"))
}
