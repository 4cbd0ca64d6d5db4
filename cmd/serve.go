package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/desertthunder/jamgate/internal/repositories"
	"github.com/desertthunder/jamgate/internal/server"
	"github.com/desertthunder/jamgate/internal/services"
	"github.com/desertthunder/jamgate/internal/shared"
	"github.com/urfave/cli/v3"
)

// serveCommand runs the HTTP gateway.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the authentication gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
		},
		Action: r.Serve,
	}
}

// Serve loads configuration, opens the identity store, and runs the gateway
// until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	config := r.loadConfig(cmd.String("config"))

	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)

	if err := shared.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	provider, err := services.NewSpotifyService(config.Credentials.Spotify.Map(), config.Credentials.Spotify.Scopes)
	if err != nil {
		return fmt.Errorf("failed to build provider: %w", err)
	}

	srv, err := server.New(server.Deps{
		Config:   config,
		Provider: provider,
		Users:    repositories.NewUserRepository(db),
		Logger:   r.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r.logger.Info("starting gateway", "addr", srv.Addr(), "provider", provider.Name())
	return srv.Start(runCtx)
}
