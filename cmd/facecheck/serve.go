package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/server"
)

var (
	serveListen         string
	serveReloadInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the verification and enrollment HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (overrides server.listen)")
	serveCmd.Flags().DurationVar(&serveReloadInterval, "reload-interval", time.Minute,
		"How often to reload the gallery from storage (0 disables)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	g, err := a.Reload(ctx)
	if err != nil {
		return fmt.Errorf("failed to load gallery: %w", err)
	}
	logging.Infof("Loaded %d identities with %d templates", g.Identities(), g.Templates())

	listen := cfg.Server.Listen
	if serveListen != "" {
		listen = serveListen
	}
	handler := server.New(a.verifier, a.sessions, a.enroller, a.metrics.Handler(), cfg.Server.RequestTimeout)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		a.sessions.RunSweeper(ctx, cfg.Liveness.SweepInterval)
		return nil
	})
	if serveReloadInterval > 0 {
		eg.Go(func() error {
			reloadLoop(ctx, a, serveReloadInterval)
			return nil
		})
	}
	eg.Go(func() error {
		return server.Serve(ctx, listen, handler.Router(), cfg.Server.ReadTimeout)
	})
	return eg.Wait()
}

// reloadLoop picks up templates written by other instances sharing the
// same store. Failures keep the current snapshot.
func reloadLoop(ctx context.Context, a *app, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = a.Reload(ctx)
		}
	}
}
