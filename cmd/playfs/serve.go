package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"playfs/internal/mount"
	"playfs/internal/server"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	var listen, mirror, snapshot, mountPoint string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dev server",
		Long: `Serve the playground over HTTP. Sources are read and written under /files,
executables are reached through /exec and live URL changes are pushed on /ws.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrideString(cmd, "listen", &cfg.Listen, listen)
			overrideString(cmd, "mirror", &cfg.Mirror, mirror)
			overrideString(cmd, "snapshot", &cfg.Snapshot, snapshot)
			overrideString(cmd, "mount", &cfg.Mount, mountPoint)
			return serve(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Address to listen on")
	cmd.Flags().StringVar(&mirror, "mirror", "", "Host directory to mirror into the playground")
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "State file to restore from and save to")
	cmd.Flags().StringVar(&mountPoint, "mount", "", "Also mount the playground at this path")
	return cmd
}

// overrideString replaces *dst when the flag was given on the command line.
func overrideString(cmd *cobra.Command, flag string, dst *string, value string) {
	if cmd.Flags().Changed(flag) {
		*dst = value
	}
}

func serve(ctx context.Context) error {
	logger.Info("Starting playfs...")
	a, err := newApp(cfg, server.BlobRoute)
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.Mount != "" {
		mountPoint := filepath.Clean(cfg.Mount)
		fuseFS := mount.New(a.pg)
		if err := fuseFS.Mount(mountPoint); err != nil {
			return err
		}
		defer func() {
			if err := fuseFS.Unmount(mountPoint); err != nil {
				logger.Error("Unmount error: %v", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           a.handler(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening on %s", cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server shutdown: %v", err)
	}
	logger.Info("Clean shutdown complete")
	return nil
}
