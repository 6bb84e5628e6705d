package main

import (
	"fmt"
	"net/http"

	"playfs/internal/blob"
	"playfs/internal/config"
	"playfs/internal/hostsync"
	"playfs/internal/playground"
	"playfs/internal/server"
	"playfs/internal/state"
	"playfs/internal/transform"
	"playfs/internal/typeacq"
)

// app is a playground together with the outer features the configuration
// enables: snapshot persistence, host mirroring and type acquisition.
type app struct {
	pg     *playground.FileSystem
	blobs  *blob.Registry
	types  *typeacq.Downloader
	decls  *typeacq.Declarations
	state  *state.Manager
	mirror *hostsync.Mirror
}

// newApp builds the playground described by cfg. blobPrefix is used when
// cfg sets none.
func newApp(cfg *config.Config, blobPrefix string) (*app, error) {
	if cfg.BlobPrefix != "" {
		blobPrefix = cfg.BlobPrefix
	}
	a := &app{blobs: blob.NewRegistry(blobPrefix)}

	opts := transform.Options{CDN: cfg.CDN, HTML: cfg.Strategy()}
	if cfg.Types.Enabled {
		a.decls = typeacq.NewDeclarations()
		a.types = &typeacq.Downloader{
			CDN:            cfg.CDN,
			MaxConcurrency: cfg.Types.Concurrency,
			Sink:           a.decls.Add,
		}
		opts.Types = a.types
	}

	registry := transform.Default(opts)
	for _, alias := range cfg.AliasList() {
		if err := registry.Alias(alias[0], alias[1]); err != nil {
			return nil, err
		}
	}

	a.pg = playground.New(
		playground.WithRegistry(registry),
		playground.WithBlobs(a.blobs),
		playground.WithReleaseDelay(cfg.ReleaseDelay),
	)

	if cfg.Snapshot != "" {
		if err := a.restore(cfg.Snapshot); err != nil {
			a.close()
			return nil, err
		}
	}
	if cfg.Mirror != "" {
		m, err := hostsync.New(cfg.Mirror, a.pg, hostsync.Options{})
		if err == nil {
			err = m.Start()
		}
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to mirror %s: %w", cfg.Mirror, err)
		}
		a.mirror = m
	}
	return a, nil
}

func (a *app) restore(path string) error {
	logger.Info("Initializing state manager...")
	sm, err := state.NewManager(path)
	if err != nil {
		return fmt.Errorf("failed to initialize state manager: %w", err)
	}
	snap, err := sm.Load()
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	if err := snap.Restore(a.pg.Store()); err != nil {
		return fmt.Errorf("failed to restore state: %w", err)
	}
	logger.Info("Restored %d files from %s", len(snap.Files), sm.Path())
	a.state = sm
	return nil
}

// handler serves the playground and, with type acquisition on, the
// downloaded declarations.
func (a *app) handler(cfg *config.Config) http.Handler {
	opts := []server.Option{server.WithCheckOrigin(originCheck(cfg.Origin))}
	if a.decls != nil {
		opts = append(opts, server.WithDeclarations(a.decls))
	}
	return server.New(a.pg, opts...)
}

// originCheck accepts websocket clients from origin only. An empty origin
// keeps the default same-host check.
func originCheck(origin string) func(r *http.Request) bool {
	if origin == "" {
		return nil
	}
	return func(r *http.Request) bool {
		return r.Header.Get("Origin") == origin
	}
}

// close saves the snapshot and tears everything down.
func (a *app) close() {
	if a.mirror != nil {
		if err := a.mirror.Close(); err != nil {
			logger.Warn("Failed to stop mirror: %v", err)
		}
	}
	if a.types != nil {
		a.types.Wait()
	}
	if a.state != nil && a.pg != nil {
		if err := a.state.Save(state.Capture(a.pg.Store())); err != nil {
			logger.Error("Failed to save state: %v", err)
		} else {
			logger.Info("Saved state to %s", a.state.Path())
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
	a.blobs.Close()
}
