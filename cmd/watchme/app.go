package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/nerrad567/watchme-core/internal/backend"
	"github.com/nerrad567/watchme-core/internal/device"
	"github.com/nerrad567/watchme-core/internal/identity"
	"github.com/nerrad567/watchme-core/internal/infrastructure/config"
	"github.com/nerrad567/watchme-core/internal/infrastructure/logging"
	"github.com/nerrad567/watchme-core/internal/platform"
	"github.com/nerrad567/watchme-core/internal/report"
	"github.com/nerrad567/watchme-core/internal/session"
)

// app is the wired object graph shared by every command.
type app struct {
	cfg      *config.Config
	log      *logging.Logger
	location *time.Location
	platform platform.Provider
	session  *session.Session
	backend  *backend.Client
	manager  *device.Manager
	reports  *report.View

	closer io.Closer
}

// bootstrap loads configuration and builds the device manager on top of
// the configured identity store. recorder may be nil.
//
// The caller must call close when done.
func bootstrap(ctx context.Context, configPath string, recorder device.OperationRecorder) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Logging, version)
	log.Debug("configuration loaded", "path", configPath)

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("loading time zone: %w", err)
	}

	sess := session.New(cfg.Backend.APIKey)
	if cfg.Backend.AccessToken != "" {
		if tokenErr := sess.SetAccessToken(cfg.Backend.AccessToken); tokenErr != nil {
			return nil, fmt.Errorf("installing access token: %w", tokenErr)
		}
	}

	client, err := backend.New(backend.Config{
		URL:     cfg.Backend.URL,
		APIKey:  cfg.Backend.APIKey,
		Timeout: cfg.GetBackendTimeout(),
		Tokens:  sess,
		Logger:  log.Component("backend"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating backend client: %w", err)
	}

	kv, closer, err := identity.Open(ctx, cfg, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("opening identity store: %w", err)
	}

	provider := platform.FromConfig(cfg.Platform)
	deps := device.Deps{
		Store:            identity.NewStore(kv),
		Platform:         provider,
		Backend:          client,
		DeviceType:       cfg.Device.DeviceType,
		PlatformType:     cfg.Device.PlatformType,
		OperationTimeout: cfg.GetOperationTimeout(),
		Logger:           log.Component("device"),
	}
	if recorder != nil {
		deps.Recorder = recorder
	}

	manager, err := device.NewManager(ctx, deps)
	if err != nil {
		closer.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("creating device manager: %w", err)
	}

	reports := report.NewView(report.ViewDeps{
		Session:  sess,
		Devices:  manager,
		Fetcher:  client,
		Location: loc,
		Logger:   log.Component("report"),
	})

	return &app{
		cfg:      cfg,
		log:      log,
		location: loc,
		platform: provider,
		session:  sess,
		backend:  client,
		manager:  manager,
		reports:  reports,
		closer:   closer,
	}, nil
}

// installName returns the MQTT topic segment for this installation: the
// platform identifier when available, otherwise the MQTT client id.
func (a *app) installName(ctx context.Context) string {
	if id, ok := a.platform.Identifier(ctx); ok {
		return id
	}
	return a.cfg.MQTT.Broker.ClientID
}

func (a *app) close() {
	if err := a.closer.Close(); err != nil {
		a.log.Error("error closing identity store", "error", err)
	}
}
