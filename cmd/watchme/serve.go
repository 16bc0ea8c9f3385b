package main

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/watchme-core/internal/api"
	"github.com/nerrad567/watchme-core/internal/device"
	"github.com/nerrad567/watchme-core/internal/infrastructure/config"
	"github.com/nerrad567/watchme-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/watchme-core/internal/infrastructure/logging"
	"github.com/nerrad567/watchme-core/internal/infrastructure/mqtt"
)

// mqttStateBuffer is how many snapshots the MQTT publisher may lag behind.
const mqttStateBuffer = 16

// serve runs the long-lived service until ctx is cancelled.
//
// Startup order:
//  1. InfluxDB (optional, operation telemetry)
//  2. Identity store, backend client and device manager
//  3. MQTT state publisher (optional)
//  4. Local control API (optional)
//
// Shutdown runs in reverse through the deferred closes.
func serve(ctx context.Context, configPath string) error {
	// Config is loaded again by bootstrap; this early load only decides
	// whether telemetry must exist before the manager is built.
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, version)
	log.Info("starting WatchMe Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	influxClient, err := connectInflux(cfg, log)
	if err != nil {
		return err
	}
	var recorder device.OperationRecorder
	if influxClient != nil {
		recorder = influxClient
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	a, err := bootstrap(ctx, configPath, recorder)
	if err != nil {
		return err
	}
	defer a.close()

	state := a.manager.Snapshot()
	a.log.Info("device manager ready",
		"phase", state.Phase,
		"device_id", state.CurrentDeviceID,
	)

	health := map[string]api.HealthChecker{}
	if influxClient != nil {
		health["influxdb"] = influxClient
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT, a.installName(ctx))
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			a.log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				a.log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(a.log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			a.log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			a.log.Warn("MQTT disconnected", "error", err)
		})
		health["mqtt"] = mqttClient
		a.log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"state_topic", mqttClient.Topics().DeviceState(),
		)

		publisher := mqtt.NewStatePublisher(mqttClient, mqttClient.Topics(), a.log.Component("mqtt"))
		states, unsubscribe := a.manager.Subscribe(mqttStateBuffer)
		if pubErr := publisher.Publish(a.manager.Snapshot()); pubErr != nil {
			a.log.Warn("initial state snapshot not published", "error", pubErr)
		}
		g.Go(func() error {
			defer unsubscribe()
			mqtt.Run(gctx, publisher, states)
			return nil
		})
	} else {
		a.log.Info("MQTT disabled")
	}

	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   a.log.Component("api"),
			Devices:  a.manager,
			Session:  a.session,
			Reports:  a.reports,
			Location: a.location,
			Health:   health,
			Version:  version,
		})
		if apiErr != nil {
			return abortStartup(cancel, g, fmt.Errorf("creating API server: %w", apiErr))
		}
		if startErr := server.Start(gctx); startErr != nil {
			return abortStartup(cancel, g, fmt.Errorf("starting API server: %w", startErr))
		}
		g.Go(func() error {
			<-gctx.Done()
			return server.Close()
		})
	} else {
		a.log.Info("API server disabled")
	}

	a.log.Info("initialisation complete, waiting for shutdown signal")
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.log.Info("WatchMe Core stopped")
	return nil
}

// abortStartup stops goroutines already running in g and waits for them, so
// the deferred closes never tear down a client still in use. err is returned
// unchanged.
func abortStartup(cancel context.CancelFunc, g *errgroup.Group, err error) error {
	cancel()
	g.Wait() //nolint:errcheck // The startup error takes precedence
	return err
}

// connectInflux returns nil without error when telemetry is disabled.
func connectInflux(cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(cfg.InfluxDB)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client, nil
}
