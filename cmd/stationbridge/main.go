// Station Bridge - local-first control for smart speakers
//
// This is the main entry point for the bridge. It keeps one controller
// per speaker on the account, drives each speaker over its local
// WebSocket channel when the speaker is reachable on the network and
// falls back to cloud actions when it is not. Commands arrive over MQTT
// and the HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/station-bridge/internal/api"
	"github.com/nerrad567/station-bridge/internal/bridges/yandex"
	"github.com/nerrad567/station-bridge/internal/cloud"
	"github.com/nerrad567/station-bridge/internal/device"
	"github.com/nerrad567/station-bridge/internal/discovery"
	"github.com/nerrad567/station-bridge/internal/infrastructure/config"
	"github.com/nerrad567/station-bridge/internal/infrastructure/database"
	"github.com/nerrad567/station-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/station-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/station-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/station-bridge/internal/station"
	"github.com/nerrad567/station-bridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting station bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	// Database
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Cloud control plane
	tokens := cloud.StaticTokens{Default: cfg.Account.Token}
	if cfg.Account.GlagolToken != "" {
		tokens.Services = map[string]string{cloud.ServiceGlagol: cfg.Account.GlagolToken}
	}
	plane := cloud.New(cfg.Cloud, tokens)

	// Device registry
	registry, err := device.NewRegistry(plane, cfg.Feed, log.Component("registry"))
	if err != nil {
		return fmt.Errorf("creating device registry: %w", err)
	}
	defer func() {
		log.Info("closing device registry")
		if closeErr := registry.Close(); closeErr != nil {
			log.Error("error closing device registry", "error", closeErr)
		}
	}()

	// Local address discovery
	store := discovery.NewStore(db)
	locator := discovery.NewLocator(store, plane, 0, log.Component("locator"))

	// Stations
	manager := station.NewManager(registry, station.Options{
		Plane:    plane,
		Resolver: locator,
		Tokens:   cloud.NewDeviceTokens(plane),
		Config:   cfg.Station,
		Logger:   log.Component("station"),
	})
	defer func() {
		log.Info("closing stations")
		if closeErr := manager.Close(); closeErr != nil {
			log.Error("error closing stations", "error", closeErr)
		}
	}()
	if startErr := manager.Start(ctx); startErr != nil {
		return fmt.Errorf("starting stations: %w", startErr)
	}

	if cfg.Discovery.Enabled {
		browser := discovery.NewBrowser(cfg.Discovery, store, log.Component("discovery"))
		browser.SetOnFound(func(ep discovery.Endpoint) {
			manager.Reconnect(ep.DeviceID)
		})
		go browser.Run(ctx)
		log.Info("mDNS discovery started", "service", cfg.Discovery.Service)
	} else {
		log.Info("mDNS discovery disabled")
	}

	// InfluxDB (optional)
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	// MQTT bridge (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })

		bridge, bridgeErr := startBridge(ctx, cfg, mqttClient, manager, registry, influxClient, log)
		if bridgeErr != nil {
			return bridgeErr
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			bridge.Stop()
		}()
	} else {
		log.Info("MQTT disabled")
	}

	// HTTP API
	if cfg.API.Enabled {
		checks := map[string]api.HealthChecker{"database": db, "cloud": plane}
		deps := api.Deps{
			Config:    cfg.API,
			WS:        cfg.WebSocket,
			Logger:    log.Component("api"),
			Devices:   registry,
			Stations:  manager,
			Endpoints: store,
			DB:        db.DB,
			Checks:    checks,
			Version:   version,
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
			checks["mqtt"] = mqttClient
		}
		if influxClient != nil {
			checks["influxdb"] = influxClient
		}

		srv, srvErr := api.New(deps)
		if srvErr != nil {
			return fmt.Errorf("creating API server: %w", srvErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("HTTP API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal",
		"stations", len(manager.Stations()),
	)

	<-ctx.Done()

	// Deferred Close() calls run in reverse order: API, MQTT bridge, MQTT,
	// InfluxDB, stations, registry, database.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// startBridge wires stations to MQTT. influxClient may be nil.
func startBridge(
	ctx context.Context,
	cfg *config.Config,
	mqttClient *mqtt.Client,
	manager *station.Manager,
	registry *device.Registry,
	influxClient *influxdb.Client,
	log *logging.Logger,
) (*yandex.Bridge, error) {
	opts := yandex.Options{
		MQTT:           mqttClient,
		Stations:       manager,
		Scenarios:      registry,
		Version:        version,
		HealthInterval: cfg.MQTTHealthInterval(),
		Logger:         log.Component("bridge"),
	}
	if influxClient != nil {
		opts.Telemetry = influxClient
	}

	bridge, err := yandex.NewBridge(opts)
	if err != nil {
		return nil, fmt.Errorf("creating MQTT bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting MQTT bridge: %w", err)
	}
	log.Info("MQTT bridge started")
	return bridge, nil
}

// getConfigPath returns the configuration file path.
// Uses STATIONBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("STATIONBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies infrastructure connections. mqttClient and
// influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
