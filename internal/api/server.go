package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/station-bridge/internal/device"
	"github.com/nerrad567/station-bridge/internal/discovery"
	"github.com/nerrad567/station-bridge/internal/infrastructure/config"
	"github.com/nerrad567/station-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/station-bridge/internal/station"
	"github.com/nerrad567/station-bridge/internal/transport"
)

// gracefulShutdownTimeout bounds the wait for in-flight requests on Close.
const gracefulShutdownTimeout = 10 * time.Second

// WebSocket event channels.
const (
	ChannelStationState     = "station.state"
	ChannelRegistryDevices  = "registry.devices"
	ChannelRegistryScenario = "registry.scenarios"
	ChannelRegistryStates   = "registry.states"
	ChannelScenarioRun      = "scenario.run"
)

// DeviceCatalog is the device registry as seen by the API.
// *device.Registry satisfies it.
type DeviceCatalog interface {
	Devices(ctx context.Context) (map[string]device.Device, error)
	Device(ctx context.Context, id string) (device.Device, error)
	DevicesByType(ctx context.Context, t string) ([]device.Device, error)
	DevicesByPlatform(ctx context.Context, platform string) ([]device.Device, error)
	Scenarios(ctx context.Context) ([]device.Scenario, error)
	SubscribeDevices(fn func(map[string]device.Device)) (unsubscribe func())
	SubscribeScenarios(fn func([]device.Scenario)) (unsubscribe func())
	SubscribeStates(fn func(device.StatesUpdate)) (unsubscribe func())
	SubscribeScenarioRuns(fn func(device.ScenarioRun)) (unsubscribe func())
	FeedStats() transport.Stats
}

// StationService controls stations. *station.Manager satisfies it.
type StationService interface {
	Get(ctx context.Context, id string) (*station.Station, error)
	Stations() []*station.Station
	Execute(ctx context.Context, id string, req station.CommandRequest) error
	SubscribeStates(fn func(station.StateChange)) (unsubscribe func())
}

// EndpointLister lists the stored local addresses of speakers.
// *discovery.Store satisfies it.
type EndpointLister interface {
	List(ctx context.Context) ([]discovery.Endpoint, error)
}

// HealthChecker is implemented by components reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnectionStatus reports a client's connection state, such as MQTT.
type ConnectionStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies of the API server. Logger, Devices and
// Stations are required.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Devices   DeviceCatalog
	Stations  StationService
	Endpoints EndpointLister
	MQTT      ConnectionStatus
	DB        *sql.DB
	Checks    map[string]HealthChecker
	Version   string
}

// Server is the HTTP API and WebSocket server.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	devices   DeviceCatalog
	stations  StationService
	endpoints EndpointLister
	mqtt      ConnectionStatus
	db        *sql.DB
	checks    map[string]HealthChecker
	version   string
	startTime time.Time

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc

	mu           sync.Mutex
	unsubscribes []func()
}

// New creates a server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device catalog is required")
	}
	if deps.Stations == nil {
		return nil, fmt.Errorf("station service is required")
	}
	if deps.WS.Path == "" {
		deps.WS.Path = "/ws"
	}

	hub := NewHub(deps.WS, deps.Logger)
	hub.SetCommandExecutor(deps.Stations.Execute)

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		devices:   deps.Devices,
		stations:  deps.Stations,
		endpoints: deps.Endpoints,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		checks:    deps.Checks,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       hub,
	}, nil
}

// Start relays registry and station events to the WebSocket hub and
// starts the HTTP listener in the background.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.subscribeEvents()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", s.server.Addr)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// subscribeEvents forwards every event source to its hub channel.
func (s *Server) subscribeEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribes = append(s.unsubscribes,
		s.stations.SubscribeStates(func(c station.StateChange) {
			s.hub.Broadcast(ChannelStationState, c)
		}),
		s.devices.SubscribeDevices(func(devices map[string]device.Device) {
			s.hub.Broadcast(ChannelRegistryDevices, map[string]any{"devices": devices, "count": len(devices)})
		}),
		s.devices.SubscribeScenarios(func(scenarios []device.Scenario) {
			s.hub.Broadcast(ChannelRegistryScenario, map[string]any{"scenarios": scenarios, "count": len(scenarios)})
		}),
		s.devices.SubscribeStates(func(u device.StatesUpdate) {
			s.hub.Broadcast(ChannelRegistryStates, u)
		}),
		s.devices.SubscribeScenarioRuns(func(run device.ScenarioRun) {
			s.hub.Broadcast(ChannelScenarioRun, run)
		}),
	)
}

// Close stops event relays, disconnects WebSocket clients and shuts the
// listener down, waiting up to 10 seconds for in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	unsubscribes := s.unsubscribes
	s.unsubscribes = nil
	s.mu.Unlock()
	for _, unsubscribe := range unsubscribes {
		unsubscribe()
	}

	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}
