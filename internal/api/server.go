package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/watchme-core/internal/device"
	"github.com/nerrad567/watchme-core/internal/infrastructure/config"
	"github.com/nerrad567/watchme-core/internal/infrastructure/logging"
	"github.com/nerrad567/watchme-core/internal/report"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceManager is the device reconciliation surface served by the API.
type DeviceManager interface {
	Snapshot() device.State
	DeviceInfo() (device.Info, bool)
	RegisterDevice(ctx context.Context, ownerUserID string) error
	ResetDeviceRegistration(ctx context.Context) error
	FetchUserDevices(ctx context.Context, ownerUserID string) error
	SelectDevice(id string) bool
	AddObserver(fn func(device.State))
}

// SessionStore holds the signed-in user's access token.
type SessionStore interface {
	SetAccessToken(token string) error
	Clear()
	IsAuthenticated() bool
	UserID() (string, bool)
}

// HealthChecker is implemented by optional infrastructure (MQTT, InfluxDB).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Devices DeviceManager
	Session SessionStore
	Reports *report.View

	// Location parses the report date parameter. Defaults to UTC.
	Location *time.Location

	// Health lists optional components reported by /health.
	Health  map[string]HealthChecker
	Version string
}

// Server is the local HTTP control surface.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	devices  DeviceManager
	session  SessionStore
	reports  *report.View
	location *time.Location
	health   map[string]HealthChecker
	version  string

	hub     *Hub
	limiter *clientLimiter
	server  *http.Server
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a new API server. It is not listening until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device manager is required")
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		logger:   deps.Logger,
		devices:  deps.Devices,
		session:  deps.Session,
		reports:  deps.Reports,
		location: deps.Location,
		health:   deps.Health,
		version:  deps.Version,
		hub:      NewHub(deps.WS, deps.Logger),
	}
	s.hub.SetSnapshot(ChannelDeviceState, func() any { return s.devices.Snapshot() })
	// Broadcast never blocks, so it is safe on the manager's publish path.
	s.devices.AddObserver(func(state device.State) {
		s.hub.Broadcast(ChannelDeviceState, state)
	})
	if deps.Config.RateLimit.Enabled {
		s.limiter = newClientLimiter(deps.Config.RateLimit.RequestsPerMinute)
	}
	return s, nil
}

// Start runs the WebSocket hub and begins listening
// for HTTP connections in the background.
func (s *Server) Start(ctx context.Context) error {
	srvCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.hub.Run(srvCtx)
	if s.limiter != nil {
		go s.limiter.cleanupLoop(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		defer close(s.done)
		s.logger.Info("API server listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds
// for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	<-s.done
	return nil
}

// HealthCheck verifies the API server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// Handler returns the router without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}
