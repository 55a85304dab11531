// Package grpcserver exposes the standard gRPC health protocol for the daemon's components.
package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	ServiceCheckout = "jkt48connect.checkout"
	ServiceChat     = "jkt48connect.chat"

	defaultCheckInterval = 15 * time.Second
	defaultCheckTimeout  = 3 * time.Second
	overallService       = ""
)

var ErrInvalidConfig = errors.New("invalid health server config")

// Check reports whether a component can serve traffic.
type Check func(ctx context.Context) error

// Option configures a HealthServer.
type Option func(*HealthServer)

// WithCheckInterval overrides how often checks run while watching.
func WithCheckInterval(interval time.Duration) Option {
	return func(server *HealthServer) {
		if interval > 0 {
			server.interval = interval
		}
	}
}

// WithLogger wires a logger for check failures.
func WithLogger(logger *zap.Logger) Option {
	return func(server *HealthServer) {
		if logger != nil {
			server.logger = logger
		}
	}
}

// HealthServer keeps grpc.health.v1 statuses in sync with component checks.
type HealthServer struct {
	health   *health.Server
	checks   map[string]Check
	names    []string
	interval time.Duration
	logger   *zap.Logger

	mutex  sync.Mutex
	failed map[string]bool
}

// NewHealthServer constructs a HealthServer for the named checks.
func NewHealthServer(checks map[string]Check, options ...Option) (*HealthServer, error) {
	if len(checks) == 0 {
		return nil, fmt.Errorf("%w: at least one check is required", ErrInvalidConfig)
	}
	names := make([]string, 0, len(checks))
	for name, check := range checks {
		if name == overallService || check == nil {
			return nil, fmt.Errorf("%w: check %q is unusable", ErrInvalidConfig, name)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	server := &HealthServer{
		health:   health.NewServer(),
		checks:   checks,
		names:    names,
		interval: defaultCheckInterval,
		logger:   zap.NewNop(),
		failed:   make(map[string]bool),
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	for _, name := range names {
		server.health.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	server.health.SetServingStatus(overallService, healthpb.HealthCheckResponse_NOT_SERVING)
	return server, nil
}

// Register attaches the health service to grpcServer.
func (server *HealthServer) Register(grpcServer *grpc.Server) {
	healthpb.RegisterHealthServer(grpcServer, server.health)
}

// Refresh runs every check once and publishes the result. The overall
// service is serving only when every component is.
func (server *HealthServer) Refresh(ctx context.Context) {
	allServing := true
	for _, name := range server.names {
		checkCtx, cancel := context.WithTimeout(ctx, defaultCheckTimeout)
		err := server.checks[name](checkCtx)
		cancel()
		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			allServing = false
		}
		server.recordCheck(name, err)
		server.health.SetServingStatus(name, status)
	}
	overall := healthpb.HealthCheckResponse_SERVING
	if !allServing {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	server.health.SetServingStatus(overallService, overall)
}

// Watch refreshes checks until ctx is done, then marks everything not serving.
func (server *HealthServer) Watch(ctx context.Context) {
	server.Refresh(ctx)
	ticker := time.NewTicker(server.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			server.health.Shutdown()
			return
		case <-ticker.C:
			server.Refresh(ctx)
		}
	}
}

// recordCheck logs transitions between healthy and failing only.
func (server *HealthServer) recordCheck(name string, err error) {
	server.mutex.Lock()
	wasFailing := server.failed[name]
	server.failed[name] = err != nil
	server.mutex.Unlock()
	switch {
	case err != nil && !wasFailing:
		server.logger.Warn("health check failing", zap.String("service", name), zap.Error(err))
	case err == nil && wasFailing:
		server.logger.Info("health check recovered", zap.String("service", name))
	}
}

// Serve listens on listenAddr and serves health until ctx is cancelled.
func Serve(ctx context.Context, listenAddr string, server *HealthServer, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	grpcServer := grpc.NewServer()
	server.Register(grpcServer)

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go server.Watch(watchCtx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC health server starting", zap.String("listen_addr", listenAddr))
		errCh <- grpcServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		grpcServer.GracefulStop()
		if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return serveErr
		}
		return nil
	case serveErr := <-errCh:
		if errors.Is(serveErr, grpc.ErrServerStopped) {
			return nil
		}
		return serveErr
	}
}
