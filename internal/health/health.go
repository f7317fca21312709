// Package health reports store availability over the gRPC health protocol.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// StoreService is the health service name reflecting the document store.
const StoreService = "zera.v1.Store"

// Pinger is anything that can prove it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker keeps a gRPC health server in sync with periodic pings.
type Checker struct {
	server   *grpchealth.Server
	pinger   Pinger
	interval time.Duration
	logger   *slog.Logger
}

// NewChecker creates a checker that pings every interval.
func NewChecker(p Pinger, interval time.Duration, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Checker{
		server:   grpchealth.NewServer(),
		pinger:   p,
		interval: interval,
		logger:   logger,
	}
}

// Server returns the underlying health server.
func (c *Checker) Server() *grpchealth.Server {
	return c.server
}

// Check pings once and updates the serving status.
func (c *Checker) Check(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := grpc_health_v1.HealthCheckResponse_SERVING
	if err := c.pinger.Ping(pingCtx); err != nil {
		c.logger.Warn("Store ping failed", "error", err)
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	c.server.SetServingStatus("", status)
	c.server.SetServingStatus(StoreService, status)
	return status == grpc_health_v1.HealthCheckResponse_SERVING
}

// Run checks until ctx ends, then marks everything NOT_SERVING.
func (c *Checker) Run(ctx context.Context) {
	c.Check(ctx)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.server.Shutdown()
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Serve runs a gRPC server exposing only the health service on addr until ctx ends.
func Serve(ctx context.Context, addr string, c *Checker) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, c.server)

	go c.Run(ctx)
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	c.logger.Info("gRPC health server starting", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve health: %w", err)
	}
	return nil
}
