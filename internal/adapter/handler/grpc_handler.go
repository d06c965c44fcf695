package handler

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/library-management/internal/port"
)

// LibraryService is the service name reported next to the overall ("") status.
const LibraryService = "library.Library"

const pingTimeout = 3 * time.Second

// HealthHandler serves grpc.health.v1.Health and keeps its status in line
// with whether the store answers pings.
type HealthHandler struct {
	server   *health.Server
	store    port.Pinger
	interval time.Duration
}

func NewHealthHandler(store port.Pinger, interval time.Duration) *HealthHandler {
	return &HealthHandler{
		server:   health.NewServer(),
		store:    store,
		interval: interval,
	}
}

func (h *HealthHandler) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Probe pings the store once and publishes the result.
func (h *HealthHandler) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := h.store.Ping(ctx); err != nil {
		slog.Warn(
			"store ping failed",
			slog.String("op", "HealthHandler.Probe"),
			slog.String("err", err.Error()),
		)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}

	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(LibraryService, status)
	return status
}

// Run probes on every interval until ctx is done, then marks the server as
// shutting down so clients stop routing to it.
func (h *HealthHandler) Run(ctx context.Context) {
	h.Probe(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			h.Probe(ctx)
		}
	}
}
