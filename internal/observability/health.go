package observability

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthChecker manages liveness and readiness state. Readiness flips on
// once recovery has replayed the event log, and is mirrored to the gRPC
// health service when one is attached.
type HealthChecker struct {
	ready      atomic.Bool
	startTime  time.Time
	grpcHealth atomic.Pointer[health.Server]
	progress   atomic.Pointer[func() int64]
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
	}
}

// AttachGRPC reports readiness through hs from now on.
func (h *HealthChecker) AttachGRPC(hs *health.Server) {
	h.grpcHealth.Store(hs)
	h.publish(h.IsReady())
}

// SetProgress sets the function reporting the applied sequence.
func (h *HealthChecker) SetProgress(fn func() int64) {
	h.progress.Store(&fn)
}

// SetReady marks the service as ready to accept traffic.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
	h.publish(ready)
}

func (h *HealthChecker) publish(ready bool) {
	hs := h.grpcHealth.Load()
	if hs == nil {
		return
	}
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		status = healthpb.HealthCheckResponse_SERVING
	}
	hs.SetServingStatus("", status)
}

func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// LivenessHandler returns 200 while the process is running.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns 200 once recovery is complete, 503 before.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "not_ready"}
	code := http.StatusServiceUnavailable
	if h.ready.Load() {
		body["status"] = "ready"
		code = http.StatusOK
	}
	if fn := h.progress.Load(); fn != nil {
		body["sequence"] = (*fn)()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
