// Package health answers liveness, readiness and health probes for a running
// simulation. Health is the worst status reported by the registered checkers.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gustycube/balkansim/internal/logging"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// severity orders statuses from best to worst.
var severity = map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}

// Check is the outcome of one checker.
type Check struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ms"`
}

// Response is the body served on /health.
type Response struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    []Check           `json:"checks"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type Checker interface {
	Check(ctx context.Context) Check
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) Check

func (f CheckerFunc) Check(ctx context.Context) Check { return f(ctx) }

type Handler struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	metadata map[string]string
	ready    bool
	log      *logging.Logger
}

func NewHandler(log *logging.Logger) *Handler {
	return &Handler{
		checkers: make(map[string]Checker),
		metadata: make(map[string]string),
		log:      log,
	}
}

func (h *Handler) RegisterChecker(name string, c Checker) {
	h.mu.Lock()
	h.checkers[name] = c
	h.mu.Unlock()
}

// SetMetadata attaches a key to every health and readiness response.
func (h *Handler) SetMetadata(key, value string) {
	h.mu.Lock()
	h.metadata[key] = value
	h.mu.Unlock()
}

// SetReady flips readiness; a run is ready while it is stepping.
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	h.ready = ready
	h.mu.Unlock()
}

func (h *Handler) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// snapshot copies the checkers, in name order, and the metadata.
func (h *Handler) snapshot() ([]string, map[string]Checker, map[string]string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.checkers))
	checkers := make(map[string]Checker, len(h.checkers))
	for name, c := range h.checkers {
		names = append(names, name)
		checkers[name] = c
	}
	sort.Strings(names)
	meta := make(map[string]string, len(h.metadata))
	for k, v := range h.metadata {
		meta[k] = v
	}
	return names, checkers, meta
}

// HealthHandler runs every checker. Degraded answers 200, unhealthy 503.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	names, checkers, meta := h.snapshot()
	resp := Response{Status: StatusHealthy, Timestamp: time.Now(), Checks: make([]Check, 0, len(names)), Metadata: meta}
	for _, name := range names {
		c := checkers[name].Check(ctx)
		c.Name = name
		resp.Checks = append(resp.Checks, c)
		if severity[c.Status] > severity[resp.Status] {
			resp.Status = c.Status
		}
	}

	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
		h.log.Warnw("health check failed", "checks", resp.Checks)
	}
	writeJSON(w, code, resp)
}

func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ready := h.IsReady()
	_, _, meta := h.snapshot()
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{"ready": ready, "timestamp": time.Now(), "metadata": meta})
}

// LivenessHandler answers 200 for as long as the process serves HTTP.
func (h *Handler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"alive": true, "timestamp": time.Now()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// timed runs fn and stamps the result with the time it took.
func timed(fn func() (Status, string)) Check {
	start := time.Now()
	status, msg := fn()
	return Check{Status: status, Message: msg, LastChecked: time.Now(), Duration: time.Since(start) / time.Millisecond}
}

// NewRedisChecker pings the Redis sample sink. A nil ping means Redis is not
// configured. Batches are spooled while Redis is down, so a failed ping only
// degrades the run.
func NewRedisChecker(ping func(ctx context.Context) error) Checker {
	return CheckerFunc(func(ctx context.Context) Check {
		return timed(func() (Status, string) {
			if ping == nil {
				return StatusHealthy, "Redis not configured"
			}
			if err := ping(ctx); err != nil {
				return StatusDegraded, "Redis connection failed: " + err.Error()
			}
			return StatusHealthy, "Redis connection OK"
		})
	})
}

// NewProgressChecker reports steps done against the target. A run that has
// not taken its first step is degraded.
func NewProgressChecker(progress func() (done, target int)) Checker {
	return CheckerFunc(func(context.Context) Check {
		return timed(func() (Status, string) {
			done, target := progress()
			msg := fmt.Sprintf("%d/%d steps", done, target)
			switch {
			case target > 0 && done >= target:
				return StatusHealthy, msg + ", finished"
			case done == 0:
				return StatusDegraded, msg + ", not started"
			}
			return StatusHealthy, msg
		})
	})
}

// NewConnectivityChecker reports whether the simulated network is one piece.
// Rewiring never disconnects it, so a split means a broken run.
func NewConnectivityChecker(components func() int) Checker {
	return CheckerFunc(func(context.Context) Check {
		return timed(func() (Status, string) {
			if n := components(); n != 1 {
				return StatusUnhealthy, fmt.Sprintf("network split into %d components", n)
			}
			return StatusHealthy, "network connected"
		})
	})
}
