package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gustycube/balkansim/internal/health"
)

var (
	StepsTotal     = prometheus.NewCounter(prometheus.CounterOpts{Name: "balkansim_steps_total", Help: "simulation steps completed"})
	PacketsTotal   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "balkansim_packets_total", Help: "packets originated"}, []string{"kind"})
	ThreatsBlocked = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "balkansim_threats_blocked_total", Help: "threats stopped by detection"}, []string{"where"})
	ThreatsLeaked  = prometheus.NewCounter(prometheus.CounterOpts{Name: "balkansim_threats_leaked_total", Help: "threats that reached an end user"})
	RewiresTotal   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "balkansim_rewires_total", Help: "rewiring decisions"}, []string{"outcome"})
	Balkanisation  = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "balkansim_balkanisation", Help: "latest balkanisation measure"}, []string{"measure"})
	MaxBetweenness = prometheus.NewGauge(prometheus.GaugeOpts{Name: "balkansim_max_betweenness", Help: "highest normalised betweenness centrality"})
	BatchesTotal   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "balkansim_batches_total", Help: "sample batches shipped"}, []string{"sink", "status"})
)

func init() {
	prometheus.MustRegister(StepsTotal, PacketsTotal, ThreatsBlocked, ThreatsLeaked, RewiresTotal, Balkanisation, MaxBetweenness, BatchesTotal)
}

// Handler returns the mux serving /metrics and the health endpoints.
func Handler(healthHandler *health.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler.HealthHandler)
	mux.HandleFunc("/ready", healthHandler.ReadinessHandler)
	mux.HandleFunc("/live", healthHandler.LivenessHandler)
	return mux
}

// ServeWithHealth serves Handler on addr until ctx is cancelled.
func ServeWithHealth(ctx context.Context, addr string, healthHandler *health.Handler, log *zap.SugaredLogger) {
	srv := &http.Server{Addr: addr, Handler: Handler(healthHandler), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warnw("metrics server stopped", "err", err)
	}
}
