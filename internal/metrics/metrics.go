package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	inboundMsgs  = prometheus.NewCounter(prometheus.CounterOpts{Name: "hassbuddy_inbound_total", Help: "Inbound messages seen"})
	stageErrors  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "hassbuddy_stage_errors_total", Help: "Pipeline failures by stage"}, []string{"stage"})
	created      = prometheus.NewCounter(prometheus.CounterOpts{Name: "hassbuddy_automations_created_total", Help: "Automations appended to the automations file"})
	reloads      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "hassbuddy_reloads_total", Help: "Automation reload calls"}, []string{"status"})
	sendErrors   = prometheus.NewCounter(prometheus.CounterOpts{Name: "hassbuddy_send_errors_total", Help: "Transport send errors"})
	mergeSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hassbuddy_merge_seconds",
		Help:    "Time spent reading, appending and rewriting the automations file",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	})
)

func init() {
	prometheus.MustRegister(inboundMsgs, stageErrors, created, reloads, sendErrors, mergeSeconds)
}

// Start runs a Prometheus handler on the given listen addr.
func Start(ctx context.Context, listen string, log *slog.Logger) error {
	if listen == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", slog.String("err", err.Error()))
			}
		}
	}()
	return nil
}

func IncInbound() { inboundMsgs.Inc() }

func IncStageError(stage string) { stageErrors.WithLabelValues(stage).Inc() }

func IncCreated() { created.Inc() }

func IncReload(status string) { reloads.WithLabelValues(status).Inc() }

func IncSendError() { sendErrors.Inc() }

func ObserveMerge(d time.Duration) { mergeSeconds.Observe(d.Seconds()) }
