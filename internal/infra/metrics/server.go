package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// StartMetricsServer serves the Prometheus scrape endpoint and a health
// probe for one pipeline stage. Each worker binary runs its own server, so
// the probe names the stage it reports on.
func StartMetricsServer(port int, stage string, logger *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: newHandler(stage),
	}

	go func() {
		logger.Info("metrics server starting",
			zap.Int("port", port),
			zap.String("stage", stage),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	return srv
}

func newHandler(stage string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","stage":%q}`, stage)
	})
	return mux
}
