package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/fulfillment/internal/health"
)

const (
	httpShutdownTimeout = 5 * time.Second
	readHeaderTimeout   = 5 * time.Second
	httpIdleTimeout     = 60 * time.Second
)

// opsRoutes служебные маршруты: метрики Prometheus и три health-эндпоинта.
func opsRoutes(health *healthcheck.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", health.ReadinessHandler)
	return mux
}

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       httpIdleTimeout,
	}
}

// serveHTTP слушает в отдельной горутине; штатная остановка ошибкой не считается.
func serveHTTP(srv *http.Server, logger *log.Entry, onErr func(error)) {
	go func() {
		logger.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			onErr(err)
		}
	}()
}

// startMetricsServer поднимает служебный сервер и гасит его по отмене ctx.
// Падение этого сервера не останавливает сервис.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, health *healthcheck.Handler) *http.Server {
	srv := newHTTPServer(addr, opsRoutes(health))
	opsLogger := logger.WithField("server", "ops")
	serveHTTP(srv, opsLogger, func(err error) {
		opsLogger.WithError(err).Warn("ops server stopped")
	})

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, opsLogger)
	}()
	return srv
}

// startAPIServer поднимает JSON API кассы. Ошибка прослушивания уходит в errCh.
func startAPIServer(addr string, handler http.Handler, logger *log.Entry, errCh chan<- error) *http.Server {
	srv := newHTTPServer(addr, handler)
	serveHTTP(srv, logger.WithField("server", "api"), func(err error) { errCh <- err })
	return srv
}

func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
