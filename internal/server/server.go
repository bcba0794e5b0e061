package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/2beens/trainmate/internal/config"
	"github.com/2beens/trainmate/internal/defaults"
	"github.com/2beens/trainmate/internal/history"
	"github.com/2beens/trainmate/internal/middleware"
	"github.com/2beens/trainmate/internal/session"
	"github.com/2beens/trainmate/internal/syncer"
	"github.com/2beens/trainmate/internal/telemetry/metrics"
	"github.com/2beens/trainmate/internal/telemetry/tracing"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server
	versionInfo       string

	config          *config.Config
	store           *history.Store
	adapter         *syncer.Adapter
	sessionManager  *session.Manager
	coordinator     *session.Coordinator
	stopCoordinator context.CancelFunc

	// telemetry
	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()
}

type NewServerParams struct {
	Config        *config.Config
	BackendAPIKey string
	VersionInfo   string
}

func NewServer(params NewServerParams) (*Server, error) {
	promRegistry := metrics.SetupPrometheus()
	metricsManager := metrics.NewManager("trainmate", "client", promRegistry)
	metricsManager.GaugeLifeSignal.Set(0)

	// use honeycomb distro to setup OpenTelemetry SDK
	otelShutdown, err := tracing.HoneycombSetup(params.Config.HoneycombTracing, "trainmate")
	if err != nil {
		return nil, err
	}

	store, err := history.Open(params.Config.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	tracedHttpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	backendClient := syncer.NewClient(
		params.Config.BackendBaseURL,
		params.BackendAPIKey,
		tracedHttpClient,
	)
	adapter := syncer.NewAdapter(
		backendClient,
		store,
		time.Duration(params.Config.SyncCooldownMinutes)*time.Minute,
		metricsManager,
	)

	sessionManager := session.NewManager(
		adapter,
		defaults.NewResolver(store),
		store,
		metricsManager,
	)
	coordinator := session.NewCoordinator(
		sessionManager.CompletionEvents(),
		store,
		adapter,
	)

	return &Server{
		config:         params.Config,
		versionInfo:    params.VersionInfo,
		store:          store,
		adapter:        adapter,
		sessionManager: sessionManager,
		coordinator:    coordinator,
		metricsManager: metricsManager,
		promRegistry:   promRegistry,
		otelShutdown:   otelShutdown,
	}, nil
}

func (s *Server) routerSetup() *mux.Router {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("trainmate-router"))

	handler := NewHandler(
		s.sessionManager,
		s.adapter,
		s.store,
		s.versionInfo,
	)
	handler.SetupRoutes(r)

	// all the rest - unhandled paths
	r.HandleFunc("/{unknown}", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}).Methods("GET", "POST", "PUT", "OPTIONS").Name("unknown")

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.metricsManager))
	r.Use(middleware.Cors())
	r.Use(middleware.DrainAndCloseRequest())

	return r
}

func (s *Server) Serve(ctx context.Context, host string, port int) {
	coordinatorCtx, stopCoordinator := context.WithCancel(ctx)
	s.stopCoordinator = stopCoordinator
	go s.coordinator.Run(coordinatorCtx)

	router := s.routerSetup()

	ipAndPort := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Handler:      router,
		Addr:         ipAndPort,
		WriteTimeout: time.Minute,
		ReadTimeout:  time.Minute,
		ConnState:    s.connStateMetrics,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.HandlerFor(
		s.promRegistry,
		promhttp.HandlerOpts{},
	))
	metricsAddr := net.JoinHostPort(
		s.config.PrometheusMetricsHost,
		strconv.Itoa(s.config.PrometheusMetricsPort),
	)
	s.metricsHttpServer = &http.Server{
		Addr:    metricsAddr,
		Handler: metricsRouter,
	}

	go func() {
		log.Infof(" > server listening on: [%s]", ipAndPort)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("trainmate service, listen and serve: %s", err)
		}
	}()

	go func() {
		log.Debugf(" > metrics listening on: [%s]", metricsAddr)
		err := s.metricsHttpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics service, listen and serve: %s", err)
		}
	}()

	s.metricsManager.GaugeLifeSignal.Set(1)
}

func (s *Server) GracefulShutdown() {
	log.Debug("graceful shutdown initiated ...")

	s.metricsManager.GaugeLifeSignal.Set(0)

	s.otelShutdown()
	log.Trace("otel shut down ...")

	if s.stopCoordinator != nil {
		s.stopCoordinator()
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Errorf("failed to close local store: %s", err)
		}
	}

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Error(" >>> failed to gracefully shutdown http server")
	}
	log.Warnln("server shut down")

	if err := s.metricsHttpServer.Shutdown(ctx); err != nil {
		log.Error(" >>> failed to gracefully shutdown metrics http server")
	}
	log.Warnln("metrics server shut down")
}

func (s *Server) connStateMetrics(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.metricsManager.GaugeRequests.Add(1)
	case http.StateClosed:
		s.metricsManager.GaugeRequests.Add(-1)
	default:
		// do nothing
	}
}
