package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/adaptive"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/admin"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/alert"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/circuitbreaker"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/config"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/controller"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/metrics"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/recorder"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/retry"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/store/postgres"
	redispkg "github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/store/redis"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/tracing"
)

const (
	serviceName      = "traffic-controller"
	shutdownTimeout  = 5 * time.Second
	alertTimeout     = 10 * time.Second
	readinessTimeout = 2 * time.Second
)

var newStreamFactory = func(ctx context.Context, redisURL string) (redispkg.MessageTransport, error) {
	return redispkg.NewStream(ctx, redisURL)
}

type dbStatsProvider interface {
	Stats() sql.DBStats
}

func collectDBPoolStats(db dbStatsProvider) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("db pool stats collection panicked: %v", r)
		}
	}()
	if db == nil {
		return fmt.Errorf("db stats provider is nil")
	}

	stats := db.Stats()
	metrics.DBPoolOpen.Set(float64(stats.OpenConnections))
	metrics.DBPoolInUse.Set(float64(stats.InUse))
	metrics.DBPoolIdle.Set(float64(stats.Idle))
	return nil
}

func startDBPoolStatsPump(ctx context.Context, db dbStatsProvider, intervalMS int, logger *slog.Logger) {
	if db == nil || intervalMS <= 0 {
		return
	}

	ticker := time.NewTicker(time.Duration(intervalMS) * time.Millisecond)
	go func() {
		defer ticker.Stop()

		if err := collectDBPoolStats(db); err != nil {
			logger.Warn("failed to collect initial db pool stats", "error", err)
		}
		for {
			select {
			case <-ctx.Done():
				logger.Info("db pool stats sampler stopped", "cause", "context_done")
				return
			case <-ticker.C:
				if err := collectDBPoolStats(db); err != nil {
					logger.Warn("failed to collect db pool stats", "error", err)
				}
			}
		}
	}()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildAlerter(cfg config.AlertConfig, logger *slog.Logger) alert.Alerter {
	var channels []alert.Alerter
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, alert.NewSlackAlerter(cfg.SlackWebhookURL))
	}
	if cfg.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookAlerter(cfg.WebhookURL))
	}
	if len(channels) == 0 {
		return &alert.NoopAlerter{}
	}
	logger.Info("alerting enabled", "channels", len(channels), "cooldown", cfg.Cooldown.String())
	return alert.NewMultiAlerter(cfg.Cooldown, logger, channels...)
}

// breakerAlert maps a sink breaker transition to an operator alert. Only
// opening and recovering to closed are reported.
func breakerAlert(deviceID, sink string, from, to circuitbreaker.State) (alert.Alert, bool) {
	switch {
	case to == circuitbreaker.StateOpen:
		return alert.Alert{
			Type:    alert.AlertTypeSinkDegraded,
			Device:  deviceID,
			Key:     sink,
			Title:   fmt.Sprintf("Persistence sink %s degraded", sink),
			Message: "Writes are being skipped until the sink recovers.",
			Fields:  map[string]string{"sink": sink, "from": from.String()},
		}, true
	case to == circuitbreaker.StateClosed && from != circuitbreaker.StateClosed:
		return alert.Alert{
			Type:    alert.AlertTypeSinkRecovered,
			Device:  deviceID,
			Key:     sink,
			Title:   fmt.Sprintf("Persistence sink %s recovered", sink),
			Message: "Writes resumed.",
			Fields:  map[string]string{"sink": sink},
		}, true
	default:
		return alert.Alert{}, false
	}
}

func main() {
	if err := config.LoadEnvFile(os.Getenv("ENV_FILE")); err != nil {
		slog.Error("failed to load env file", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	logger.Info("starting traffic controller",
		"device_id", cfg.Controller.DeviceID,
		"http_port", cfg.Server.HTTPPort,
		"health_port", cfg.Server.HealthPort,
		"auto_mode_enabled", cfg.Controller.AutoModeEnabled,
		"adaptive_config_file", cfg.AdaptiveConfigFile,
		"postgres_enabled", cfg.DB.URL != "",
		"redis_enabled", cfg.Redis.URL != "",
	)

	tracingEndpoint := ""
	if cfg.Tracing.Enabled {
		tracingEndpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Init(context.Background(), tracing.Options{
		ServiceName: serviceName,
		DeviceID:    cfg.Controller.DeviceID,
		Endpoint:    tracingEndpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.Enabled {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alerter := buildAlerter(cfg.Alert, logger)

	var (
		sinks    []recorder.Sink
		db       *postgres.DB
		adminOpt []admin.ServerOption
		checks   []readinessCheck
	)

	if cfg.DB.URL != "" {
		db, err = postgres.New(postgres.Config{
			URL:                cfg.DB.URL,
			MaxOpenConns:       cfg.DB.MaxOpenConns,
			MaxIdleConns:       cfg.DB.MaxIdleConns,
			ConnMaxLifetime:    cfg.DB.ConnMaxLifetime,
			StatementTimeoutMS: cfg.DB.StatementTimeoutMS,
		})
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.RunMigrations(ctx, postgres.Migrations()); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to database")

		telemetryRepo := postgres.NewTelemetryRepo(db)
		decisionRepo := postgres.NewDecisionRepo(db)
		sinks = append(sinks, recorder.Sink{Name: "postgres", Telemetry: telemetryRepo, Decisions: decisionRepo})
		adminOpt = append(adminOpt, admin.WithTelemetryArchive(telemetryRepo), admin.WithDecisionArchive(decisionRepo))
		checks = append(checks, readinessCheck{name: "postgres", ping: db.PingContext})
	}

	transport, streamName, err := openStreamTransport(ctx, cfg.Redis.URL)
	if err != nil {
		logger.Error("failed to initialize redis stream transport", "error", err)
		os.Exit(1)
	}
	defer transport.Close()

	streamSink := redispkg.NewStreamSink(transport, cfg.Redis.StreamNamespace)
	sinks = append(sinks, recorder.Sink{Name: streamName, Telemetry: streamSink, Decisions: streamSink})
	adminOpt = append(adminOpt, admin.WithFeed(streamSink))
	checks = append(checks, readinessCheck{name: streamName, ping: streamSink.Ping})
	logger.Info("record stream enabled", "transport", streamName, "stream_namespace", cfg.Redis.StreamNamespace)

	rec := recorder.New(recorder.Config{
		BufferSize: cfg.Recorder.BufferSize,
		Retry:      retry.Policy{MaxAttempts: cfg.Recorder.MaxAttempts},
		Breaker: circuitbreaker.Config{
			FailureThreshold: cfg.Recorder.BreakerThreshold,
			OpenTimeout:      cfg.Recorder.BreakerTimeout,
		},
	}, logger, sinks, recorder.WithBreakerListener(func(sink string, from, to circuitbreaker.State) {
		a, ok := breakerAlert(cfg.Controller.DeviceID, sink, from, to)
		if !ok {
			return
		}
		go func() {
			alertCtx, alertCancel := context.WithTimeout(context.Background(), alertTimeout)
			defer alertCancel()
			if err := alerter.Send(alertCtx, a); err != nil {
				logger.Warn("sink alert delivery failed", "sink", sink, "error", err)
			}
		}()
	}))

	engine, err := adaptive.New(cfg.Adaptive)
	if err != nil {
		logger.Error("invalid adaptive engine config", "error", err)
		os.Exit(1)
	}

	ctrlOpts := []controller.Option{
		controller.WithAlerter(alerter),
		controller.WithHistorySize(cfg.Controller.HistorySize),
	}
	if rec.Enabled() {
		ctrlOpts = append(ctrlOpts, controller.WithRecorder(rec))
	}
	ctrl := controller.New(cfg.Controller.DeviceID, engine, cfg.Controller.AutoModeEnabled, logger, ctrlOpts...)

	adminOpt = append(adminOpt, admin.WithHistoryView(cfg.Controller.HistoryResponseSize))
	srv := admin.NewServer(ctrl, logger, adminOpt...)

	handler := srv.Handler()
	if cfg.RateLimit.Enabled {
		rl := admin.NewRateLimitMiddleware(logger)
		defer rl.Stop()
		handler = rl.Wrap(handler)
	}
	handler = admin.AuditMiddleware(logger, handler)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runHTTPServer(gCtx, "api", cfg.Server.HTTPPort, handler, logger)
	})
	g.Go(func() error {
		return runHealthServer(gCtx, cfg.Server.HealthPort, readyHandler(checks, rec.SinkStates), logger)
	})
	if rec.Enabled() {
		g.Go(func() error {
			return rec.Run(gCtx)
		})
	}
	if db != nil {
		startDBPoolStatsPump(gCtx, db.DB, cfg.DB.PoolStatsIntervalMS, logger)
	}

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("controller exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("controller shut down gracefully")
}

func runHTTPServer(ctx context.Context, name string, port int, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("server shutdown error", "server", name, "error", err)
		}
	}()

	logger.Info("server started", "server", name, "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

// openStreamTransport connects to Redis when a URL is set and otherwise falls
// back to an in-process stream, which only serves followers of this instance.
func openStreamTransport(ctx context.Context, redisURL string) (redispkg.MessageTransport, string, error) {
	if redisURL == "" {
		return redispkg.NewInMemoryStream(), "memory", nil
	}
	transport, err := newStreamFactory(ctx, redisURL)
	if err != nil {
		return nil, "", err
	}
	return transport, "redis", nil
}

type readinessCheck struct {
	name string
	ping func(context.Context) error
}

type readinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Sinks  map[string]string `json:"sinks,omitempty"`
}

// readyHandler reports 503 while any dependency fails its ping. Sink breaker
// states are informational: an open breaker drops records, not requests.
func readyHandler(checks []readinessCheck, sinkStates func() map[string]circuitbreaker.State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		status := http.StatusOK
		resp := readinessResponse{Status: "ready", Checks: make(map[string]string, len(checks))}
		for _, c := range checks {
			if err := c.ping(ctx); err != nil {
				resp.Checks[c.name] = err.Error()
				resp.Status = "not_ready"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[c.name] = "ok"
		}
		if sinkStates != nil {
			states := sinkStates()
			resp.Sinks = make(map[string]string, len(states))
			for name, st := range states {
				resp.Sinks[name] = st.String()
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	}
}

func runHealthServer(ctx context.Context, port int, ready http.Handler, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/readyz", ready)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())
	return runHTTPServer(ctx, "health", port, mux, logger)
}
