package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/adaptive"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/controller"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/domain/model"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/metrics"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/store"
	redisstore "github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/store/redis"
)

const (
	maxRequestBodyBytes = 64 << 10

	defaultArchiveLimit = 50
	maxArchiveLimit     = 500

	defaultFeedWait = 25 * time.Second
	maxFeedWait     = 60 * time.Second
)

// Controller is the part of *controller.Controller the HTTP layer drives.
type Controller interface {
	DeviceID() string
	Ingest(ctx context.Context, tel model.Telemetry) (controller.IngestResult, error)
	QueueManual(ctx context.Context, cmd string) error
	SetAutomatic(ctx context.Context, enabled bool) bool
	Automatic() bool
	Status() (model.Telemetry, bool)
	History(n int) []string
	Decisions() []adaptive.DecisionRecord
	PedestrianEvents() []adaptive.PedestrianActivation
	ImbalanceSamples() []adaptive.ImbalanceSample
	EngineState() adaptive.State
	EngineConfig() adaptive.Config
	Overview(historyLines int) controller.Overview
}

// Feed follows the published record streams of one device.
type Feed interface {
	Next(ctx context.Context, deviceID, kind, after string) (string, json.RawMessage, error)
}

// Server serves the device API, the operator API and the dashboard.
type Server struct {
	ctrl             Controller
	decisionArchive  store.DecisionRepository
	telemetryArchive store.TelemetryRepository
	feed             Feed
	historyView      int
	logger           *slog.Logger
}

// ServerOption configures optional dependencies for the server.
type ServerOption func(*Server)

// WithDecisionArchive enables GET /api/archive/decisions.
func WithDecisionArchive(repo store.DecisionRepository) ServerOption {
	return func(s *Server) { s.decisionArchive = repo }
}

// WithTelemetryArchive enables GET /api/archive/telemetry.
func WithTelemetryArchive(repo store.TelemetryRepository) ServerOption {
	return func(s *Server) { s.telemetryArchive = repo }
}

// WithFeed enables GET /api/feed/{kind}.
func WithFeed(feed Feed) ServerOption {
	return func(s *Server) { s.feed = feed }
}

// WithHistoryView sets how many history lines GET /api/history returns.
func WithHistoryView(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.historyView = n
		}
	}
}

func NewServer(ctrl Controller, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		ctrl:        ctrl,
		historyView: controller.DefaultHistoryView,
		logger:      logger.With("component", "admin"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler with request metrics applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Device-facing.
	mux.HandleFunc("POST /api/traffic", s.handleTraffic)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("POST /api/command", s.handleCommand)

	// Operator-facing.
	mux.HandleFunc("GET /api/auto", s.handleGetAuto)
	mux.HandleFunc("POST /api/auto", s.handleSetAuto)
	mux.HandleFunc("GET /api/decisions", s.handleDecisions)
	mux.HandleFunc("GET /api/engine", s.handleEngine)
	mux.HandleFunc("GET /api/archive/decisions", s.handleArchiveDecisions)
	mux.HandleFunc("GET /api/archive/telemetry", s.handleArchiveTelemetry)
	mux.HandleFunc("GET /api/feed/{kind}", s.handleFeed)

	mux.HandleFunc("GET /{$}", s.handleDashboard)

	return instrument(mux)
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Status: "error", Message: msg})
}

// decodeJSONBody reads and decodes a JSON request body into v.
// Returns false (and writes an error response) if decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type trafficResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Command   string `json:"command,omitempty"`
}

// handleTraffic accepts any non-empty JSON object. Unknown keys and zero
// values are stored like the device sent them; only an empty object, null
// or a body that does not decode into the telemetry fields is refused.
func (s *Server) handleTraffic(w http.ResponseWriter, r *http.Request) {
	device := s.ctrl.DeviceID()

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		metrics.TelemetryRejectedTotal.WithLabelValues(device, "invalid_json").Inc()
		writeError(w, http.StatusBadRequest, "No data received")
		return
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		metrics.TelemetryRejectedTotal.WithLabelValues(device, "invalid_json").Inc()
		writeError(w, http.StatusBadRequest, "No data received")
		return
	}
	if len(fields) == 0 {
		metrics.TelemetryRejectedTotal.WithLabelValues(device, "empty").Inc()
		writeError(w, http.StatusBadRequest, "No data received")
		return
	}

	var tel model.Telemetry
	if err := json.Unmarshal(body, &tel); err != nil {
		metrics.TelemetryRejectedTotal.WithLabelValues(device, "invalid_json").Inc()
		writeError(w, http.StatusBadRequest, "No data received")
		return
	}
	if tel.Mode != "" && !tel.Mode.Known() {
		s.logger.Warn("telemetry with unknown mode", "mode", tel.Mode)
	}

	res, err := s.ctrl.Ingest(r.Context(), tel)
	if err != nil {
		s.logger.Error("ingest telemetry failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, trafficResponse{
		Status:    "ok",
		Timestamp: res.Timestamp,
		Command:   res.Command,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	last, ok := s.ctrl.Status()
	if !ok {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, last)
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"historial": s.ctrl.History(s.historyView)})
}

// handleCommand queues a dashboard command. Only PEATONAL, NORMAL and NOCTURNO
// are accepted; anything else is a 400 rather than a string forwarded to the
// device as-is.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	if err := s.ctrl.QueueManual(r.Context(), r.FormValue("cmd")); err != nil {
		if errors.Is(err, controller.ErrUnknownManualCommand) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("queue manual command failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type autoResponse struct {
	Enabled bool `json:"enabled"`
	Changed bool `json:"changed"`
}

func (s *Server) handleGetAuto(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, autoResponse{Enabled: s.ctrl.Automatic()})
}

// handleSetAuto accepts {"enabled":bool} or, from the dashboard, a form with
// enabled=true|false followed by a redirect.
func (s *Server) handleSetAuto(w http.ResponseWriter, r *http.Request) {
	if isFormRequest(r) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form body")
			return
		}
		enabled, err := strconv.ParseBool(r.FormValue("enabled"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "enabled must be true or false")
			return
		}
		s.ctrl.SetAutomatic(r.Context(), enabled)
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	changed := s.ctrl.SetAutomatic(r.Context(), *req.Enabled)
	writeJSON(w, http.StatusOK, autoResponse{Enabled: *req.Enabled, Changed: changed})
}

func (s *Server) handleDecisions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"decisions": s.ctrl.Decisions()})
}

type engineConfigResponse struct {
	AdjustmentPercentage    float64 `json:"adjustment_percentage"`
	PedestrianWindowMs      int64   `json:"pedestrian_window_ms"`
	PedestrianHighThreshold int     `json:"pedestrian_high_threshold"`
	PedestrianLowThreshold  int     `json:"pedestrian_low_threshold"`
	PedestrianMinMs         int     `json:"pedestrian_min_ms"`
	PedestrianMaxMs         int     `json:"pedestrian_max_ms"`
	ImbalanceSampleCount    int     `json:"imbalance_sample_count"`
	ImbalanceHighThreshold  float64 `json:"imbalance_high_threshold"`
	ImbalanceLowThreshold   float64 `json:"imbalance_low_threshold"`
	GreenMinMs              int     `json:"green_min_ms"`
	GreenMaxMs              int     `json:"green_max_ms"`
	CooldownMs              int64   `json:"cooldown_ms"`
}

type engineResponse struct {
	Device                string                          `json:"device"`
	Automatic             bool                            `json:"automatic"`
	State                 adaptive.State                  `json:"state"`
	Config                engineConfigResponse            `json:"config"`
	PedestrianActivations []adaptive.PedestrianActivation `json:"pedestrian_activations"`
	ImbalanceSamples      []adaptive.ImbalanceSample      `json:"imbalance_samples"`
}

func (s *Server) handleEngine(w http.ResponseWriter, _ *http.Request) {
	cfg := s.ctrl.EngineConfig()
	writeJSON(w, http.StatusOK, engineResponse{
		Device:    s.ctrl.DeviceID(),
		Automatic: s.ctrl.Automatic(),
		State:     s.ctrl.EngineState(),
		Config: engineConfigResponse{
			AdjustmentPercentage:    cfg.AdjustmentPercentage,
			PedestrianWindowMs:      cfg.PedestrianWindow.Milliseconds(),
			PedestrianHighThreshold: cfg.PedestrianHighThreshold,
			PedestrianLowThreshold:  cfg.PedestrianLowThreshold,
			PedestrianMinMs:         cfg.PedestrianMinMs,
			PedestrianMaxMs:         cfg.PedestrianMaxMs,
			ImbalanceSampleCount:    cfg.ImbalanceSampleCount,
			ImbalanceHighThreshold:  cfg.ImbalanceHighThreshold,
			ImbalanceLowThreshold:   cfg.ImbalanceLowThreshold,
			GreenMinMs:              cfg.GreenMinMs,
			GreenMaxMs:              cfg.GreenMaxMs,
			CooldownMs:              cfg.CooldownDuration.Milliseconds(),
		},
		PedestrianActivations: s.ctrl.PedestrianEvents(),
		ImbalanceSamples:      s.ctrl.ImbalanceSamples(),
	})
}

func (s *Server) handleArchiveDecisions(w http.ResponseWriter, r *http.Request) {
	if s.decisionArchive == nil {
		writeError(w, http.StatusServiceUnavailable, "decision archive not available")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	recs, err := s.decisionArchive.RecentDecisions(ctx, s.ctrl.DeviceID(), archiveLimit(r))
	if err != nil {
		s.logger.Error("archive decisions query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": recs})
}

func (s *Server) handleArchiveTelemetry(w http.ResponseWriter, r *http.Request) {
	if s.telemetryArchive == nil {
		writeError(w, http.StatusServiceUnavailable, "telemetry archive not available")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	recs, err := s.telemetryArchive.RecentTelemetry(ctx, s.ctrl.DeviceID(), archiveLimit(r))
	if err != nil {
		s.logger.Error("archive telemetry query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"telemetry": recs})
}

type feedResponse struct {
	ID     string          `json:"id"`
	Record json.RawMessage `json:"record"`
}

// handleFeed long-polls for the next record after ?after=<id>. It answers
// 204 when nothing arrives within ?wait= (default 25s, at most 60s); the
// caller retries with the same offset.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeError(w, http.StatusServiceUnavailable, "record feed not available")
		return
	}
	wait, err := feedWait(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()

	id, raw, err := s.feed.Next(ctx, s.ctrl.DeviceID(), r.PathValue("kind"), r.URL.Query().Get("after"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, feedResponse{ID: id, Record: raw})
	case errors.Is(err, redisstore.ErrUnknownFeed):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, redisstore.ErrInvalidOffset):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		w.WriteHeader(http.StatusNoContent)
	case r.Context().Err() != nil:
		// client went away
	default:
		s.logger.Error("record feed read failed", "kind", r.PathValue("kind"), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func feedWait(r *http.Request) (time.Duration, error) {
	v := r.URL.Query().Get("wait")
	if v == "" {
		return defaultFeedWait, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("wait must be a positive duration, got %q", v)
	}
	return min(d, maxFeedWait), nil
}

func archiveLimit(r *http.Request) int {
	limit := defaultArchiveLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxArchiveLimit {
		limit = maxArchiveLimit
	}
	return limit
}

func isFormRequest(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/x-www-form-urlencoded"
}
