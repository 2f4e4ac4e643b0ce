package admin

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"slices"
	"time"

	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/controller"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/domain/model"
)

const dashboardHistoryLines = 20

//go:embed templates/dashboard.html
var templateFS embed.FS

var dashboardTemplate = template.Must(
	template.New("dashboard.html").Funcs(template.FuncMap{
		"ms":    formatOptionalMs,
		"ratio": formatRatio,
		"since": formatSince,
	}).ParseFS(templateFS, "templates/dashboard.html"),
)

type dashboardView struct {
	controller.Overview
	RecentHistory  []string
	ManualCommands []model.ManualCommand
	ServerTime     string
}

func (s *Server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	ov := s.ctrl.Overview(dashboardHistoryLines)
	recent := slices.Clone(ov.History)
	slices.Reverse(recent)
	slices.Reverse(ov.Decisions)

	view := dashboardView{
		Overview:       ov,
		RecentHistory:  recent,
		ManualCommands: []model.ManualCommand{model.ManualPedestrian, model.ManualNormal, model.ManualNight},
		ServerTime:     time.Now().Format(model.TimestampLayout),
	}

	var buf bytes.Buffer
	if err := dashboardTemplate.Execute(&buf, view); err != nil {
		s.logger.Error("render dashboard failed", "error", err)
		http.Error(w, "dashboard unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Warn("failed to write dashboard response", "error", err)
	}
}

func formatOptionalMs(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d ms", *v)
}

func formatRatio(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", *v*100)
}

func formatSince(ms int64) string {
	if ms <= 0 {
		return "ready"
	}
	return (time.Duration(ms) * time.Millisecond).Round(time.Second).String()
}
