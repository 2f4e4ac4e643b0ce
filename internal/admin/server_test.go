package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/adaptive"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/controller"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/domain/model"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/store/mocks"
	redisstore "github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/store/redis"
)

var testNow = time.Date(2026, 3, 14, 8, 30, 0, 0, time.UTC)

var _ Controller = (*controller.Controller)(nil)

func newTestServer(t *testing.T, automatic bool, opts ...ServerOption) (*Server, *controller.Controller) {
	t.Helper()
	clock := func() time.Time { return testNow }
	eng, err := adaptive.New(adaptive.DefaultConfig(), adaptive.WithClock(clock))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctrl := controller.New("esp32-test", eng, automatic, logger, controller.WithClock(clock))
	return NewServer(ctrl, logger, opts...), ctrl
}

func do(t *testing.T, h http.Handler, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func postTraffic(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/traffic", "application/json", body)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func postCommand(t *testing.T, h http.Handler, cmd string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{"cmd": {cmd}}
	return do(t, h, http.MethodPost, "/api/command", "application/x-www-form-urlencoded", form.Encode())
}

const normalReport = `{"estado":"NORMAL","fase":"VERDE_DIR1","vehiculos_dir1":3,"vehiculos_dir2":4,"ldr1":512,"ldr2":498,"co2":410,"wifi_rssi":-61,"contador_peatonal":0}`

func TestHandleTraffic_OK(t *testing.T) {
	srv, _ := newTestServer(t, false)
	h := srv.Handler()

	rec, resp := postTraffic(t, h, normalReport)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "2026-03-14 08:30:00", resp["timestamp"])
	assert.NotContains(t, resp, "command")
}

func TestHandleTraffic_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty object", `{}`},
		{"malformed json", `{"estado":`},
		{"empty body", ``},
		{"wrong type", `{"vehiculos_dir1":"many"}`},
		{"null", `null`},
		{"array", `[{"estado":"NORMAL"}]`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv, ctrl := newTestServer(t, true)
			rec, resp := postTraffic(t, srv.Handler(), tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "error", resp["status"])
			assert.Equal(t, "No data received", resp["message"])
			assert.Empty(t, ctrl.History(50))
		})
	}
}

func TestHandleTraffic_AcceptsSparseObjects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown keys only", `{"firmware":"2.1.0"}`},
		{"zero valued fields", `{"vehiculos_dir1":0,"vehiculos_dir2":0}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv, ctrl := newTestServer(t, false)
			rec, resp := postTraffic(t, srv.Handler(), tc.body)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "ok", resp["status"])
			assert.Len(t, ctrl.History(50), 1)
		})
	}
}

func TestHandleTraffic_DeliversAdaptiveCommand(t *testing.T) {
	srv, _ := newTestServer(t, true)

	rec, resp := postTraffic(t, srv.Handler(), normalReport)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ADJUST:SP_PEATONAL:12750", resp["command"])
}

func TestHandleCommand_QueuesAndDeliversOnce(t *testing.T) {
	srv, _ := newTestServer(t, false)
	h := srv.Handler()

	rec := postCommand(t, h, "PEATONAL")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	_, resp := postTraffic(t, h, normalReport)
	assert.Equal(t, "PEATONAL", resp["command"])

	_, resp = postTraffic(t, h, normalReport)
	assert.NotContains(t, resp, "command")
}

func TestHandleCommand_RejectsUnknown(t *testing.T) {
	srv, ctrl := newTestServer(t, false)

	rec := postCommand(t, srv.Handler(), "EMISION")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	_, ok := ctrl.Pending()
	assert.False(t, ok)
}

func TestHandleStatus(t *testing.T) {
	srv, _ := newTestServer(t, false)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/status", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	postTraffic(t, h, normalReport)
	rec = do(t, h, http.MethodGet, "/api/status", "", "")
	var last model.Telemetry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &last))
	assert.Equal(t, model.ModeNormal, last.Mode)
	assert.Equal(t, -61, last.WiFiRSSI)
	assert.Equal(t, "2026-03-14 08:30:00", last.Timestamp)
}

func TestHandleHistory_ReturnsNewestWindow(t *testing.T) {
	srv, _ := newTestServer(t, false, WithHistoryView(3))
	h := srv.Handler()

	for i := 0; i < 5; i++ {
		postTraffic(t, h, normalReport)
	}

	rec := do(t, h, http.MethodGet, "/api/history", "", "")
	var resp struct {
		History []string `json:"historial"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.History, 3)
	assert.Equal(t, "[2026-03-14 08:30:00] Mode: NORMAL | D1: 3 | D2: 4 | CO2: 410", resp.History[0])
}

func TestHandleAuto(t *testing.T) {
	srv, ctrl := newTestServer(t, true)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/auto", "", "")
	assert.JSONEq(t, `{"enabled":true,"changed":false}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/auto", "application/json", `{"enabled":false}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"enabled":false,"changed":true}`, rec.Body.String())
	assert.False(t, ctrl.Automatic())

	rec = do(t, h, http.MethodPost, "/api/auto", "application/json", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/auto", "application/x-www-form-urlencoded", "enabled=true")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.True(t, ctrl.Automatic())

	rec = do(t, h, http.MethodPost, "/api/auto", "application/x-www-form-urlencoded", "enabled=perhaps")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDecisionsAndEngine(t *testing.T) {
	srv, _ := newTestServer(t, true)
	h := srv.Handler()
	postTraffic(t, h, normalReport)
	postTraffic(t, h, `{"estado":"NORMAL","vehiculos_dir1":6,"vehiculos_dir2":2,"contador_peatonal":3}`)

	rec := do(t, h, http.MethodGet, "/api/decisions", "", "")
	var decisions struct {
		Decisions []adaptive.DecisionRecord `json:"decisions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decisions))
	require.Len(t, decisions.Decisions, 1)
	assert.Equal(t, "ADJUST:SP_PEATONAL:12750", decisions.Decisions[0].Command)

	rec = do(t, h, http.MethodGet, "/api/engine", "", "")
	var engine engineResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &engine))
	assert.Equal(t, "esp32-test", engine.Device)
	assert.True(t, engine.Automatic)
	assert.Equal(t, "ADJUST:SP_PEATONAL:12750", engine.State.LastCommand)
	assert.Equal(t, int64(60000), engine.State.CooldownRemainingMs)
	assert.Equal(t, int64(30*60*1000), engine.Config.PedestrianWindowMs)
	assert.Equal(t, 22000, engine.Config.GreenMaxMs)

	assert.Equal(t, []adaptive.PedestrianActivation{{At: testNow, Counter: 3}}, engine.PedestrianActivations)
	require.Len(t, engine.ImbalanceSamples, 2)
	assert.Equal(t, adaptive.ImbalanceSample{At: testNow, Ratio: 0.75, Dir1: 6, Dir2: 2}, engine.ImbalanceSamples[1])
	assert.Equal(t, engine.State.ImbalanceSamples, len(engine.ImbalanceSamples))
}

func TestHandleArchive_NotConfigured(t *testing.T) {
	srv, _ := newTestServer(t, false)
	h := srv.Handler()

	for _, path := range []string{"/api/archive/decisions", "/api/archive/telemetry"} {
		rec := do(t, h, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestHandleArchiveDecisions(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	repo := mocks.NewMockDecisionRepository(mockCtrl)
	srv, _ := newTestServer(t, false, WithDecisionArchive(repo))
	h := srv.Handler()

	rec1 := model.DecisionRecord{ID: uuid.New(), DeviceID: "esp32-test", Command: "ADJUST:SP_PEATONAL:12750"}
	repo.EXPECT().RecentDecisions(gomock.Any(), "esp32-test", 10).Return([]model.DecisionRecord{rec1}, nil)
	repo.EXPECT().RecentDecisions(gomock.Any(), "esp32-test", maxArchiveLimit).Return(nil, nil)
	repo.EXPECT().RecentDecisions(gomock.Any(), "esp32-test", defaultArchiveLimit).Return(nil, errors.New("connection refused"))

	rec := do(t, h, http.MethodGet, "/api/archive/decisions?limit=10", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ADJUST:SP_PEATONAL:12750")

	rec = do(t, h, http.MethodGet, "/api/archive/decisions?limit=100000", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/archive/decisions?limit=-3", "", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleArchiveTelemetry(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	repo := mocks.NewMockTelemetryRepository(mockCtrl)
	srv, _ := newTestServer(t, false, WithTelemetryArchive(repo))

	repo.EXPECT().RecentTelemetry(gomock.Any(), "esp32-test", defaultArchiveLimit).Return([]model.TelemetryRecord{
		{ID: uuid.New(), DeviceID: "esp32-test", Telemetry: model.Telemetry{Mode: model.ModeNight}},
	}, nil)

	rec := do(t, srv.Handler(), http.MethodGet, "/api/archive/telemetry", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"estado":"NOCTURNO"`)
}

func TestDashboard(t *testing.T) {
	srv, _ := newTestServer(t, false)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "Waiting for the ESP32")
	assert.Contains(t, body, `http-equiv="refresh" content="5"`)
	assert.Contains(t, body, "Enable automatic mode")

	postCommand(t, h, "NOCTURNO")
	postTraffic(t, h, `{"estado":"TRAFICO_PESADO","vehiculos_dir1":12,"vehiculos_dir2":2,"co2":600}`)
	postCommand(t, h, "PEATONAL")

	body = do(t, h, http.MethodGet, "/", "", "").Body.String()
	assert.Contains(t, body, "mode-TRAFICO_PESADO")
	assert.Contains(t, body, "Pending command: PEATONAL (manual)")
	assert.Contains(t, body, "COMMAND SENT: NOCTURNO")
	// Newest history first.
	assert.Less(t, strings.Index(body, "COMMAND QUEUED: PEATONAL"), strings.Index(body, "COMMAND QUEUED: NOCTURNO"))
}

func TestUnknownRoute(t *testing.T) {
	srv, _ := newTestServer(t, false)
	rec := do(t, srv.Handler(), http.MethodGet, "/api/unknown", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv.Handler(), http.MethodGet, "/api/traffic", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleTraffic_BodyTooLarge(t *testing.T) {
	srv, _ := newTestServer(t, false)
	big := `{"estado":"NORMAL","fase":"` + string(bytes.Repeat([]byte("x"), maxRequestBodyBytes)) + `"}`
	rec, _ := postTraffic(t, srv.Handler(), big)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleFeed_NotConfigured(t *testing.T) {
	srv, _ := newTestServer(t, false)
	rec := do(t, srv.Handler(), http.MethodGet, "/api/feed/decisions", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleFeed_FollowsPublishedRecords(t *testing.T) {
	transport := redisstore.NewInMemoryStream()
	t.Cleanup(func() { transport.Close() })
	sink := redisstore.NewStreamSink(transport, "traffic")

	srv, _ := newTestServer(t, true, WithFeed(sink))
	h := srv.Handler()

	require.NoError(t, sink.SaveDecision(context.Background(), &model.DecisionRecord{
		ID: uuid.New(), DeviceID: "esp32-test", Command: "ADJUST:SP_PEATONAL:12750",
	}))
	require.NoError(t, sink.SaveDecision(context.Background(), &model.DecisionRecord{
		ID: uuid.New(), DeviceID: "another-device", Command: "ADJUST:SP_PEATONAL:17250",
	}))

	rec := do(t, h, http.MethodGet, "/api/feed/decisions?wait=1s", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		ID     string               `json:"id"`
		Record model.DecisionRecord `json:"record"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "1-0", got.ID)
	assert.Equal(t, "ADJUST:SP_PEATONAL:12750", got.Record.Command)

	// nothing newer for this device
	rec = do(t, h, http.MethodGet, "/api/feed/decisions?after="+got.ID+"&wait=20ms", "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestHandleFeed_Rejects(t *testing.T) {
	transport := redisstore.NewInMemoryStream()
	t.Cleanup(func() { transport.Close() })
	srv, _ := newTestServer(t, false, WithFeed(redisstore.NewStreamSink(transport, "traffic")))
	h := srv.Handler()

	tests := []struct {
		name string
		path string
		want int
	}{
		{"unknown kind", "/api/feed/alerts?wait=20ms", http.StatusNotFound},
		{"bad offset", "/api/feed/telemetry?after=abc&wait=20ms", http.StatusBadRequest},
		{"bad wait", "/api/feed/telemetry?wait=soon", http.StatusBadRequest},
		{"negative wait", "/api/feed/telemetry?wait=-1s", http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tc.path, "", "")
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestFeedWait(t *testing.T) {
	tests := []struct {
		query string
		want  time.Duration
	}{
		{"", defaultFeedWait},
		{"wait=5s", 5 * time.Second},
		{"wait=10m", maxFeedWait},
	}
	for _, tc := range tests {
		got, err := feedWait(httptest.NewRequest(http.MethodGet, "/api/feed/telemetry?"+tc.query, nil))
		require.NoError(t, err, tc.query)
		assert.Equal(t, tc.want, got, tc.query)
	}
}
