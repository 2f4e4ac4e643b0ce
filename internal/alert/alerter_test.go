package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAlert() Alert {
	return Alert{
		Type:    AlertTypeAdjustment,
		Device:  "esp32-gen2",
		Key:     "SP_PEATONAL",
		Title:   "Pedestrian phase raised",
		Message: "3 pedestrian activations in the last 30m0s",
		Fields: map[string]string{
			"command":  "ADJUST:SP_PEATONAL:17250",
			"previous": "15000",
		},
	}
}

func countingServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &received
}

func TestMultiAlerter_Send_AllChannels(t *testing.T) {
	slackSrv, slackReceived := countingServer(t, http.StatusOK)
	webhookSrv, webhookReceived := countingServer(t, http.StatusOK)

	multi := NewMultiAlerter(time.Hour, testLogger(), NewSlackAlerter(slackSrv.URL), NewWebhookAlerter(webhookSrv.URL))

	require.NoError(t, multi.Send(context.Background(), testAlert()))
	assert.Equal(t, int32(1), slackReceived.Load())
	assert.Equal(t, int32(1), webhookReceived.Load())
}

func TestMultiAlerter_CooldownPerKey(t *testing.T) {
	srv, received := countingServer(t, http.StatusOK)
	multi := NewMultiAlerter(time.Minute, testLogger(), NewWebhookAlerter(srv.URL))

	now := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	multi.nowFunc = func() time.Time { return now }

	a := testAlert()
	require.NoError(t, multi.Send(context.Background(), a))
	require.NoError(t, multi.Send(context.Background(), a))
	assert.Equal(t, int32(1), received.Load(), "second send inside cooldown is suppressed")

	other := a
	other.Key = "SP_VERDE_PESADO_MAX"
	require.NoError(t, multi.Send(context.Background(), other))
	assert.Equal(t, int32(2), received.Load(), "different key has its own cooldown")

	now = now.Add(time.Minute)
	require.NoError(t, multi.Send(context.Background(), a))
	assert.Equal(t, int32(3), received.Load(), "cooldown expired")
}

func TestMultiAlerter_PartialFailure(t *testing.T) {
	failSrv, _ := countingServer(t, http.StatusInternalServerError)
	goodSrv, goodReceived := countingServer(t, http.StatusOK)

	multi := NewMultiAlerter(time.Hour, testLogger(), NewWebhookAlerter(failSrv.URL), NewWebhookAlerter(goodSrv.URL))

	err := multi.Send(context.Background(), testAlert())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.Equal(t, int32(1), goodReceived.Load())
}

func TestSlackAlerter_PayloadFormat(t *testing.T) {
	var capturedBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		capturedBody = body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, NewSlackAlerter(srv.URL).Send(context.Background(), testAlert()))

	var payload map[string]string
	require.NoError(t, json.Unmarshal(capturedBody, &payload))
	text := payload["text"]
	assert.True(t, strings.HasPrefix(text, ":vertical_traffic_light:"))
	assert.Contains(t, text, "[ADJUSTMENT]")
	assert.Contains(t, text, "esp32-gen2")
	assert.Contains(t, text, "Pedestrian phase raised")
	assert.Less(t, strings.Index(text, "*command*"), strings.Index(text, "*previous*"), "fields are sorted")

	emojiTests := []struct {
		alertType AlertType
		emoji     string
	}{
		{AlertTypeAdjustment, ":vertical_traffic_light:"},
		{AlertTypeManualCommand, ":raised_hand:"},
		{AlertTypeAutoMode, ":robot_face:"},
		{AlertTypeSinkDegraded, ":warning:"},
		{AlertTypeSinkRecovered, ":white_check_mark:"},
	}
	for _, tc := range emojiTests {
		t.Run(fmt.Sprintf("emoji_%s", tc.alertType), func(t *testing.T) {
			var body []byte
			emojiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body, _ = io.ReadAll(r.Body)
				w.WriteHeader(http.StatusOK)
			}))
			defer emojiSrv.Close()

			require.NoError(t, NewSlackAlerter(emojiSrv.URL).Send(context.Background(), Alert{Type: tc.alertType, Device: "d", Title: "t", Message: "m"}))

			var p map[string]string
			require.NoError(t, json.Unmarshal(body, &p))
			assert.True(t, strings.HasPrefix(p["text"], tc.emoji), "got: %s", p["text"])
		})
	}
}

func TestWebhookAlerter_PayloadFormat(t *testing.T) {
	var capturedBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhookAlerter(srv.URL).Send(context.Background(), testAlert()))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(capturedBody, &payload))
	assert.Equal(t, "ADJUSTMENT", payload["type"])
	assert.Equal(t, "esp32-gen2", payload["device"])
	assert.Equal(t, "Pedestrian phase raised", payload["title"])

	fields, ok := payload["fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ADJUST:SP_PEATONAL:17250", fields["command"])

	ts, ok := payload["time"].(string)
	require.True(t, ok)
	parsed, err := time.Parse(time.RFC3339, ts)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), parsed, 5*time.Second)
}

func TestNoopAlerter(t *testing.T) {
	multi := NewMultiAlerter(time.Hour, testLogger(), &NoopAlerter{})
	assert.NoError(t, multi.Send(context.Background(), testAlert()))
}
