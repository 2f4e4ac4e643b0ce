// Command device-sim posts synthetic ESP32 telemetry to the controller and
// applies the commands it gets back, so the adaptive loop can be exercised
// end to end without hardware.
//
// Usage:
//
//	device-sim run --url http://localhost:5000 --scenario pedestrian --interval 1s --duration 2m
//	device-sim scenarios
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/domain/model"
)

type trafficResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Command   string `json:"command"`
	Message   string `json:"message"`
}

type stats struct {
	posts     int
	errors    int
	commands  int
	latencies []time.Duration
}

var runFlags struct {
	url      string
	scenario string
	interval time.Duration
	duration time.Duration
	seed     uint64
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Post telemetry for one scenario and print a summary",
	Args:  cobra.NoArgs,
	RunE:  runSimulation,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.url, "url", "http://localhost:5000", "Controller base URL")
	f.StringVar(&runFlags.scenario, "scenario", string(scenarioBalanced), "Traffic scenario (see 'device-sim scenarios')")
	f.DurationVar(&runFlags.interval, "interval", time.Second, "Delay between reports")
	f.DurationVar(&runFlags.duration, "duration", time.Minute, "Run time; 0 runs until interrupted")
	f.Uint64Var(&runFlags.seed, "seed", uint64(time.Now().UnixNano()), "Random seed")
}

func runSimulation(cmd *cobra.Command, _ []string) error {
	sc, err := parseScenario(runFlags.scenario)
	if err != nil {
		return err
	}
	if runFlags.interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", runFlags.interval)
	}

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("device simulator configuration",
		"url", runFlags.url,
		"scenario", sc,
		"interval", runFlags.interval.String(),
		"duration", runFlags.duration.String(),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if runFlags.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runFlags.duration)
		defer cancel()
	}

	dev := newDevice(sc, runFlags.seed)
	client := &http.Client{Timeout: 5 * time.Second}
	endpoint := strings.TrimRight(runFlags.url, "/") + "/api/traffic"

	var st stats
	start := time.Now()
	ticker := time.NewTicker(runFlags.interval)
	defer ticker.Stop()

	for {
		tel := dev.next()
		began := time.Now()
		resp, err := post(ctx, client, endpoint, tel)
		st.posts++
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			st.errors++
			logger.Warn("report failed", "error", err)
		} else {
			st.latencies = append(st.latencies, time.Since(began))
			if resp.Command != "" {
				st.commands++
				if err := dev.apply(resp.Command); err != nil {
					logger.Warn("command rejected", "command", resp.Command, "error", err)
				} else {
					logger.Info("command applied",
						"command", resp.Command,
						"mode", dev.mode,
						"pedestrian_ms", dev.pedestrianMs,
						"heavy_green_max_ms", dev.heavyGreenMaxMs,
					)
				}
			}
		}

		select {
		case <-ctx.Done():
			printSummary(cmd.OutOrStdout(), sc, time.Since(start), st, dev)
			return nil
		case <-ticker.C:
		}
	}
	printSummary(cmd.OutOrStdout(), sc, time.Since(start), st, dev)
	return nil
}

func post(ctx context.Context, client *http.Client, endpoint string, tel model.Telemetry) (trafficResponse, error) {
	body, err := json.Marshal(tel)
	if err != nil {
		return trafficResponse{}, fmt.Errorf("marshal telemetry: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return trafficResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return trafficResponse{}, fmt.Errorf("post telemetry: %w", err)
	}
	defer res.Body.Close()

	var out trafficResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return trafficResponse{}, fmt.Errorf("decode response (status %d): %w", res.StatusCode, err)
	}
	if res.StatusCode != http.StatusOK {
		return out, fmt.Errorf("controller returned %d: %s", res.StatusCode, out.Message)
	}
	return out, nil
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func printSummary(w io.Writer, sc scenario, elapsed time.Duration, st stats, dev *device) {
	lat := append([]time.Duration(nil), st.latencies...)
	sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })

	fmt.Fprintln(w)
	fmt.Fprintln(w, "========================================")
	fmt.Fprintln(w, "       DEVICE SIMULATION SUMMARY")
	fmt.Fprintln(w, "========================================")
	fmt.Fprintf(w, "Scenario:       %s\n", sc)
	fmt.Fprintf(w, "Elapsed:        %s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Reports:        %d\n", st.posts)
	fmt.Fprintf(w, "Errors:         %d\n", st.errors)
	fmt.Fprintf(w, "Commands:       %d (applied %d)\n", st.commands, dev.applied)
	fmt.Fprintln(w, "----------------------------------------")
	fmt.Fprintln(w, "Latency:")
	fmt.Fprintf(w, "  p50:          %s\n", percentile(lat, 50))
	fmt.Fprintf(w, "  p95:          %s\n", percentile(lat, 95))
	fmt.Fprintf(w, "  p99:          %s\n", percentile(lat, 99))
	fmt.Fprintln(w, "----------------------------------------")
	fmt.Fprintln(w, "Final device state:")
	fmt.Fprintf(w, "  Mode:         %s\n", dev.mode)
	fmt.Fprintf(w, "  Pedestrian:   %d ms\n", dev.pedestrianMs)
	fmt.Fprintf(w, "  Heavy max:    %d ms\n", dev.heavyGreenMaxMs)
	fmt.Fprintln(w, "========================================")
}
