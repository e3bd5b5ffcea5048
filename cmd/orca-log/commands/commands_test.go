package commands

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/orca-control/orca-go/pkg/log"
)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.olog")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

func testEvents() []log.Event {
	ts := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	rtt := 1500 * time.Microsecond
	return []log.Event{
		{
			Timestamp: ts, LinkID: "0f3c9a7e-11aa", Device: "cam_a", Endpoint: "tcp://h:9001",
			Direction: log.DirectionOut, Layer: log.LayerWire, Category: log.CategoryMessage,
			Message: &log.MessageEvent{Type: "cmd", Command: "status", ID: 1},
		},
		{
			Timestamp: ts.Add(2 * time.Millisecond), Device: "cam_a",
			Direction: log.DirectionIn, Layer: log.LayerWire, Category: log.CategoryMessage,
			Message: &log.MessageEvent{Type: "ack", Command: "status", ID: 1, RoundTrip: &rtt,
				Params: map[string]any{"status": map[string]any{"camera_status": "disconnected"}}},
		},
		{
			Timestamp: ts.Add(time.Second), Device: "cam_b",
			Direction: log.DirectionOut, Layer: log.LayerWire, Category: log.CategoryMessage,
			Message: &log.MessageEvent{Type: "cmd", Command: "configure", ID: 7},
		},
		{
			Timestamp: ts.Add(2 * time.Second), Device: "cam_b",
			Layer: log.LayerSession, Category: log.CategoryError,
			Error: &log.ErrorEventData{Layer: log.LayerSession, Message: "timeout", Context: "configure"},
		},
		{
			Timestamp: ts.Add(3 * time.Second), Device: "cam_b",
			Layer: log.LayerSession, Category: log.CategoryState,
			StateChange: &log.StateChangeEvent{Entity: log.StateEntityPoller, OldState: "running", NewState: "halted", Reason: "failure ceiling"},
		},
	}
}

func TestViewFormatsEvents(t *testing.T) {
	path := createTestLogFile(t, testEvents())

	var buf bytes.Buffer
	if err := RunView(path, log.Filter{}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"2026-03-02T09:30:00.000000Z [cam_a] OUT WIRE CMD",
		"ID: 1  Command: status",
		"Round trip: 1.500ms",
		`"camera_status":"disconnected"`,
		"Context: configure",
		"running -> halted",
		"Reason: failure ceiling",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestViewAppliesFilter(t *testing.T) {
	path := createTestLogFile(t, testEvents())

	filter, err := FilterOptions{Device: "cam_b", Category: "error"}.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	var buf bytes.Buffer
	if err := RunView(path, filter, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	out := buf.String()
	if strings.Count(out, "[cam_b]") != 1 {
		t.Errorf("expected exactly one event, got:\n%s", out)
	}
	if strings.Contains(out, "cam_a") {
		t.Errorf("cam_a event not filtered:\n%s", out)
	}
}

func TestFilterOptionsErrors(t *testing.T) {
	tests := []FilterOptions{
		{Layer: "service"},
		{Direction: "sideways"},
		{Category: "control"},
		{TimeStart: "yesterday"},
		{TimeEnd: "2026-13-01"},
	}
	for _, opts := range tests {
		if _, err := opts.Build(); err == nil {
			t.Errorf("expected error for %+v", opts)
		}
	}
}

func TestFilterWritesMatchingEvents(t *testing.T) {
	path := createTestLogFile(t, testEvents())
	output := filepath.Join(t.TempDir(), "out.olog")

	dir := log.DirectionOut
	n, err := RunFilter(path, output, log.Filter{Direction: &dir})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 events, got %d", n)
	}

	reader, err := log.NewReader(output)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer reader.Close()
	stats, err := Collect(reader)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if stats.TotalEvents != 2 || stats.EventsByDirection[log.DirectionOut] != 2 {
		t.Errorf("unexpected filtered stats: %+v", stats)
	}
}

func TestStatsPerCamera(t *testing.T) {
	path := createTestLogFile(t, testEvents())

	reader, err := log.NewReader(path)
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	defer reader.Close()
	stats, err := Collect(reader)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if stats.TotalEvents != 5 {
		t.Errorf("TotalEvents = %d, want 5", stats.TotalEvents)
	}
	if stats.Errors != 1 {
		t.Errorf("Errors = %d, want 1", stats.Errors)
	}

	a := stats.Devices["cam_a"]
	if a == nil {
		t.Fatal("missing cam_a")
	}
	if a.Commands["status"] != 1 || a.Replies != 1 {
		t.Errorf("cam_a commands=%v replies=%d", a.Commands, a.Replies)
	}
	if a.AverageRoundTrip() != 1500*time.Microsecond {
		t.Errorf("cam_a round trip = %s", a.AverageRoundTrip())
	}
	if a.Endpoint != "tcp://h:9001" {
		t.Errorf("cam_a endpoint = %q", a.Endpoint)
	}

	b := stats.Devices["cam_b"]
	if b == nil || b.Errors != 1 || b.Replies != 0 {
		t.Errorf("unexpected cam_b stats: %+v", b)
	}
}

func TestRunStatsOutput(t *testing.T) {
	path := createTestLogFile(t, testEvents())

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Total Events: 5", "Cameras: 2", "[cam_a]", "status=1", "SESSION:", "Errors: 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestStatsEmptyFile(t *testing.T) {
	path := createTestLogFile(t, nil)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Total Events: 0") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}
