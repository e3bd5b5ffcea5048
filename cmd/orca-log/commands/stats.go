package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/orca-control/orca-go/pkg/log"
)

// Stats holds aggregate statistics about a capture file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Devices           map[string]*DeviceStats
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// DeviceStats holds statistics for a single camera.
type DeviceStats struct {
	Endpoint  string
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	Commands  map[string]int
	Replies   int
	Nacks     int
	Errors    int

	roundTrip time.Duration
}

// AverageRoundTrip is the mean request/reply latency over all replies.
func (d *DeviceStats) AverageRoundTrip() time.Duration {
	if d.Replies == 0 {
		return 0
	}
	return d.roundTrip / time.Duration(d.Replies)
}

// Collect reads every event from r.
func Collect(r *log.Reader) (*Stats, error) {
	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Devices:           make(map[string]*DeviceStats),
	}

	for {
		event, err := r.Next()
		if err == io.EOF {
			return stats, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}

		stats.TotalEvents++
		stats.EventsByLayer[event.Layer]++
		stats.EventsByCategory[event.Category]++
		stats.EventsByDirection[event.Direction]++

		if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = event.Timestamp
		}

		key := event.Device
		if key == "" {
			key = event.LinkID
		}
		dev, ok := stats.Devices[key]
		if !ok {
			dev = &DeviceStats{
				Endpoint:  event.Endpoint,
				FirstSeen: event.Timestamp,
				LastSeen:  event.Timestamp,
				Commands:  make(map[string]int),
			}
			stats.Devices[key] = dev
		}
		dev.Events++
		if event.Timestamp.After(dev.LastSeen) {
			dev.LastSeen = event.Timestamp
		}
		if dev.Endpoint == "" {
			dev.Endpoint = event.Endpoint
		}

		if msg := event.Message; msg != nil {
			switch msg.Type {
			case "cmd":
				if event.Direction == log.DirectionOut {
					dev.Commands[msg.Command]++
				}
			case "nack":
				dev.Nacks++
				fallthrough
			case "ack":
				if msg.RoundTrip != nil {
					dev.Replies++
					dev.roundTrip += *msg.RoundTrip
				}
			}
		}

		if event.Error != nil {
			stats.Errors++
			dev.Errors++
		}
	}
}

// RunStats analyzes the capture file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats, err := Collect(reader)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== ORCA Protocol Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerWire, log.LayerSession} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Cameras: %d\n", len(stats.Devices))
	names := make([]string, 0, len(stats.Devices))
	for name := range stats.Devices {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		d := stats.Devices[name]
		fmt.Fprintf(w, "\n  [%s] %d events, duration %s\n", name, d.Events, d.LastSeen.Sub(d.FirstSeen).Round(time.Millisecond))
		if d.Endpoint != "" {
			fmt.Fprintf(w, "           Endpoint: %s\n", d.Endpoint)
		}
		if len(d.Commands) > 0 {
			cmds := make([]string, 0, len(d.Commands))
			for cmd := range d.Commands {
				cmds = append(cmds, cmd)
			}
			sort.Strings(cmds)
			fmt.Fprint(w, "           Commands:")
			for _, cmd := range cmds {
				fmt.Fprintf(w, " %s=%d", cmd, d.Commands[cmd])
			}
			fmt.Fprintln(w)
		}
		if d.Replies > 0 {
			fmt.Fprintf(w, "           Replies: %d (nack %d), avg round trip %s\n", d.Replies, d.Nacks, formatDuration(d.AverageRoundTrip()))
		}
		if d.Errors > 0 {
			fmt.Fprintf(w, "           Errors: %d\n", d.Errors)
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
