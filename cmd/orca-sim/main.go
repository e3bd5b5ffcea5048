// Command orca-sim serves simulated ORCA cameras for testing orca-control.
//
// Each camera listens on its own port, starting at -base-port. Cameras
// follow the disconnected/connected/capturing state machine, keep a
// configuration mapping and advance their frame counter while capturing.
//
// Usage:
//
//	orca-sim [flags]
//
// Flags:
//
//	-host string         Listen host (default "127.0.0.1")
//	-base-port int       First listen port (default 9001)
//	-count int           Number of cameras (default 1)
//	-names string        Comma-separated camera names (default cam_1..cam_N)
//	-codec string        Wire codec: json, cbor (default "json")
//	-reply-delay dur     Delay every reply by this much
//	-frame-rate float    Frames per second while capturing (default 10)
//	-log-level string    Log level: debug, info, warn, error (default "info")
//	-protocol-log string Write protocol capture events to this file
//
// Examples:
//
//	# Two cameras on 9001 and 9002
//	orca-sim -count 2 -names cam_a,cam_b
//
//	# A slow camera for timeout testing
//	orca-sim -reply-delay 2s -log-level debug
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/orca-control/orca-go/pkg/config"
	"github.com/orca-control/orca-go/pkg/log"
	"github.com/orca-control/orca-go/pkg/simulator"
	"github.com/orca-control/orca-go/pkg/wire"
)

type simConfig struct {
	Host        string
	BasePort    int
	Count       int
	Names       config.List
	Codec       string
	ReplyDelay  time.Duration
	FrameRate   float64
	LogLevel    string
	ProtocolLog string
}

var cfg simConfig

func init() {
	flag.StringVar(&cfg.Host, "host", "127.0.0.1", "Listen host")
	flag.IntVar(&cfg.BasePort, "base-port", 9001, "First listen port")
	flag.IntVar(&cfg.Count, "count", 1, "Number of cameras")
	flag.Var(&cfg.Names, "names", "Comma-separated camera names (default cam_1..cam_N)")
	flag.StringVar(&cfg.Codec, "codec", wire.CodecJSON, "Wire codec: json, cbor")
	flag.DurationVar(&cfg.ReplyDelay, "reply-delay", 0, "Delay every reply by this much")
	flag.Float64Var(&cfg.FrameRate, "frame-rate", 10, "Frames per second while capturing")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&cfg.ProtocolLog, "protocol-log", "", "Write protocol capture events to this file")
}

func main() {
	flag.Parse()

	logger := setupLogging(cfg.LogLevel)

	if err := validateConfig(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	applyDefaults()

	codec, err := wire.CodecByName(cfg.Codec)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var capture *log.FileLogger
	if cfg.ProtocolLog != "" {
		capture, err = log.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			logger.Error("failed to open protocol log", "path", cfg.ProtocolLog, "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	servers := make([]*simulator.Server, 0, cfg.Count)
	for i, name := range cfg.Names {
		dev := simulator.NewDevice(name, logger)
		scfg := simulator.ServerConfig{
			Endpoint:   fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.BasePort+i),
			Codec:      codec,
			ReplyDelay: cfg.ReplyDelay,
			Logger:     logger,
		}
		if capture != nil {
			scfg.ProtocolLogger = capture
		}
		srv, err := simulator.NewServer(dev, scfg)
		if err != nil {
			logger.Error("failed to create camera", "camera", name, "error", err)
			os.Exit(1)
		}
		if err := srv.Start(ctx); err != nil {
			logger.Error("failed to start camera", "camera", name, "error", err)
			os.Exit(1)
		}
		logger.Info("camera listening", "camera", name, "endpoint", srv.Endpoint(), "codec", codec.Name())
		servers = append(servers, srv)
	}

	if cfg.FrameRate > 0 {
		go runFrames(ctx, servers, cfg.FrameRate)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received signal", "signal", sig.String())
	cancel()

	for _, srv := range servers {
		if err := srv.Stop(); err != nil {
			logger.Warn("error stopping camera", "camera", srv.Device().Name(), "error", err)
		}
	}
	if capture != nil {
		capture.Close()
	}
}

func setupLogging(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func validateConfig() error {
	if cfg.Count < 1 {
		return fmt.Errorf("count must be at least 1")
	}
	if len(cfg.Names) > 0 && len(cfg.Names) != cfg.Count {
		if cfg.Count != 1 {
			return fmt.Errorf("got %d names for %d cameras", len(cfg.Names), cfg.Count)
		}
		cfg.Count = len(cfg.Names)
	}
	if cfg.BasePort < 1 || cfg.BasePort+cfg.Count-1 > 65535 {
		return fmt.Errorf("port range %d..%d out of bounds", cfg.BasePort, cfg.BasePort+cfg.Count-1)
	}
	if cfg.FrameRate < 0 {
		return fmt.Errorf("frame-rate must not be negative")
	}
	return nil
}

func applyDefaults() {
	if len(cfg.Names) == 0 {
		for i := 1; i <= cfg.Count; i++ {
			cfg.Names = append(cfg.Names, fmt.Sprintf("cam_%d", i))
		}
	}
}
