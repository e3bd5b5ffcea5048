// Command orca-control bridges a fleet of ORCA cameras to an attribute tree.
//
// It reads the camera list from a YAML file and/or flags, discovers every
// camera, starts background polling and then waits for a signal. With
// -interactive it also runs a console for reading and writing the tree.
//
// Usage:
//
//	orca-control [flags]
//
// Flags:
//
//	-config string          Configuration file path
//	-endpoints string       Comma-separated camera endpoints
//	-names string           Comma-separated camera names
//	-count int              Number of cameras to manage (default: one per endpoint)
//	-poll                   Enable background polling (default true)
//	-poll-interval duration Poll interval in seconds or as a duration (default 1s)
//	-timeout duration       Request timeout (default 1s)
//	-codec string           Wire codec: json, cbor (default "json")
//	-log-level string       Log level: debug, info, warn, error (default "info")
//	-protocol-log string    Write protocol capture events to this file
//	-interactive            Enable the interactive console
//
// Examples:
//
//	# Two cameras with polling every half second
//	orca-control -endpoints tcp://127.0.0.1:9001,tcp://127.0.0.1:9002 -names cam_a,cam_b -poll-interval 0.5
//
//	# From a file, with a console and a protocol capture
//	orca-control -config orca.yaml -interactive -protocol-log orca.olog
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/orca-control/orca-go/cmd/orca-control/interactive"
	"github.com/orca-control/orca-go/pkg/config"
	"github.com/orca-control/orca-go/pkg/fleet"
	"github.com/orca-control/orca-go/pkg/log"
)

// flags holds the command line. Only flags that were set override the
// configuration file.
type flags struct {
	ConfigFile   string
	Endpoints    config.List
	Names        config.List
	Count        int
	Poll         bool
	PollInterval config.Seconds
	Timeout      config.Seconds
	Codec        string
	LogLevel     string
	ProtocolLog  string
	Interactive  bool
}

var opts flags

func init() {
	flag.StringVar(&opts.ConfigFile, "config", "", "Configuration file path")
	flag.Var(&opts.Endpoints, "endpoints", "Comma-separated camera endpoints")
	flag.Var(&opts.Names, "names", "Comma-separated camera names")
	flag.IntVar(&opts.Count, "count", 0, "Number of cameras to manage (default: one per endpoint)")
	flag.BoolVar(&opts.Poll, "poll", true, "Enable background polling")
	flag.Var(&opts.PollInterval, "poll-interval", "Poll interval in seconds or as a duration (default 1s)")
	flag.Var(&opts.Timeout, "timeout", "Request timeout (default 1s)")
	flag.StringVar(&opts.Codec, "codec", "json", "Wire codec: json, cbor")
	flag.StringVar(&opts.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&opts.ProtocolLog, "protocol-log", "", "Write protocol capture events to this file")
	flag.BoolVar(&opts.Interactive, "interactive", false, "Enable the interactive console")
}

func main() {
	flag.Parse()

	level, err := parseLevel(opts.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logOut := &switchWriter{w: os.Stderr}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("configuration failed", "error", err)
		os.Exit(1)
	}

	fcfg, err := cfg.Fleet()
	if err != nil {
		logger.Error("configuration failed", "error", err)
		os.Exit(1)
	}
	fcfg.Logger = logger

	var capture *log.FileLogger
	if opts.ProtocolLog != "" {
		capture, err = log.NewFileLogger(opts.ProtocolLog)
		if err != nil {
			logger.Error("failed to open protocol log", "path", opts.ProtocolLog, "error", err)
			os.Exit(1)
		}
		fcfg.ProtocolLogger = capture
		logger.Info("protocol capture enabled", "path", opts.ProtocolLog)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("starting orca-control", "cameras", len(fcfg.Endpoints), "poll", fcfg.PollEnabled, "codec", fcfg.Codec.Name())
	f, err := fleet.New(ctx, fcfg)
	if err != nil {
		logger.Error("failed to start fleet", "error", err, "kind", fleet.Kind(err))
		os.Exit(1)
	}

	if opts.Interactive {
		console, err := interactive.New(f)
		if err != nil {
			logger.Error("failed to create console", "error", err)
			os.Exit(1)
		}
		logOut.set(console.Stdout())
		go console.Run(ctx, cancel)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig.String())
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	cancel()
	f.Cleanup()

	if capture != nil {
		if err := capture.Close(); err != nil {
			logger.Warn("closing protocol log failed", "error", err)
		}
	}
}

// loadConfig merges the configuration file (if any) with the flags that
// were set explicitly.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigFile != "" {
		var err error
		if cfg, err = config.Load(opts.ConfigFile); err != nil {
			return config.Config{}, err
		}
	}

	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "endpoints":
			cfg.Endpoints = opts.Endpoints
		case "names":
			cfg.Names = opts.Names
		case "count":
			cfg.Count = opts.Count
		case "poll":
			cfg.PollEnabled = opts.Poll
		case "poll-interval":
			cfg.PollInterval = opts.PollInterval
		case "timeout":
			cfg.Timeout = opts.Timeout
		case "codec":
			cfg.Codec = opts.Codec
		}
	})
	return cfg, cfg.Validate()
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %s (use: debug, info, warn, error)", s)
	}
}

// switchWriter lets log output move to the console once it starts.
type switchWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *switchWriter) set(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w = w
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
