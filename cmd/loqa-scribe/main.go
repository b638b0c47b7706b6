package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/runtime"
)

var version = "0.1.0-dev"

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	configPath     string
	output         string
	model          string
	language       string
	device         string
	pauseThreshold float64
	showVersion    bool
	set            map[string]bool
}

func newFlagSet(opts *options, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("loqa-scribe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: loqa-scribe [flags] <file-or-directory>")
		fs.PrintDefaults()
	}

	defaults := config.Default().STT
	fs.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	fs.StringVar(&opts.output, "o", "", "Output file (default derived from input)")
	fs.StringVar(&opts.output, "output", "", "Output file (default derived from input)")
	fs.StringVar(&opts.model, "m", defaults.Model, "Model size or identifier")
	fs.StringVar(&opts.model, "model", defaults.Model, "Model size or identifier")
	fs.StringVar(&opts.language, "l", defaults.Language, "Language code")
	fs.StringVar(&opts.language, "language", defaults.Language, "Language code")
	fs.StringVar(&opts.device, "d", "", "Compute device: cpu or cuda (auto when omitted)")
	fs.StringVar(&opts.device, "device", "", "Compute device: cpu or cuda (auto when omitted)")
	fs.Float64Var(&opts.pauseThreshold, "pause-threshold", defaults.PauseThreshold, "Silence in seconds that starts a new line")
	fs.BoolVar(&opts.showVersion, "version", false, "Print version and exit")
	return fs
}

// parseArgs accepts flags before and after the positional argument.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts := options{set: map[string]bool{}}
	fs := newFlagSet(&opts, stderr)
	positional, err := parseArgs(fs, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	fs.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })

	if opts.showVersion {
		fmt.Fprintln(stdout, version)
		return exitOK
	}
	if len(positional) != 1 {
		fmt.Fprintln(stderr, "expected exactly one input file or directory")
		fs.Usage()
		return exitUsage
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintln(stderr, "failed to load config:", err)
		return exitUsage
	}
	applyFlags(&cfg, opts)
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintln(stderr, "invalid options:", err)
		return exitUsage
	}

	logger := newLogger(cfg.Telemetry, stderr).With(slog.String("runtime", cfg.RuntimeName))

	rt := runtime.New(cfg, logger)
	res, err := rt.Run(ctx, runtime.Request{Input: positional[0], Output: opts.output})
	if err != nil {
		logger.Error("transcription failed", slog.String("error", err.Error()))
		return exitError
	}
	fmt.Fprintln(stdout, res.Output)
	return exitOK
}

func applyFlags(cfg *config.Config, opts options) {
	if opts.set["m"] || opts.set["model"] {
		cfg.STT.Model = opts.model
	}
	if opts.set["l"] || opts.set["language"] {
		cfg.STT.Language = opts.language
	}
	if opts.set["d"] || opts.set["device"] {
		cfg.STT.Device = strings.ToLower(strings.TrimSpace(opts.device))
	}
	if opts.set["pause-threshold"] {
		cfg.STT.PauseThreshold = opts.pauseThreshold
	}
}

func newLogger(cfg config.TelemetryConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, handlerOpts))
	}
	return slog.New(slog.NewJSONHandler(w, handlerOpts))
}
