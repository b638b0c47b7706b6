package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-scribe/internal/batch"
	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/eventstore"
	"github.com/loqalabs/loqa-scribe/internal/media"
	"github.com/loqalabs/loqa-scribe/internal/naming"
	"github.com/loqalabs/loqa-scribe/internal/natsserver"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/loqalabs/loqa-scribe/internal/stt"
	"github.com/loqalabs/loqa-scribe/internal/transcript"
)

// EngineFactory loads the speech engine for a run.
type EngineFactory func(cfg config.STTConfig, logger *slog.Logger) (stt.Engine, error)

// Request names the input of one run. Output overrides the derived path.
type Request struct {
	Input  string
	Output string
}

// Result describes a finished run.
type Result struct {
	RunID        string
	Output       string
	Mode         media.Mode
	Files        int
	TotalSeconds float64
}

type Runtime struct {
	cfg       config.Config
	logger    *slog.Logger
	newEngine EngineFactory
	lookPath  func(string) (string, error)
	clock     func() time.Time

	httpServer *http.Server
	listenAddr string
	ready      atomic.Bool
	wg         sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		cfg:       cfg,
		logger:    logger,
		newEngine: stt.New,
		clock:     time.Now,
	}
}

// Run selects the media under req.Input, transcribes it and writes one
// document. Nothing is written unless every file succeeds.
func (r *Runtime) Run(ctx context.Context, req Request) (Result, error) {
	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return Result{}, fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	wl, err := media.Select(req.Input, media.NewExtensionSet(r.cfg.Media.Extensions))
	if err != nil {
		return Result{}, err
	}
	r.logger.Info("media selected",
		slog.String("input", wl.Input),
		slog.String("mode", wl.Mode.String()),
		slog.Int("files", len(wl.Files)))

	if err := r.startHTTP(metricsHandler); err != nil {
		return Result{}, err
	}
	defer r.stopHTTP()

	storeLog := r.logger.With(slog.String("component", "eventstore"))
	store, err := eventstore.Open(ctx, r.cfg.EventStore, storeLog)
	if err != nil {
		r.logger.Warn("run history disabled", slog.String("path", r.cfg.EventStore.Path), slog.String("error", err.Error()))
		ephemeral := r.cfg.EventStore
		ephemeral.RetentionMode = "ephemeral"
		if store, err = eventstore.Open(ctx, ephemeral, storeLog); err != nil {
			return Result{}, fmt.Errorf("open event store: %w", err)
		}
	}
	defer store.Close()

	var busClient *bus.Client
	if r.cfg.Bus.Enabled {
		busCfg := r.cfg.Bus
		embedded, err := natsserver.Start(busCfg, r.logger.With(slog.String("component", "natsserver")))
		if err != nil {
			r.logger.Warn("embedded NATS server unavailable", slog.String("error", err.Error()))
		} else if embedded != nil {
			defer embedded.Shutdown()
			busCfg.Servers = []string{embedded.ClientURL()}
		}
		busClient, err = bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
		if err != nil {
			r.logger.Warn("progress events disabled", slog.String("error", err.Error()))
			busClient = nil
		} else {
			defer busClient.Close()
		}
	}

	rec := &recorder{
		runID:  uuid.NewString(),
		store:  store,
		bus:    busClient,
		logger: r.logger.With(slog.String("component", "history")),
		clock:  r.clock,
	}
	rec.started(ctx, wl, r.cfg.STT.Model)

	result, err := r.execute(ctx, wl, req, rec)
	if err != nil {
		rec.failed(ctx, wl.Input, err)
		r.flushBus(busClient)
		return Result{}, err
	}
	rec.completed(ctx, protocol.BatchCompleted{
		RunID:                rec.runID,
		Input:                wl.Input,
		Output:               result.Output,
		Mode:                 wl.Mode.String(),
		Model:                r.cfg.STT.Model,
		Files:                result.Files,
		TotalDurationSeconds: result.TotalSeconds,
		Timestamp:            r.clock().UTC(),
	})
	r.flushBus(busClient)
	return result, nil
}

func (r *Runtime) execute(ctx context.Context, wl media.Worklist, req Request, rec *recorder) (Result, error) {
	engine, err := r.newEngine(r.cfg.STT, r.logger)
	if err != nil {
		return Result{}, fmt.Errorf("load engine: %w", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			r.logger.Warn("engine close failed", slog.String("error", err.Error()))
		}
	}()

	device := stt.ResolveDevice(r.cfg.STT.Device, r.lookPath)
	r.logger.Info("engine loaded",
		slog.String("model", engine.Model()),
		slog.String("device", device),
		slog.String("language", r.cfg.STT.Language))

	orch := batch.New(engine, batch.Options{
		Language:       r.cfg.STT.Language,
		Device:         device,
		PauseThreshold: r.cfg.STT.PauseThreshold,
	}, r.logger, rec)

	r.ready.Store(true)
	defer r.ready.Store(false)

	outcomes, err := orch.Run(ctx, wl)
	if err != nil {
		return Result{}, err
	}

	doc := transcript.Assemble(wl.Mode, outcomes)
	nameCtx := naming.ContextFrom(outcomes)
	override := req.Output
	if override == "" {
		override = r.cfg.Output.Path
	}
	suffix := r.cfg.Output.Suffix
	if suffix == "" {
		suffix = r.cfg.STT.Model
	}
	path := naming.Resolve(override, wl, nameCtx, naming.Options{Suffix: suffix, Extension: r.cfg.Output.Extension})

	if err := writeFileAtomic(path, []byte(doc)); err != nil {
		return Result{}, fmt.Errorf("write transcript: %w", err)
	}
	r.logger.Info("transcript written",
		slog.String("output", path),
		slog.Int("files", len(outcomes)),
		slog.Float64("total_seconds", nameCtx.Total()))

	return Result{
		RunID:        rec.runID,
		Output:       path,
		Mode:         wl.Mode,
		Files:        len(outcomes),
		TotalSeconds: nameCtx.Total(),
	}, nil
}

func (r *Runtime) flushBus(c *bus.Client) {
	if err := c.Flush(2 * time.Second); err != nil {
		r.logger.Warn("bus flush failed", slog.String("error", err.Error()))
	}
}

func (r *Runtime) startHTTP(metrics http.Handler) error {
	bind := r.cfg.Telemetry.PrometheusBind
	if bind == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("listen %s: %w", bind, err)
	}
	r.listenAddr = ln.Addr().String()
	r.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()
	r.logger.Info("metrics listener started", slog.String("addr", r.listenAddr))
	return nil
}

func (r *Runtime) stopHTTP() {
	if r.httpServer == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
	r.httpServer = nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// writeFileAtomic replaces path with data via a temp file in the same directory.
func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
