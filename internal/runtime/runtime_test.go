package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/batch"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/eventstore"
	"github.com/loqalabs/loqa-scribe/internal/media"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/loqalabs/loqa-scribe/internal/stt"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.STT.Mode = "mock"
	cfg.STT.Device = "cpu"
	return cfg
}

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("media"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

type fixedEngine struct {
	samples map[string]int
	failOn  string
	loaded  int
	closed  int
}

func (f *fixedEngine) Model() string { return "medium" }

func (f *fixedEngine) Close() error {
	f.closed++
	return nil
}

func (f *fixedEngine) Decode(_ context.Context, path string) (stt.Audio, error) {
	return stt.Audio{Source: path, Samples: f.samples[filepath.Base(path)], SampleRate: 16000}, nil
}

func (f *fixedEngine) Transcribe(_ context.Context, audio stt.Audio, _ stt.Options) ([]stt.Segment, error) {
	if filepath.Base(audio.Source) == f.failOn {
		return nil, errors.New("decoder crashed")
	}
	return []stt.Segment{{Start: 0, End: 1, Text: "text of " + filepath.Base(audio.Source)}}, nil
}

func withEngine(rt *Runtime, eng *fixedEngine) {
	rt.newEngine = func(config.STTConfig, *slog.Logger) (stt.Engine, error) {
		eng.loaded++
		return eng, nil
	}
}

func TestRunBatchWithMockEngine(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "2025-11-26 17-00-00.mp4", "2025-11-26 16-44-59.mp4", "notes.txt")

	res, err := New(testConfig(), newLogger()).Run(context.Background(), Request{Input: dir})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := filepath.Join(dir, "2025-11-26 16-44-59__2025-11-26 17-00-00_small.txt")
	if res.Output != want {
		t.Fatalf("expected output %q, got %q", want, res.Output)
	}
	if res.Mode != media.ModeBatch || res.Files != 2 || res.RunID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	data, err := os.ReadFile(res.Output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	doc := string(data)
	first := strings.Index(doc, "===== FILE: 2025-11-26 16-44-59.mp4 =====")
	second := strings.Index(doc, "===== FILE: 2025-11-26 17-00-00.mp4 =====")
	if first != 0 || second <= first {
		t.Fatalf("unexpected document layout:\n%s", doc)
	}
	if !strings.Contains(doc, "[mock:small] 2025-11-26 16-44-59.mp4 language=pl device=cpu") {
		t.Fatalf("expected mock transcript, got:\n%s", doc)
	}
	if !strings.HasSuffix(doc, "device=cpu\n") || strings.HasSuffix(doc, "\n\n") {
		t.Fatalf("expected exactly one trailing newline, got %q", doc)
	}
}

func TestRunBatchNamesFromDurations(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "2025-11-26 16-44-59.mp4", "2025-11-26 17-00-00.mp4")

	cfg := testConfig()
	cfg.Output.Suffix = "medium"
	rt := New(cfg, newLogger())
	eng := &fixedEngine{samples: map[string]int{
		"2025-11-26 16-44-59.mp4": 160000,
		"2025-11-26 17-00-00.mp4": 80000,
	}}
	withEngine(rt, eng)

	res, err := rt.Run(context.Background(), Request{Input: dir})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if filepath.Base(res.Output) != "2025-11-26 16-44-59__2025-11-26 17-00-05_medium.txt" {
		t.Fatalf("unexpected output name %q", res.Output)
	}
	if res.TotalSeconds != 15 {
		t.Fatalf("expected 15s total, got %v", res.TotalSeconds)
	}
	if eng.loaded != 1 || eng.closed != 1 {
		t.Fatalf("expected engine loaded and closed once, got %d/%d", eng.loaded, eng.closed)
	}
}

func TestRunFallbackName(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "clip1.mp4", "clip2.mkv")

	res, err := New(testConfig(), newLogger()).Run(context.Background(), Request{Input: dir})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if filepath.Base(res.Output) != "clip1_len_00h00m_small.txt" {
		t.Fatalf("unexpected output name %q", res.Output)
	}
}

func TestRunSingleFile(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "lecture.mov")

	res, err := New(testConfig(), newLogger()).Run(context.Background(), Request{Input: filepath.Join(dir, "lecture.mov")})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Output != filepath.Join(dir, "lecture.txt") || res.Mode != media.ModeSingle {
		t.Fatalf("unexpected result: %+v", res)
	}
	data, err := os.ReadFile(res.Output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "[mock:small] lecture.mov language=pl device=cpu\n" {
		t.Fatalf("unexpected single document %q", data)
	}
}

func TestRunOutputOverride(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.mp4")
	target := filepath.Join(dir, "custom.md")

	res, err := New(testConfig(), newLogger()).Run(context.Background(), Request{Input: dir, Output: target})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Output != target {
		t.Fatalf("expected override %q, got %q", target, res.Output)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("override not written: %v", err)
	}
}

func TestRunRejectsUnsupportedFile(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "notes.txt")
	rt := New(testConfig(), newLogger())
	eng := &fixedEngine{}
	withEngine(rt, eng)

	_, err := rt.Run(context.Background(), Request{Input: filepath.Join(dir, "notes.txt")})
	if !errors.Is(err, media.ErrUnsupportedFileKind) {
		t.Fatalf("expected ErrUnsupportedFileKind, got %v", err)
	}
	if eng.loaded != 0 {
		t.Fatal("engine must not load for rejected input")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected no output file, found %d entries", len(entries))
	}
}

func TestRunEmptyDirectory(t *testing.T) {
	_, err := New(testConfig(), newLogger()).Run(context.Background(), Request{Input: t.TempDir()})
	if !errors.Is(err, media.ErrNoMediaFound) {
		t.Fatalf("expected ErrNoMediaFound, got %v", err)
	}
}

func TestRunEngineFailureWritesNothing(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.mp4", "b.mp4")
	cfg := testConfig()
	cfg.EventStore.RetentionMode = "session"
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "history.db")
	rt := New(cfg, newLogger())
	withEngine(rt, &fixedEngine{failOn: "b.mp4"})

	_, err := rt.Run(context.Background(), Request{Input: dir})
	if !errors.Is(err, batch.ErrEngineFailure) {
		t.Fatalf("expected ErrEngineFailure, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Fatalf("expected no output next to inputs, found %d entries", len(entries))
	}
}

func TestRunRecordsHistory(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.mp4", "b.mp4")
	cfg := testConfig()
	cfg.EventStore.RetentionMode = "session"
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "history.db")

	res, err := New(cfg, newLogger()).Run(context.Background(), Request{Input: dir})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	store, err := eventstore.Open(context.Background(), cfg.EventStore, newLogger())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	run, ok, err := store.GetRun(context.Background(), res.RunID)
	if err != nil || !ok {
		t.Fatalf("get run: ok=%v err=%v", ok, err)
	}
	if run.Status != eventstore.StatusCompleted || run.Output != res.Output || run.FileCount != 2 {
		t.Fatalf("unexpected run record: %+v", run)
	}
	events, err := store.ListRunEvents(context.Background(), res.RunID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	if strings.Join(types, ",") != "run.started,file.transcribed,file.transcribed,run.completed" {
		t.Fatalf("unexpected event timeline: %v", types)
	}
}

func TestRunSurvivesUnavailableHistory(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.mp4")
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.EventStore.RetentionMode = "persistent"
	cfg.EventStore.Path = filepath.Join(blocker, "history.db")

	res, err := New(cfg, newLogger()).Run(context.Background(), Request{Input: dir})
	if err != nil {
		t.Fatalf("history failures must not fail the run: %v", err)
	}
	if _, err := os.Stat(res.Output); err != nil {
		t.Fatalf("expected transcript written: %v", err)
	}
}

func TestRunPublishesProgress(t *testing.T) {
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("create nats server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)
	sub, err := nc.SubscribeSync("scribe.>")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	dir := t.TempDir()
	touch(t, dir, "a.mp4")
	cfg := testConfig()
	cfg.Bus.Enabled = true
	cfg.Bus.Servers = []string{ns.ClientURL()}

	res, err := New(cfg, newLogger()).Run(context.Background(), Request{Input: dir})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	first, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("file message: %v", err)
	}
	if first.Subject != "scribe."+protocol.SubjectFileTranscribed {
		t.Fatalf("unexpected subject %q", first.Subject)
	}
	second, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("batch message: %v", err)
	}
	var done protocol.BatchCompleted
	if err := json.Unmarshal(second.Data, &done); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if done.RunID != res.RunID || done.Output != res.Output || done.Files != 1 {
		t.Fatalf("unexpected completion message: %+v", done)
	}
}

func TestRunSurvivesUnreachableBus(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.mp4")
	cfg := testConfig()
	cfg.Bus.Enabled = true
	cfg.Bus.Servers = []string{"nats://127.0.0.1:1"}
	cfg.Bus.ConnectTimeout = 200

	if _, err := New(cfg, newLogger()).Run(context.Background(), Request{Input: dir}); err != nil {
		t.Fatalf("bus failures must not fail the run: %v", err)
	}
}

func TestRunWithEmbeddedBus(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.mp4")
	cfg := testConfig()
	cfg.Bus.Enabled = true
	cfg.Bus.Servers = nil
	cfg.Bus.Embedded = true
	cfg.Bus.EmbeddedPort = -1

	if _, err := New(cfg, newLogger()).Run(context.Background(), Request{Input: dir}); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.mp4")
	cfg := testConfig()
	cfg.Telemetry.PrometheusBind = "127.0.0.1:0"
	rt := New(cfg, newLogger())

	if _, err := rt.Run(context.Background(), Request{Input: dir}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rt.listenAddr == "" {
		t.Fatal("expected metrics listener to bind")
	}
	if rt.httpServer != nil {
		t.Fatal("expected metrics listener to stop with the run")
	}
}

func TestReadinessHandlers(t *testing.T) {
	rt := New(testConfig(), newLogger())

	rec := httptest.NewRecorder()
	rt.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before the engine loads, got %d", rec.Code)
	}

	rt.ready.Store(true)
	rec = httptest.NewRecorder()
	rt.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 once ready, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	rt.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}
}

func TestWriteFileAtomicReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := writeFileAtomic(path, []byte("new\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "new\n" {
		t.Fatalf("unexpected content %q err=%v", data, err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp file left behind: %d entries", len(entries))
	}
}
