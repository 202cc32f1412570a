package telemetry

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestConfigValidate tests configuration validation
func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "missing service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "bad exporter", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger"
		}, wantErr: true},
		{name: "exporter ignored when disabled", mutate: func(c *Config) { c.Tracing.Exporter = "jaeger" }},
		{name: "sampling rate", mutate: func(c *Config) { c.Tracing.SamplingRate = 1.5 }, wantErr: true},
		{name: "metrics without address", mutate: func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.ListenAddress = ""
		}, wantErr: true},
		{name: "async events without buffer", mutate: func(c *Config) {
			c.Events.EnableAsync = true
			c.Events.BufferSize = 0
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

// TestLoggerFields tests structured fields on the JSON logger
func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LoggingConfig{Level: "debug", Format: "json"})

	logger.NewComponentLogger("store").WithTaskID(7).WithOperationID("op-1").Debug("staged update")

	out := buf.String()
	for _, want := range []string{`"component":"store"`, `"task_id":7`, `"op_id":"op-1"`, `"message":"staged update"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected log line to contain %s, got %s", want, out)
		}
	}
}

// TestLoggerLevel tests that lines below the configured level are dropped
func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LoggingConfig{Level: "warn", Format: "json"})

	logger.Debug("hidden")
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %s", buf.String())
	}

	logger.WithError(errors.New("boom")).Error("visible")
	if !strings.Contains(buf.String(), `"error":"boom"`) {
		t.Errorf("expected error field, got %s", buf.String())
	}

	buf.Reset()
	logger.WithField("file", "tasks.db-wal").Warn("File watcher error")
	if !strings.Contains(buf.String(), `"level":"warn"`) || !strings.Contains(buf.String(), `"file":"tasks.db-wal"`) {
		t.Errorf("expected warn line with file field, got %s", buf.String())
	}
}

// TestNopMetrics tests that a disabled collector is safe to use
func TestNopMetrics(t *testing.T) {
	m := NopMetrics()
	m.RecordOperation("tasks.create", "ok", time.Millisecond)
	m.RecordFlush(FlushWritten, time.Millisecond)
	m.RecordStoreError("save_failed")
	m.SetPendingChanges(3)
	m.SetTaskCount(3)

	if m.Flushes(FlushWritten) != nil {
		t.Error("expected nil counter when metrics are disabled")
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 from disabled handler, got %d", rec.Code)
	}

	if srv := m.StartMetricsServer(nil); srv != nil {
		t.Error("expected no server when metrics are disabled")
	}
}

// TestMetricsRecording tests counters on an enabled collector
func TestMetricsRecording(t *testing.T) {
	cfg := DefaultConfig().Metrics
	cfg.Enabled = true

	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	m.RecordFlush(FlushWritten, time.Millisecond)
	m.RecordFlush(FlushSkipped, 0)
	m.RecordFlush(FlushSkipped, 0)
	m.RecordStoreError("save_failed")
	m.SetPendingChanges(2)

	if got := testutil.ToFloat64(m.Flushes(FlushWritten)); got != 1 {
		t.Errorf("expected 1 written flush, got %v", got)
	}
	if got := testutil.ToFloat64(m.Flushes(FlushSkipped)); got != 2 {
		t.Errorf("expected 2 skipped flushes, got %v", got)
	}
	if got := testutil.ToFloat64(m.storeErrors.WithLabelValues("save_failed")); got != 1 {
		t.Errorf("expected 1 save_failed error, got %v", got)
	}
	if got := testutil.ToFloat64(m.pendingChanges); got != 2 {
		t.Errorf("expected 2 pending changes, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "tasks_flushes_total") {
		t.Errorf("expected exposition to contain tasks_flushes_total")
	}
}

// TestStartOperation tests span, logger and metric wiring of an operation
func TestStartOperation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Logging.Output = "stderr"

	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("failed to create telemetry: %v", err)
	}
	defer tel.Shutdown(context.Background())

	op := tel.StartOperation(context.Background(), "tasks.fetch_all")
	op.End("ok", nil)

	op = tel.StartOperation(context.Background(), "tasks.fetch_all")
	op.End("fetch_failed", errors.New("no such table"))

	ops := tel.Metrics.operations
	if got := testutil.ToFloat64(ops.WithLabelValues("tasks.fetch_all", "ok")); got != 1 {
		t.Errorf("expected 1 ok operation, got %v", got)
	}
	if got := testutil.ToFloat64(ops.WithLabelValues("tasks.fetch_all", "fetch_failed")); got != 1 {
		t.Errorf("expected 1 failed operation, got %v", got)
	}
}

// TestEventPublisherSync tests inline delivery with filters
func TestEventPublisherSync(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}

	var created, all []Event
	ep.Subscribe(func(e Event) { created = append(created, e) }, FilterByType(EventTypeTaskCreated))
	ep.Subscribe(func(e Event) { all = append(all, e) }, nil)

	if err := ep.PublishTaskCreated(1, "Buy milk"); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}
	if err := ep.PublishTaskDeleted(1); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	if len(created) != 1 || created[0].TaskID != 1 {
		t.Fatalf("expected one created event for task 1, got %+v", created)
	}
	if created[0].ID == "" || created[0].Timestamp.IsZero() {
		t.Error("expected publisher to stamp ID and timestamp")
	}
	if len(all) != 2 || all[1].Type != EventTypeTaskDeleted {
		t.Errorf("expected created then deleted, got %+v", all)
	}
}

// TestEventPublisherGlobalFilter tests filters applied before delivery
func TestEventPublisherGlobalFilter(t *testing.T) {
	ep, _ := NewEventPublisher(EventsConfig{Enabled: true})
	ep.AddFilter(FilterByLevel(EventLevelError))

	var got []Event
	ep.Subscribe(func(e Event) { got = append(got, e) }, nil)

	_ = ep.PublishTaskUpdated(2, "a", "b")
	_ = ep.PublishFlushFailed(2, "disk full")

	if len(got) != 1 || got[0].Type != EventTypeStoreFlushFailed {
		t.Errorf("expected only the flush failure, got %+v", got)
	}
}

// TestEventPublisherAsync tests buffered delivery and shutdown
func TestEventPublisherAsync(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, EnableAsync: true, BufferSize: 8, MaxBatchSize: 4})
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}

	received := make(chan Event, 8)
	ep.Subscribe(func(e Event) { received <- e }, FilterByTaskID(5))

	_ = ep.PublishTaskCreated(5, "five")
	_ = ep.PublishTaskCreated(6, "six")

	select {
	case e := <-received:
		if e.TaskID != 5 {
			t.Errorf("expected task 5, got %d", e.TaskID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for async event")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("failed to shut down: %v", err)
	}

	if err := ep.PublishTaskDeleted(5); err == nil {
		t.Error("expected publish after shutdown to fail")
	}
}

// TestEventPublisherShutdownRace tests that every accepted async event is
// delivered when Shutdown runs concurrently with Publish
func TestEventPublisherShutdownRace(t *testing.T) {
	cfg := DefaultConfig().Events
	cfg.EnableAsync = true
	cfg.BufferSize = 1024

	for round := 0; round < 20; round++ {
		ep, err := NewEventPublisher(cfg)
		if err != nil {
			t.Fatalf("failed to create publisher: %v", err)
		}

		var delivered atomic.Int64
		ep.Subscribe(func(Event) { delivered.Add(1) }, nil)

		var accepted atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					if ep.PublishTaskCreated(int64(j), "x") == nil {
						accepted.Add(1)
					}
				}
			}()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := ep.Shutdown(ctx); err != nil {
			cancel()
			t.Fatalf("failed to shut down: %v", err)
		}
		cancel()
		wg.Wait()

		if got, want := delivered.Load(), accepted.Load(); got != want {
			t.Fatalf("round %d: %d events accepted but %d delivered", round, want, got)
		}
	}
}

// TestEventPublisherDisabled tests that a disabled publisher drops events
func TestEventPublisherDisabled(t *testing.T) {
	ep := NopEventPublisher()
	called := false
	ep.Subscribe(func(Event) { called = true }, nil)

	if err := ep.PublishTaskCreated(1, "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("expected disabled publisher not to deliver")
	}
	if err := ep.Shutdown(context.Background()); err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}
}
