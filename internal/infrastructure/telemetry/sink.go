// Package telemetry implements the single emit_event seam (spec §4.6): a
// newline-delimited JSON sink file plus a best-effort POST to an external
// tracing service, with every event stamped with the ids of a fresh span
// started for it on the process-wide otel TracerProvider (when that span is
// valid). The orchestrator never configures an
// exporter itself -- it threads trace/span ids for correlation with
// whatever tracing stack an operator wires up around it, the same
// indirect-only relationship the teacher's own go.mod has with
// `go.opentelemetry.io/otel`.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/smilemakc/vyasa/internal/application/pipeline"
)

// Config configures the sink (spec §6.4/§4.6).
type Config struct {
	SinkPath        string
	ExternalURL     string
	ExternalEnabled bool
	ExternalTimeout time.Duration
}

// DefaultConfig mirrors the spec's literal "timeouts <= 2s" default.
func DefaultConfig() Config {
	return Config{ExternalTimeout: 2 * time.Second}
}

// Sink is the concrete pipeline.Telemetry. It is safe for concurrent use
// across the semaphore-bounded parallel jobs spec §4.1 describes.
type Sink struct {
	cfg    Config
	client *http.Client
	tracer trace.Tracer

	mu   sync.Mutex
	file *os.File
}

var _ pipeline.Telemetry = (*Sink)(nil)

// New opens (creating if needed) the NDJSON sink file and returns a Sink.
// A failure to open the file degrades to a sink that still attempts the
// external POST but drops the file write, rather than failing startup --
// telemetry is observability, never a reason to refuse to run a job.
func New(cfg Config) (*Sink, error) {
	s := &Sink{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.ExternalTimeout},
		tracer: otel.Tracer("vyasa"),
	}
	if cfg.SinkPath == "" {
		return s, nil
	}
	f, err := os.OpenFile(cfg.SinkPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return s, err
	}
	s.file = f
	return s, nil
}

// Close closes the sink file, if one is open.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// Emit implements pipeline.Telemetry. It never panics or returns an error:
// both the file write and the external POST are best-effort, matching spec
// §4.6's "all exceptions swallowed."
func (s *Sink) Emit(kind string, payload map[string]any) {
	_, span := s.tracer.Start(context.Background(), kind)
	defer span.End()

	record := make(map[string]any, len(payload)+3)
	for k, v := range payload {
		record[k] = v
	}
	record["kind"] = kind
	record["emitted_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	if sc := span.SpanContext(); sc.IsValid() {
		record["trace_id"] = sc.TraceID().String()
		record["span_id"] = sc.SpanID().String()
	}

	encoded, err := json.Marshal(record)
	if err != nil {
		return
	}

	s.writeLine(encoded)
	s.postExternal(encoded)
}

func (s *Sink) writeLine(encoded []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return
	}
	_, _ = s.file.Write(append(encoded, '\n'))
}

func (s *Sink) postExternal(encoded []byte) {
	if !s.cfg.ExternalEnabled || s.cfg.ExternalURL == "" {
		return
	}

	timeout := s.cfg.ExternalTimeout
	if timeout <= 0 || timeout > 2*time.Second {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.ExternalURL, bytes.NewReader(encoded))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return
	}
	_ = resp.Body.Close()
}
