// Package obsink is the optional observability sink: a fire-and-forget,
// batched HTTP emitter of per-record context.
//
// The sink never blocks the orchestrator. When the endpoint is unreachable
// the sink degrades silently after a single warning.
package obsink

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// RecordContext is one emitted observation.
type RecordContext struct {
	RecordKey string `json:"record_key"`
	BatchID   string `json:"batch_id"`
	Status    string `json:"status"`
	ErrorKind string `json:"error_kind,omitempty"`
	ModelName string `json:"model_name,omitempty"`
}

// Config configures the sink.
type Config struct {
	URL           string
	BatchSize     int           // Flush after N records (default: 50)
	FlushInterval time.Duration // Or after duration (default: 5s)
	QueueSize     int           // Buffer size (default: 1000)
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Sink batches record contexts and posts them to the configured URL.
type Sink struct {
	url    string
	client *http.Client
	logger *slog.Logger

	batchSize     int
	flushInterval time.Duration

	queue chan RecordContext

	warnOnce sync.Once

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a sink. A nil return means no sink is configured.
func New(cfg Config) *Sink {
	if cfg.URL == "" {
		return nil
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Sink{
		url:           cfg.URL,
		client:        cfg.HTTPClient,
		logger:        cfg.Logger,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		queue:         make(chan RecordContext, cfg.QueueSize),
	}
}

// Start begins the background flusher.
func (s *Sink) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop flushes remaining records and shuts the sink down.
func (s *Sink) Stop() {
	s.stopOnce.Do(func() {
		close(s.queue)
		s.wg.Wait()
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Emit queues one record context. Non-blocking: when the queue is full the
// record is dropped.
func (s *Sink) Emit(rc RecordContext) {
	select {
	case s.queue <- rc:
	default:
		s.logger.Debug("observability sink queue full, dropping record", "record_key", rc.RecordKey)
	}
}

func (s *Sink) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	batch := make([]RecordContext, 0, s.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.post(ctx, batch)
		batch = batch[:0]
	}

	for {
		select {
		case rc, ok := <-s.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rc)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			flush()
			return
		}
	}
}

func (s *Sink) post(ctx context.Context, batch []RecordContext) {
	payload, err := json.Marshal(batch)
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.warnOnce.Do(func() {
			s.logger.Warn("observability sink unreachable, degrading silently", "url", s.url, "error", err)
		})
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		s.warnOnce.Do(func() {
			s.logger.Warn("observability sink rejected batch, degrading silently",
				"url", s.url, "status", resp.StatusCode)
		})
	}
}
