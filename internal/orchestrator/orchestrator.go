// Package orchestrator drives remote batches through their lifecycle until
// quiescence.
//
// The loop interleaves two phases: servicing active batches (poll, download,
// ingest, finalize) and submitting new ones (scan, render, upload, record).
// State transitions are single-threaded; only network I/O runs concurrently.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/AnsonDev42/gemini-ocr-batch/internal/gateway"
	"github.com/AnsonDev42/gemini-ocr-batch/internal/ingest"
	"github.com/AnsonDev42/gemini-ocr-batch/internal/prompts"
	"github.com/AnsonDev42/gemini-ocr-batch/internal/records"
	"github.com/AnsonDev42/gemini-ocr-batch/internal/scanner"
	"github.com/AnsonDev42/gemini-ocr-batch/internal/store"
)

// Config bounds one orchestrator run.
type Config struct {
	Paths                records.Paths
	Scan                 scanner.Options
	MaxConcurrentBatches int
	PollInterval         time.Duration
	DisplayNamePrefix    string
}

// Orchestrator owns the state machine for one process.
type Orchestrator struct {
	store    *store.Store
	gw       gateway.Gateway
	ingestor *ingest.Ingestor
	prompt   *prompts.Prompt
	cfg      Config
	logger   *slog.Logger

	summary *Summary
}

// New wires an orchestrator. The store handle is an explicit dependency, not
// a process-wide singleton, so tests can construct everything locally.
func New(st *store.Store, gw gateway.Gateway, ing *ingest.Ingestor, prompt *prompts.Prompt, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrentBatches <= 0 {
		cfg.MaxConcurrentBatches = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.DisplayNamePrefix == "" {
		cfg.DisplayNamePrefix = "ocr-batch"
	}
	return &Orchestrator{
		store:    st,
		gw:       gw,
		ingestor: ing,
		prompt:   prompt,
		cfg:      cfg,
		logger:   logger,
		summary:  newSummary(),
	}
}

// Run drives the state machine to quiescence: no active batches remain and
// the scanner finds nothing runnable. On context cancellation the current
// phase finishes its open transaction before Run returns.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	for {
		if err := ctx.Err(); err != nil {
			return o.finish(), err
		}

		ingested, err := o.serviceActive(ctx)
		if err != nil {
			return o.finish(), err
		}

		if err := ctx.Err(); err != nil {
			return o.finish(), err
		}

		submitted, err := o.submitNew(ctx)
		if err != nil {
			return o.finish(), err
		}

		active, err := o.store.ListActiveBatches()
		if err != nil {
			return o.finish(), err
		}

		if len(active) == 0 && submitted == 0 {
			o.logger.Info("quiescent: no active batches and nothing runnable")
			return o.finish(), nil
		}

		// Nothing moved this pass: wait before re-polling.
		if ingested == 0 && submitted == 0 {
			o.logger.Debug("waiting", "active_batches", len(active), "poll_interval", o.cfg.PollInterval)
			select {
			case <-time.After(o.cfg.PollInterval):
			case <-ctx.Done():
				return o.finish(), ctx.Err()
			}
		}
	}
}

func (o *Orchestrator) finish() *Summary {
	o.summary.FinishedAt = time.Now().UTC()
	if top, err := o.store.TopFailingRecords(10); err == nil {
		o.summary.TopFailing = top
	}
	return o.summary
}
