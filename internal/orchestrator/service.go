package orchestrator

import (
	"context"
	"sync"

	"github.com/AnsonDev42/gemini-ocr-batch/internal/gateway"
	"github.com/AnsonDev42/gemini-ocr-batch/internal/store"
)

// pollResult pairs a batch with its polled state.
type pollResult struct {
	batch store.ActiveBatch
	state gateway.BatchState
	err   error
}

// serviceActive polls every active batch and processes the terminal ones.
// Returns the number of records whose outcomes were ingested this pass.
//
// Polls run concurrently, capped at the batch-concurrency ceiling; the
// terminal batches are then processed serially in id-ascending order so log
// timestamps stay reproducible.
func (o *Orchestrator) serviceActive(ctx context.Context) (int, error) {
	active, err := o.store.ListActiveBatches()
	if err != nil {
		return 0, err
	}
	if len(active) == 0 {
		return 0, nil
	}

	results := make([]pollResult, len(active))
	sem := make(chan struct{}, o.cfg.MaxConcurrentBatches)
	var wg sync.WaitGroup
	for idx, b := range active {
		wg.Add(1)
		go func(idx int, b store.ActiveBatch) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			state, err := o.gw.Poll(ctx, b.ID)
			results[idx] = pollResult{batch: b, state: state, err: err}
		}(idx, b)
	}
	wg.Wait()

	ingested := 0
	// active is id-ascending from the store; results preserve that order.
	for _, r := range results {
		if err := ctx.Err(); err != nil {
			return ingested, err
		}

		if r.err != nil {
			// Transient poll failure: the batch stays active and will be
			// re-polled next pass.
			o.logger.Warn("poll failed", "batch_id", r.batch.ID, "error", r.err)
			continue
		}
		if !r.state.Terminal() {
			o.logger.Debug("batch still running", "batch_id", r.batch.ID, "state", string(r.state))
			continue
		}

		n, err := o.processTerminal(ctx, r.batch, r.state)
		if err != nil {
			return ingested, err
		}
		ingested += n
	}
	return ingested, nil
}

// processTerminal downloads and ingests a successful batch, or logs a
// batch-level failure, then finalizes the batch either way.
func (o *Orchestrator) processTerminal(ctx context.Context, b store.ActiveBatch, state gateway.BatchState) (int, error) {
	expected, err := o.store.BatchMembers(b.ID)
	if err != nil {
		return 0, err
	}

	if !state.Success() {
		// Batch-level failure: log each affected key, no counter bumps.
		// The records become eligible again on the next wave.
		for _, k := range expected {
			if err := o.store.AppendFailureLog(store.FailureLogRow{
				RecordKey:    k.String(),
				BatchID:      b.ID,
				ErrorKind:    store.KindBatchTerminalFailure,
				ErrorMessage: "batch terminated with state " + string(state),
			}); err != nil {
				return 0, err
			}
		}
		if err := o.store.FinalizeBatch(b.ID, "failed"); err != nil {
			return 0, err
		}

		o.summary.BatchesFailed++
		o.summary.KindCounts[store.KindBatchTerminalFailure] += len(expected)
		o.logger.Warn("batch failed remotely",
			"batch_id", b.ID, "state", string(state), "records", len(expected))
		return 0, nil
	}

	outcomes, err := o.gw.Download(ctx, b.ID)
	if err != nil {
		// Download failure is transient from the state machine's view: the
		// batch stays active and the download is retried next pass.
		o.logger.Warn("download failed, will retry", "batch_id", b.ID, "error", err)
		return 0, nil
	}

	tally, err := o.ingestor.Ingest(b.ID, expected, outcomes)
	if err != nil {
		return 0, err
	}

	// Output files are durable before the batch rows disappear; a crash here
	// re-ingests idempotently on restart.
	if err := o.store.FinalizeBatch(b.ID, "completed"); err != nil {
		return 0, err
	}

	o.summary.add(tally)
	o.summary.BatchesCompleted++
	o.logger.Info("batch ingested",
		"batch_id", b.ID,
		"records", tally.Total,
		"succeeded", tally.Succeeded,
		"failed", tally.Failed,
		"already_done", tally.AlreadyDone)
	return tally.Total, nil
}
