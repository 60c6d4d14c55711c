// Package ingest applies a downloaded result set to the output tree and the
// state store.
//
// Output files are written atomically (temp + rename) before the owning
// batch is finalized, so a crash between the two is recoverable: re-ingesting
// the same results finds the files already present and leaves those pages
// alone, with no counter bump. Records that failed are bumped and logged
// again on a re-ingest.
package ingest

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AnsonDev42/gemini-ocr-batch/internal/gateway"
	"github.com/AnsonDev42/gemini-ocr-batch/internal/obsink"
	"github.com/AnsonDev42/gemini-ocr-batch/internal/records"
	"github.com/AnsonDev42/gemini-ocr-batch/internal/store"
	"github.com/AnsonDev42/gemini-ocr-batch/internal/validate"
)

// CallContext carries the model and prompt provenance recorded on every
// failure-log row.
type CallContext struct {
	ModelName        string
	PromptName       string
	PromptTemplate   string
	GenerationConfig string
}

// Ingestor processes per-record outcomes for one batch at a time.
type Ingestor struct {
	store  *store.Store
	paths  records.Paths
	call   CallContext
	sink   *obsink.Sink
	logger *slog.Logger
}

// New creates an Ingestor. sink may be nil.
func New(st *store.Store, paths records.Paths, call CallContext, sink *obsink.Sink, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{store: st, paths: paths, call: call, sink: sink, logger: logger}
}

// Tally summarizes one batch's ingestion for the wave summary.
type Tally struct {
	Total        int                     `json:"total"`
	Succeeded    int                     `json:"succeeded"`
	AlreadyDone  int                     `json:"already_done"`
	Failed       int                     `json:"failed"`
	KindCounts   map[store.ErrorKind]int `json:"kind_counts"`
	FailedKeys   []string                `json:"failed_keys"`
	MismatchKeys []string                `json:"mismatch_keys"`
}

func newTally() *Tally {
	return &Tally{KindCounts: make(map[store.ErrorKind]int)}
}

// Ingest matches outcomes against the expected keys of a batch and applies
// each one: artifacts for validated successes, counter bumps and log rows for
// everything else.
func (i *Ingestor) Ingest(batchID string, expected []records.Key, outcomes []gateway.RecordOutcome) (*Tally, error) {
	tally := newTally()
	tally.Total = len(expected)

	expectedSet := make(map[string]records.Key, len(expected))
	for _, k := range expected {
		expectedSet[k.String()] = k
	}

	seen := make(map[string]bool, len(outcomes))
	for _, outcome := range outcomes {
		k, ok := expectedSet[outcome.Key]
		if !ok || seen[outcome.Key] {
			// Extra or duplicate results are logged but never counted
			// against any record.
			tally.MismatchKeys = append(tally.MismatchKeys, outcome.Key)
			tally.KindCounts[store.KindResultKeyMismatch]++
			if err := i.store.AppendFailureLog(i.row(outcome.Key, batchID, 0, store.KindResultKeyMismatch,
				fmt.Sprintf("result key %q not expected in batch", outcome.Key), outcome)); err != nil {
				return nil, err
			}
			continue
		}
		seen[outcome.Key] = true

		if err := i.ingestOne(batchID, k, outcome, tally); err != nil {
			return nil, err
		}
	}

	// Expected keys the service never answered for.
	for _, k := range expected {
		if seen[k.String()] {
			continue
		}
		if err := i.recordFailure(batchID, k, store.KindMissingInResult,
			"record missing from result set", gateway.RecordOutcome{Key: k.String()}, tally); err != nil {
			return nil, err
		}
	}

	return tally, nil
}

func (i *Ingestor) ingestOne(batchID string, k records.Key, outcome gateway.RecordOutcome, tally *Tally) error {
	// Idempotence: a page already done is left alone, with no counter bump.
	if _, err := os.Stat(i.paths.OutputPath(k)); err == nil {
		tally.AlreadyDone++
		return nil
	}

	if outcome.Err != nil {
		msg := fmt.Sprintf("service error %d: %s", outcome.Err.Code, outcome.Err.Message)
		return i.recordFailure(batchID, k, store.KindServiceError, msg, outcome, tally)
	}

	artifact, verr := validate.Validate(outcome.Text)
	if verr != nil {
		return i.recordValidationFailure(batchID, k, verr, outcome, tally)
	}

	if err := writeAtomic(i.paths.OutputPath(k), artifact.JSON); err != nil {
		return fmt.Errorf("write output for %s: %w", k, err)
	}
	tally.Succeeded++

	i.emit(k, batchID, "", "done")
	i.logger.Info("record done", "record_key", k.String(), "batch_id", batchID)
	return nil
}

// recordValidationFailure preserves the extracted text alongside the raw
// response before the usual bump-and-log path.
func (i *Ingestor) recordValidationFailure(batchID string, k records.Key, verr *validate.Error, outcome gateway.RecordOutcome, tally *Tally) error {
	kind := validationKind(verr.Kind)
	attempt, err := i.store.BumpFailure(k)
	if err != nil {
		return err
	}
	row := i.row(k.String(), batchID, attempt, kind, verr.Message, outcome)
	row.ExtractedText = verr.ExtractedText
	if err := i.store.AppendFailureLog(row); err != nil {
		return err
	}

	tally.Failed++
	tally.KindCounts[kind]++
	tally.FailedKeys = append(tally.FailedKeys, k.String())

	i.emit(k, batchID, string(kind), "failed")
	i.logger.Warn("record failed",
		"record_key", k.String(),
		"batch_id", batchID,
		"error_kind", string(kind),
		"attempt", attempt,
		"error", verr.Message)
	return nil
}

// recordFailure bumps the counter, appends the log row, and updates the tally.
func (i *Ingestor) recordFailure(batchID string, k records.Key, kind store.ErrorKind, msg string, outcome gateway.RecordOutcome, tally *Tally) error {
	attempt, err := i.store.BumpFailure(k)
	if err != nil {
		return err
	}
	if err := i.store.AppendFailureLog(i.row(k.String(), batchID, attempt, kind, msg, outcome)); err != nil {
		return err
	}

	tally.Failed++
	tally.KindCounts[kind]++
	tally.FailedKeys = append(tally.FailedKeys, k.String())

	i.emit(k, batchID, string(kind), "failed")
	i.logger.Warn("record failed",
		"record_key", k.String(),
		"batch_id", batchID,
		"error_kind", string(kind),
		"attempt", attempt,
		"error", msg)
	return nil
}

func (i *Ingestor) row(key, batchID string, attempt int, kind store.ErrorKind, msg string, outcome gateway.RecordOutcome) store.FailureLogRow {
	return store.FailureLogRow{
		RecordKey:        key,
		BatchID:          batchID,
		Attempt:          attempt,
		ErrorKind:        kind,
		ErrorMessage:     msg,
		RawResponse:      outcome.Text,
		RawBlob:          outcome.Raw,
		ModelName:        i.call.ModelName,
		PromptName:       i.call.PromptName,
		PromptTemplate:   i.call.PromptTemplate,
		GenerationConfig: i.call.GenerationConfig,
	}
}

func (i *Ingestor) emit(k records.Key, batchID, kind, status string) {
	if i.sink == nil {
		return
	}
	i.sink.Emit(obsink.RecordContext{
		RecordKey: k.String(),
		BatchID:   batchID,
		Status:    status,
		ErrorKind: kind,
		ModelName: i.call.ModelName,
	})
}

func validationKind(k validate.Kind) store.ErrorKind {
	switch k {
	case validate.KindJSONDecode:
		return store.KindJSONDecodeError
	case validate.KindSchema:
		return store.KindSchemaValidation
	case validate.KindMissingResponse:
		return store.KindMissingResponse
	default:
		return store.KindOther
	}
}

// writeAtomic writes data to path via a temp file and rename, creating parent
// directories as needed.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
