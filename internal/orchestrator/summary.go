package orchestrator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/AnsonDev42/gemini-ocr-batch/internal/ingest"
	"github.com/AnsonDev42/gemini-ocr-batch/internal/records"
	"github.com/AnsonDev42/gemini-ocr-batch/internal/store"
)

// Summary is the per-run artifact: what moved, what failed, and why.
type Summary struct {
	StartedAt        time.Time               `json:"started_at"`
	FinishedAt       time.Time               `json:"finished_at"`
	BatchesSubmitted int                     `json:"batches_submitted"`
	BatchesCompleted int                     `json:"batches_completed"`
	BatchesFailed    int                     `json:"batches_failed"`
	RecordsSubmitted int                     `json:"records_submitted"`
	RecordsSucceeded int                     `json:"records_succeeded"`
	RecordsFailed    int                     `json:"records_failed"`
	AlreadyDone      int                     `json:"already_done"`
	KindCounts       map[store.ErrorKind]int `json:"kind_counts"`
	TopFailing       []store.RecordFailures  `json:"top_failing,omitempty"`
}

func newSummary() *Summary {
	return &Summary{
		StartedAt:  time.Now().UTC(),
		KindCounts: make(map[store.ErrorKind]int),
	}
}

func (s *Summary) add(t *ingest.Tally) {
	s.RecordsSucceeded += t.Succeeded
	s.RecordsFailed += t.Failed
	s.AlreadyDone += t.AlreadyDone
	for kind, n := range t.KindCounts {
		s.KindCounts[kind] += n
	}
}

// Write persists the summary as JSON under the output root's _runs directory
// and returns the file path.
func (s *Summary) Write(paths records.Paths) (string, error) {
	dir := paths.RunsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create runs dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("run-%s.json", s.StartedAt.Format("20060102-150405")))
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	return path, nil
}

// Log emits the human-readable form.
func (s *Summary) Log(logger *slog.Logger) {
	logger.Info("run summary",
		"batches_submitted", s.BatchesSubmitted,
		"batches_completed", s.BatchesCompleted,
		"batches_failed", s.BatchesFailed,
		"records_submitted", s.RecordsSubmitted,
		"records_succeeded", s.RecordsSucceeded,
		"records_failed", s.RecordsFailed,
		"already_done", s.AlreadyDone,
		"duration", s.FinishedAt.Sub(s.StartedAt).Round(time.Second).String())

	for kind, n := range s.KindCounts {
		logger.Info("failures by kind", "error_kind", string(kind), "count", n)
	}
	for _, rf := range s.TopFailing {
		logger.Info("top failing record", "record_key", rf.RecordKey, "failures", rf.Count)
	}
}
