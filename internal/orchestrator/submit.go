package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/AnsonDev42/gemini-ocr-batch/internal/gateway"
	"github.com/AnsonDev42/gemini-ocr-batch/internal/prompts"
	"github.com/AnsonDev42/gemini-ocr-batch/internal/records"
	"github.com/AnsonDev42/gemini-ocr-batch/internal/scanner"
	"github.com/AnsonDev42/gemini-ocr-batch/internal/store"
)

func promptVars(k records.Key, label, prior string) prompts.Vars {
	return prompts.Vars{
		State:     k.State,
		School:    k.School,
		Year:      k.Year,
		Page:      k.Page,
		Label:     label,
		PriorText: prior,
	}
}

// submitNew fills free concurrency slots with freshly scanned waves.
// Returns the number of records submitted.
//
// The scanner re-runs inside the loop: each successful submission marks its
// keys in-flight, so the next scan cannot hand out the same keys.
func (o *Orchestrator) submitNew(ctx context.Context) (int, error) {
	submitted := 0

	for {
		if err := ctx.Err(); err != nil {
			return submitted, err
		}

		active, err := o.store.ListActiveBatches()
		if err != nil {
			return submitted, err
		}
		if len(active) >= o.cfg.MaxConcurrentBatches {
			return submitted, nil
		}

		inflight, err := o.store.GetInflight()
		if err != nil {
			return submitted, err
		}
		failures, err := o.store.GetFailureCounts()
		if err != nil {
			return submitted, err
		}

		keys, err := scanner.Scan(o.cfg.Paths, o.cfg.Scan,
			scanner.Snapshot{Inflight: inflight, FailureCounts: failures}, o.logger)
		if err != nil {
			return submitted, fmt.Errorf("scan: %w", err)
		}
		if len(keys) == 0 {
			return submitted, nil
		}

		items, err := o.buildItems(keys)
		if err != nil {
			return submitted, err
		}

		displayName := fmt.Sprintf("%s-%s", o.cfg.DisplayNamePrefix, uuid.New().String()[:8])
		batchID, err := o.gw.Submit(ctx, displayName, items)
		if err != nil {
			// Submission failure: log each key, no batch row, no in-flight
			// rows. The keys stay eligible for a later run.
			o.logger.Error("submission failed", "display_name", displayName, "error", err)
			for _, k := range keys {
				if logErr := o.store.AppendFailureLog(store.FailureLogRow{
					RecordKey:    k.String(),
					ErrorKind:    store.KindSubmissionFailure,
					ErrorMessage: err.Error(),
				}); logErr != nil {
					return submitted, logErr
				}
			}
			o.summary.KindCounts[store.KindSubmissionFailure] += len(keys)
			return submitted, nil
		}

		// The batch exists remotely; make it durable before anything else.
		if err := o.store.AddBatch(batchID, displayName, keys); err != nil {
			return submitted, err
		}

		submitted += len(keys)
		o.summary.BatchesSubmitted++
		o.summary.RecordsSubmitted += len(keys)
		o.logger.Info("batch submitted",
			"batch_id", batchID, "display_name", displayName, "records", len(keys))
	}
}

// buildItems renders the per-record payloads: label content, predecessor
// text, and the rendered prompt.
func (o *Orchestrator) buildItems(keys []records.Key) ([]gateway.RequestItem, error) {
	items := make([]gateway.RequestItem, 0, len(keys))
	for _, k := range keys {
		label, err := os.ReadFile(o.cfg.Paths.LabelPath(k))
		if err != nil {
			return nil, fmt.Errorf("read label for %s: %w", k, err)
		}

		prior, err := o.priorText(k)
		if err != nil {
			return nil, err
		}

		rendered, err := o.prompt.Render(promptVars(k, string(label), prior))
		if err != nil {
			return nil, err
		}

		items = append(items, gateway.RequestItem{
			Key:       k.String(),
			ImagePath: o.cfg.Paths.ImagePath(k),
			Prompt:    rendered,
		})
	}
	return items, nil
}

// priorText returns the transcribed text of the immediately preceding
// labelled page, when that page is done. Eligibility already guarantees the
// predecessor is done for any non-first page, so a missing artifact here
// simply yields no prior text.
func (o *Orchestrator) priorText(k records.Key) (string, error) {
	labelDir := filepath.Dir(o.cfg.Paths.LabelPath(k))
	entries, err := os.ReadDir(labelDir)
	if err != nil {
		return "", fmt.Errorf("read label dir for %s: %w", k, err)
	}

	var pages []int
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		page, err := strconv.Atoi(name[:len(name)-len(".json")])
		if err != nil || page <= 0 {
			continue
		}
		if page < k.Page {
			pages = append(pages, page)
		}
	}
	if len(pages) == 0 {
		return "", nil
	}
	sort.Ints(pages)
	prev := records.Key{State: k.State, School: k.School, Year: k.Year, Page: pages[len(pages)-1]}

	data, err := os.ReadFile(o.cfg.Paths.OutputPath(prev))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read predecessor output for %s: %w", k, err)
	}

	var artifact struct {
		PageText string `json:"page_text"`
	}
	if err := json.Unmarshal(data, &artifact); err != nil {
		// The artifact was validated when written; a parse failure here
		// means manual tampering. Treat as no prior text.
		o.logger.Warn("unreadable predecessor artifact", "record_key", prev.String(), "error", err)
		return "", nil
	}
	return artifact.PageText, nil
}
