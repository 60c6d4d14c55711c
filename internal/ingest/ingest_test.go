package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/AnsonDev42/gemini-ocr-batch/internal/gateway"
	"github.com/AnsonDev42/gemini-ocr-batch/internal/records"
	"github.com/AnsonDev42/gemini-ocr-batch/internal/store"
)

const validResponse = `{
	"page_text": "ARITHMETIC. Mental and written.",
	"curriculum_entries": [
		{"subject": "Arithmetic", "description": "Mental and written"}
	]
}`

func newTestIngestor(t *testing.T) (*Ingestor, *store.Store, records.Paths) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	paths := records.Paths{
		LabelRoot:  filepath.Join(dir, "labels"),
		ImageRoot:  filepath.Join(dir, "images"),
		OutputRoot: filepath.Join(dir, "output"),
	}

	call := CallContext{ModelName: "gemini-2.0-flash", PromptName: "ocr_page"}
	return New(st, paths, call, nil, nil), st, paths
}

func k1() records.Key { return records.Key{State: "AL", School: "Howard", Year: 1849, Page: 1} }
func k2() records.Key { return records.Key{State: "AL", School: "Howard", Year: 1849, Page: 2} }

func TestIngestSuccessWritesArtifact(t *testing.T) {
	ing, st, paths := newTestIngestor(t)

	tally, err := ing.Ingest("batches/b1", []records.Key{k1()}, []gateway.RecordOutcome{
		{Key: k1().String(), Text: validResponse},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if tally.Succeeded != 1 || tally.Failed != 0 {
		t.Fatalf("tally = %+v", tally)
	}

	if _, err := os.Stat(paths.OutputPath(k1())); err != nil {
		t.Fatalf("output file not written: %v", err)
	}

	counts, err := st.GetFailureCounts()
	if err != nil {
		t.Fatal(err)
	}
	if counts[k1().String()] != 0 {
		t.Error("success must not bump the failure counter")
	}
}

func TestIngestServiceError(t *testing.T) {
	ing, st, paths := newTestIngestor(t)

	tally, err := ing.Ingest("batches/b1", []records.Key{k1()}, []gateway.RecordOutcome{
		{Key: k1().String(), Raw: `{"status":{"code":13}}`, Err: &gateway.ServiceError{Code: 13, Message: "internal"}},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if tally.Failed != 1 || tally.KindCounts[store.KindServiceError] != 1 {
		t.Fatalf("tally = %+v", tally)
	}

	counts, _ := st.GetFailureCounts()
	if counts[k1().String()] != 1 {
		t.Errorf("failure count = %d, want 1", counts[k1().String()])
	}
	if _, err := os.Stat(paths.OutputPath(k1())); !os.IsNotExist(err) {
		t.Error("no output file may exist after a service error")
	}
}

func TestIngestValidationFailure(t *testing.T) {
	ing, st, _ := newTestIngestor(t)

	cases := map[string]struct {
		text string
		kind store.ErrorKind
	}{
		"bad json":         {`{"page_text": unterminated`, store.KindJSONDecodeError},
		"schema violation": {`{"page_text": "t"}`, store.KindSchemaValidation},
		"empty response":   {"", store.KindMissingResponse},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			tally, err := ing.Ingest("batches/b1", []records.Key{k1()}, []gateway.RecordOutcome{
				{Key: k1().String(), Text: tc.text, Raw: tc.text},
			})
			if err != nil {
				t.Fatalf("Ingest: %v", err)
			}
			if tally.KindCounts[tc.kind] != 1 {
				t.Errorf("tally = %+v, want one %s", tally, tc.kind)
			}
		})
	}

	counts, _ := st.GetFailureCounts()
	if counts[k1().String()] != 3 {
		t.Errorf("failure count = %d, want 3", counts[k1().String()])
	}
}

func TestIngestMissingInResult(t *testing.T) {
	ing, st, _ := newTestIngestor(t)

	tally, err := ing.Ingest("batches/b1", []records.Key{k1(), k2()}, []gateway.RecordOutcome{
		{Key: k1().String(), Text: validResponse},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if tally.Succeeded != 1 || tally.Failed != 1 {
		t.Fatalf("tally = %+v", tally)
	}
	if tally.KindCounts[store.KindMissingInResult] != 1 {
		t.Errorf("tally = %+v, want one missing_in_result", tally)
	}

	counts, _ := st.GetFailureCounts()
	if counts[k2().String()] != 1 {
		t.Errorf("missing record not counted: %v", counts)
	}
}

func TestIngestExtraResultNoBump(t *testing.T) {
	ing, st, _ := newTestIngestor(t)

	tally, err := ing.Ingest("batches/b1", []records.Key{k1()}, []gateway.RecordOutcome{
		{Key: k1().String(), Text: validResponse},
		{Key: "TX:Austin:1950:9", Text: validResponse},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if tally.KindCounts[store.KindResultKeyMismatch] != 1 {
		t.Fatalf("tally = %+v, want one result_key_mismatch", tally)
	}

	counts, _ := st.GetFailureCounts()
	if counts["TX:Austin:1950:9"] != 0 {
		t.Error("mismatched key must not be counted against any record")
	}
}

func TestIngestIdempotentWhenOutputExists(t *testing.T) {
	ing, st, paths := newTestIngestor(t)

	// First ingestion writes the file.
	if _, err := ing.Ingest("batches/b1", []records.Key{k1()}, []gateway.RecordOutcome{
		{Key: k1().String(), Text: validResponse},
	}); err != nil {
		t.Fatal(err)
	}

	before, err := os.ReadFile(paths.OutputPath(k1()))
	if err != nil {
		t.Fatal(err)
	}
	stat, _ := os.Stat(paths.OutputPath(k1()))
	mtime := stat.ModTime()

	// Re-ingesting the same results (crash-recovery replay) leaves the file
	// alone and bumps nothing, even for a now-failing outcome.
	tally, err := ing.Ingest("batches/b1", []records.Key{k1()}, []gateway.RecordOutcome{
		{Key: k1().String(), Err: &gateway.ServiceError{Code: 500, Message: "would fail"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if tally.AlreadyDone != 1 || tally.Failed != 0 {
		t.Fatalf("tally = %+v", tally)
	}

	after, _ := os.ReadFile(paths.OutputPath(k1()))
	if string(before) != string(after) {
		t.Error("output file changed on replay")
	}
	stat2, _ := os.Stat(paths.OutputPath(k1()))
	if !stat2.ModTime().Equal(mtime) {
		t.Error("output file rewritten on replay")
	}

	counts, _ := st.GetFailureCounts()
	if counts[k1().String()] != 0 {
		t.Error("replay bumped the failure counter")
	}
}

func TestWriteAtomicCreatesParents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "c.json")
	if err := writeAtomic(path, []byte("{}\n")); err != nil {
		t.Fatalf("writeAtomic: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "{}\n" {
		t.Fatalf("read back: %q, %v", data, err)
	}

	// No temp droppings left behind.
	entries, _ := os.ReadDir(filepath.Join(dir, "a", "b"))
	if len(entries) != 1 {
		t.Errorf("leftover files: %v", entries)
	}
}
