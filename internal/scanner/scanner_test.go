package scanner

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/AnsonDev42/gemini-ocr-batch/internal/records"
)

// touch creates an empty file at root/rel, making parent directories.
func touch(t *testing.T, root, rel string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testPaths(t *testing.T) records.Paths {
	t.Helper()
	dir := t.TempDir()
	p := records.Paths{
		LabelRoot:  filepath.Join(dir, "labels"),
		ImageRoot:  filepath.Join(dir, "images"),
		OutputRoot: filepath.Join(dir, "output"),
	}
	for _, d := range []string{p.LabelRoot, p.ImageRoot, p.OutputRoot} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return p
}

func scanKeys(t *testing.T, p records.Paths, opts Options, snap Snapshot) []string {
	t.Helper()
	if snap.Inflight == nil {
		snap.Inflight = map[string]string{}
	}
	if snap.FailureCounts == nil {
		snap.FailureCounts = map[string]int{}
	}
	keys, err := Scan(p, opts, snap, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

func TestSingleBookFirstWave(t *testing.T) {
	p := testPaths(t)
	for _, page := range []string{"1", "2", "3"} {
		touch(t, p.LabelRoot, "AL/Howard/1849/"+page+".json")
	}

	got := scanKeys(t, p, Options{MaxRetries: 3, Limit: 100}, Snapshot{})
	want := []string{"AL:Howard:1849:1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestDependencyUnblock(t *testing.T) {
	p := testPaths(t)
	for _, page := range []string{"1", "2", "3"} {
		touch(t, p.LabelRoot, "AL/Howard/1849/"+page+".json")
	}
	touch(t, p.OutputRoot, "AL/Howard/1849/1.json")

	got := scanKeys(t, p, Options{MaxRetries: 3, Limit: 100}, Snapshot{})
	want := []string{"AL:Howard:1849:2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestGapDependsOnPrecedingLabelledPage(t *testing.T) {
	p := testPaths(t)
	for _, page := range []string{"3", "4", "12"} {
		touch(t, p.LabelRoot, "AL/Howard/1849/"+page+".json")
	}
	opts := Options{MaxRetries: 3, Limit: 100}

	// The book starts where the label set starts.
	if got := scanKeys(t, p, opts, Snapshot{}); !reflect.DeepEqual(got, []string{"AL:Howard:1849:3"}) {
		t.Fatalf("wave 1: got %v", got)
	}

	touch(t, p.OutputRoot, "AL/Howard/1849/3.json")
	if got := scanKeys(t, p, opts, Snapshot{}); !reflect.DeepEqual(got, []string{"AL:Howard:1849:4"}) {
		t.Fatalf("wave 2: got %v", got)
	}

	// Page 12's predecessor in the labelled set is 4, not 11.
	touch(t, p.OutputRoot, "AL/Howard/1849/4.json")
	if got := scanKeys(t, p, opts, Snapshot{}); !reflect.DeepEqual(got, []string{"AL:Howard:1849:12"}) {
		t.Fatalf("wave 3: got %v", got)
	}
}

func TestDeadLetterExclusionAndReset(t *testing.T) {
	p := testPaths(t)
	touch(t, p.LabelRoot, "CA/Lincoln/2023/4.json")

	opts := Options{MaxRetries: 3, Limit: 100}
	snap := Snapshot{FailureCounts: map[string]int{"CA:Lincoln:2023:4": 4}}
	if got := scanKeys(t, p, opts, snap); len(got) != 0 {
		t.Fatalf("dead-lettered key scheduled: %v", got)
	}

	// A count equal to max_retries is still schedulable.
	snap = Snapshot{FailureCounts: map[string]int{"CA:Lincoln:2023:4": 3}}
	if got := scanKeys(t, p, opts, snap); !reflect.DeepEqual(got, []string{"CA:Lincoln:2023:4"}) {
		t.Fatalf("at-limit key not scheduled: %v", got)
	}

	// Reset clears the counter snapshot; the key comes back.
	if got := scanKeys(t, p, opts, Snapshot{}); !reflect.DeepEqual(got, []string{"CA:Lincoln:2023:4"}) {
		t.Fatalf("after reset: got %v", got)
	}
}

func TestInflightExcluded(t *testing.T) {
	p := testPaths(t)
	for _, page := range []string{"1", "2"} {
		touch(t, p.LabelRoot, "AL/Howard/1849/"+page+".json")
	}

	snap := Snapshot{Inflight: map[string]string{"AL:Howard:1849:1": "batches/b1"}}
	// Page 1 is in-flight; page 2's predecessor is not done, so nothing runs.
	if got := scanKeys(t, p, Options{MaxRetries: 3, Limit: 100}, snap); len(got) != 0 {
		t.Fatalf("got %v, want empty", got)
	}
}

func TestDeadPredecessorBlocksSuccessor(t *testing.T) {
	p := testPaths(t)
	for _, page := range []string{"1", "2"} {
		touch(t, p.LabelRoot, "AL/Howard/1849/"+page+".json")
	}

	snap := Snapshot{FailureCounts: map[string]int{"AL:Howard:1849:1": 4}}
	if got := scanKeys(t, p, Options{MaxRetries: 3, Limit: 100}, snap); len(got) != 0 {
		t.Fatalf("successor of dead page scheduled: %v", got)
	}
}

func TestMultipleBooksOneEligibleEach(t *testing.T) {
	p := testPaths(t)
	for _, rel := range []string{
		"AL/Howard/1849/1.json", "AL/Howard/1849/2.json",
		"CA/Lincoln/2023/1.json", "CA/Lincoln/2023/2.json",
	} {
		touch(t, p.LabelRoot, rel)
	}

	got := scanKeys(t, p, Options{MaxRetries: 3, Limit: 100}, Snapshot{})
	want := []string{"AL:Howard:1849:1", "CA:Lincoln:2023:1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestBatchSizeLimitTruncates(t *testing.T) {
	p := testPaths(t)
	touch(t, p.LabelRoot, "AL/Howard/1849/1.json")
	touch(t, p.LabelRoot, "CA/Lincoln/2023/1.json")

	got := scanKeys(t, p, Options{MaxRetries: 3, Limit: 1}, Snapshot{})
	want := []string{"AL:Howard:1849:1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestStateAndYearFilters(t *testing.T) {
	p := testPaths(t)
	touch(t, p.LabelRoot, "AL/Howard/1849/1.json")
	touch(t, p.LabelRoot, "AL/Howard/1902/1.json")
	touch(t, p.LabelRoot, "CA/Lincoln/2023/1.json")

	t.Run("state allow-list", func(t *testing.T) {
		got := scanKeys(t, p, Options{States: []string{"CA"}, MaxRetries: 3, Limit: 100}, Snapshot{})
		if !reflect.DeepEqual(got, []string{"CA:Lincoln:2023:1"}) {
			t.Fatalf("got %v", got)
		}
	})

	t.Run("year range", func(t *testing.T) {
		got := scanKeys(t, p, Options{YearStart: 1800, YearEnd: 1900, MaxRetries: 3, Limit: 100}, Snapshot{})
		if !reflect.DeepEqual(got, []string{"AL:Howard:1849:1"}) {
			t.Fatalf("got %v", got)
		}
	})
}

func TestUnparsableLabelsSkipped(t *testing.T) {
	p := testPaths(t)
	touch(t, p.LabelRoot, "AL/Howard/1849/1.json")
	touch(t, p.LabelRoot, "AL/Howard/1849/cover.json")
	touch(t, p.LabelRoot, "AL/Howard/notayear/1.json")

	got := scanKeys(t, p, Options{MaxRetries: 3, Limit: 100}, Snapshot{})
	if !reflect.DeepEqual(got, []string{"AL:Howard:1849:1"}) {
		t.Fatalf("got %v", got)
	}
}

func TestScanDeterministic(t *testing.T) {
	p := testPaths(t)
	for _, rel := range []string{
		"AL/Howard/1849/1.json",
		"CA/Lincoln/2023/1.json",
		"TX/Austin/1950/1.json",
	} {
		touch(t, p.LabelRoot, rel)
	}

	first := scanKeys(t, p, Options{MaxRetries: 3, Limit: 100}, Snapshot{})
	for i := 0; i < 5; i++ {
		again := scanKeys(t, p, Options{MaxRetries: 3, Limit: 100}, Snapshot{})
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("scan %d differs: %v vs %v", i, first, again)
		}
	}
}

func TestDoneInterleavedPagesKeepWalking(t *testing.T) {
	p := testPaths(t)
	for _, page := range []string{"1", "2", "3"} {
		touch(t, p.LabelRoot, "AL/Howard/1849/"+page+".json")
	}
	// Pages 1 and 2 done: the walk skips them and page 3 is eligible.
	touch(t, p.OutputRoot, "AL/Howard/1849/1.json")
	touch(t, p.OutputRoot, "AL/Howard/1849/2.json")

	got := scanKeys(t, p, Options{MaxRetries: 3, Limit: 100}, Snapshot{})
	if !reflect.DeepEqual(got, []string{"AL:Howard:1849:3"}) {
		t.Fatalf("got %v", got)
	}
}
