// Package scanner derives the next runnable set of record keys from the
// filesystem and a snapshot of orchestrator state.
//
// The scan is a pure function of its inputs: identical label trees, output
// trees, and snapshots produce an identical, stable-ordered result.
package scanner

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/AnsonDev42/gemini-ocr-batch/internal/records"
)

// Options bound and filter a scan.
type Options struct {
	// States is an allow-list of state names. Empty means all states.
	States []string
	// YearStart/YearEnd form an inclusive range. Zero disables the bound.
	YearStart int
	YearEnd   int
	// MaxRetries: records whose failure count strictly exceeds this are dead.
	MaxRetries int
	// Limit truncates the result. Zero or negative means no limit.
	Limit int
}

// Snapshot carries the state-store reads the scan depends on.
type Snapshot struct {
	// Inflight maps record key string -> owning batch id.
	Inflight map[string]string
	// FailureCounts maps record key string -> failure count.
	FailureCounts map[string]int
}

// Scan returns the eligible record keys, sorted by (state, school, year, page)
// and truncated at opts.Limit.
//
// A page is eligible when it has a label file, no output file, is not
// in-flight, is not dead-lettered, and is either the first labelled page in
// its book or its immediately preceding labelled page is done. Labels whose
// paths fail to parse are skipped with a warning.
func Scan(paths records.Paths, opts Options, snap Snapshot, logger *slog.Logger) ([]records.Key, error) {
	if logger == nil {
		logger = slog.Default()
	}

	books, err := enumerate(paths.LabelRoot, opts, logger)
	if err != nil {
		return nil, err
	}

	// Deterministic book order: state, school, then numeric year.
	bookKeys := make([]records.Book, 0, len(books))
	for b := range books {
		bookKeys = append(bookKeys, b)
	}
	sort.Slice(bookKeys, func(i, j int) bool {
		a, b := bookKeys[i], bookKeys[j]
		if a.State != b.State {
			return a.State < b.State
		}
		if a.School != b.School {
			return a.School < b.School
		}
		return a.Year < b.Year
	})

	var eligible []records.Key
	for _, b := range bookKeys {
		pages := books[b]
		sort.Slice(pages, func(i, j int) bool { return pages[i].Page < pages[j].Page })

		// prevDone tracks whether the immediately preceding labelled page is
		// done. The first labelled page is dependency-free, wherever the
		// label set starts.
		prevDone := true
	walk:
		for _, k := range pages {
			switch {
			case outputExists(paths, k):
				prevDone = true
			case snap.FailureCounts[k.String()] > opts.MaxRetries:
				// Dead: skipped, but it does not satisfy the successor's
				// dependency.
				prevDone = false
			case hasInflight(snap, k):
				prevDone = false
			case prevDone:
				eligible = append(eligible, k)
				prevDone = false
			default:
				// Blocked: no later page in this book can run this wave.
				break walk
			}
		}
	}

	sort.Slice(eligible, func(i, j int) bool { return eligible[i].Less(eligible[j]) })
	if opts.Limit > 0 && len(eligible) > opts.Limit {
		eligible = eligible[:opts.Limit]
	}
	return eligible, nil
}

// enumerate walks label_root/state/school/year/page.json and groups parsed
// keys by book, applying the state and year filters.
func enumerate(labelRoot string, opts Options, logger *slog.Logger) (map[records.Book][]records.Key, error) {
	books := make(map[records.Book][]records.Key)

	states, err := os.ReadDir(labelRoot)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]bool, len(opts.States))
	for _, s := range opts.States {
		allowed[s] = true
	}

	for _, stateEnt := range states {
		if !stateEnt.IsDir() {
			continue
		}
		state := stateEnt.Name()
		if len(allowed) > 0 && !allowed[state] {
			continue
		}

		schools, err := os.ReadDir(filepath.Join(labelRoot, state))
		if err != nil {
			return nil, err
		}
		for _, schoolEnt := range schools {
			if !schoolEnt.IsDir() {
				continue
			}
			school := schoolEnt.Name()

			years, err := os.ReadDir(filepath.Join(labelRoot, state, school))
			if err != nil {
				return nil, err
			}
			for _, yearEnt := range years {
				if !yearEnt.IsDir() {
					continue
				}

				labels, err := os.ReadDir(filepath.Join(labelRoot, state, school, yearEnt.Name()))
				if err != nil {
					return nil, err
				}
				for _, labelEnt := range labels {
					if labelEnt.IsDir() {
						continue
					}
					rel := state + "/" + school + "/" + yearEnt.Name() + "/" + labelEnt.Name()
					k, err := records.KeyFromLabelPath(rel)
					if err != nil {
						logger.Warn("skipping unparsable label", "path", rel, "error", err)
						continue
					}
					if opts.YearStart != 0 && k.Year < opts.YearStart {
						continue
					}
					if opts.YearEnd != 0 && k.Year > opts.YearEnd {
						continue
					}
					books[k.Book()] = append(books[k.Book()], k)
				}
			}
		}
	}
	return books, nil
}

func outputExists(paths records.Paths, k records.Key) bool {
	_, err := os.Stat(paths.OutputPath(k))
	return err == nil
}

func hasInflight(snap Snapshot, k records.Key) bool {
	_, ok := snap.Inflight[k.String()]
	return ok
}
