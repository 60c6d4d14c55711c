package store

import (
	"fmt"
	"time"
)

// ErrorKind classifies a failure-log row. Every non-success outcome maps to
// exactly one kind.
type ErrorKind string

const (
	KindServiceError         ErrorKind = "service_error"
	KindJSONDecodeError      ErrorKind = "json_decode_error"
	KindSchemaValidation     ErrorKind = "schema_validation_error"
	KindMissingResponse      ErrorKind = "missing_response"
	KindMissingInResult      ErrorKind = "missing_in_result"
	KindResultKeyMismatch    ErrorKind = "result_key_mismatch"
	KindBatchTerminalFailure ErrorKind = "batch_terminal_failure"
	KindSubmissionFailure    ErrorKind = "submission_failure"
	KindOther                ErrorKind = "other"
)

// FailureLogRow is one append-only failure record.
type FailureLogRow struct {
	RecordKey        string
	BatchID          string
	Attempt          int
	ErrorKind        ErrorKind
	ErrorMessage     string
	ErrorTrace       string
	RawResponse      string
	ExtractedText    string
	RawBlob          string
	ModelName        string
	PromptName       string
	PromptTemplate   string
	GenerationConfig string
	CreatedAt        time.Time
}

// AppendFailureLog inserts one failure-log row.
func (s *Store) AppendFailureLog(row FailureLogRow) error {
	_, err := s.db.Exec(`
		INSERT INTO failure_log (
			record_key, batch_id, attempt, error_kind, error_message, error_trace,
			raw_response, extracted_text, raw_blob,
			model_name, prompt_name, prompt_template, generation_config
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.RecordKey, row.BatchID, row.Attempt, string(row.ErrorKind),
		row.ErrorMessage, row.ErrorTrace,
		row.RawResponse, row.ExtractedText, row.RawBlob,
		row.ModelName, row.PromptName, row.PromptTemplate, row.GenerationConfig,
	)
	if err != nil {
		return wrapErr(fmt.Errorf("append failure log for %s: %w", row.RecordKey, err))
	}
	return nil
}

// FailureKindCounts returns failure-log row counts grouped by error kind.
// Used by the status command.
func (s *Store) FailureKindCounts() (map[ErrorKind]int, error) {
	rows, err := s.db.Query(`SELECT error_kind, COUNT(*) FROM failure_log GROUP BY error_kind`)
	if err != nil {
		return nil, wrapErr(fmt.Errorf("failure kind counts: %w", err))
	}
	defer rows.Close()

	out := make(map[ErrorKind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, wrapErr(fmt.Errorf("failure kind counts: %w", err))
		}
		out[ErrorKind(kind)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(fmt.Errorf("failure kind counts: %w", err))
	}
	return out, nil
}

// TopFailingRecords returns the records with the highest failure counts,
// limited to n, count-descending then key-ascending.
func (s *Store) TopFailingRecords(n int) ([]RecordFailures, error) {
	rows, err := s.db.Query(`
		SELECT record_key, count FROM failure_counts
		ORDER BY count DESC, record_key ASC
		LIMIT ?`, n)
	if err != nil {
		return nil, wrapErr(fmt.Errorf("top failing records: %w", err))
	}
	defer rows.Close()

	var out []RecordFailures
	for rows.Next() {
		var rf RecordFailures
		if err := rows.Scan(&rf.RecordKey, &rf.Count); err != nil {
			return nil, wrapErr(fmt.Errorf("top failing records: %w", err))
		}
		out = append(out, rf)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(fmt.Errorf("top failing records: %w", err))
	}
	return out, nil
}

// RecordFailures pairs a record key with its failure count.
type RecordFailures struct {
	RecordKey string `json:"record_key"`
	Count     int    `json:"count"`
}
