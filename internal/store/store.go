// Package store is the durable state store coordinating active batches,
// in-flight record keys, failure counters, and failure logs.
//
// It is a single local SQLite database. Each exported operation runs in one
// transaction; readers see consistent snapshots. One orchestrator process
// owns the write handle at a time.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AnsonDev42/gemini-ocr-batch/internal/records"
)

var (
	// ErrBatchExists is returned by AddBatch when the batch id is already known.
	ErrBatchExists = errors.New("batch id already exists")

	// ErrRecordInflight is returned by AddBatch when a key is already in-flight.
	ErrRecordInflight = errors.New("record already in-flight")

	// ErrBatchNotActive is returned by FinalizeBatch when the batch is missing
	// or already terminal.
	ErrBatchNotActive = errors.New("batch not active")

	// ErrCorrupt marks unrecoverable database corruption. The process should
	// exit with a distinct code when it sees this.
	ErrCorrupt = errors.New("state store corrupt")
)

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// ActiveBatch describes one batch row.
type ActiveBatch struct {
	ID          string
	DisplayName string
	Status      string
	CreatedAt   time.Time
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(path string) (*Store, error) {
	// _pragma values: WAL keeps readers unblocked during the single writer's
	// transactions; busy_timeout covers same-process connection contention.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, wrapErr(fmt.Errorf("open database: %w", err))
	}

	// The store serializes writes through one connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, wrapErr(fmt.Errorf("apply schema: %w", err))
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ListActiveBatches returns all batches with status active, id-ascending.
func (s *Store) ListActiveBatches() ([]ActiveBatch, error) {
	rows, err := s.db.Query(`
		SELECT batch_id, display_name, status, created_at
		FROM batches
		WHERE status = 'active'
		ORDER BY batch_id ASC`)
	if err != nil {
		return nil, wrapErr(fmt.Errorf("list active batches: %w", err))
	}
	defer rows.Close()

	var out []ActiveBatch
	for rows.Next() {
		var b ActiveBatch
		var createdAt string
		if err := rows.Scan(&b.ID, &b.DisplayName, &b.Status, &createdAt); err != nil {
			return nil, wrapErr(fmt.Errorf("scan batch row: %w", err))
		}
		b.CreatedAt = parseTime(createdAt)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(fmt.Errorf("list active batches: %w", err))
	}
	return out, nil
}

// AddBatch records a newly submitted batch: the batch row, its membership
// rows, and the in-flight rows, all-or-nothing.
func (s *Store) AddBatch(batchID, displayName string, keys []records.Key) error {
	if len(keys) == 0 {
		return fmt.Errorf("add batch %s: no record keys", batchID)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return wrapErr(fmt.Errorf("add batch %s: begin: %w", batchID, err))
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM batches WHERE batch_id = ?`, batchID).Scan(&n); err != nil {
		return wrapErr(fmt.Errorf("add batch %s: %w", batchID, err))
	}
	if n > 0 {
		return fmt.Errorf("add batch %s: %w", batchID, ErrBatchExists)
	}

	if _, err := tx.Exec(
		`INSERT INTO batches (batch_id, display_name, status) VALUES (?, ?, 'active')`,
		batchID, displayName,
	); err != nil {
		return wrapErr(fmt.Errorf("add batch %s: %w", batchID, err))
	}

	memberStmt, err := tx.Prepare(`INSERT INTO batch_records (batch_id, record_key) VALUES (?, ?)`)
	if err != nil {
		return wrapErr(fmt.Errorf("add batch %s: %w", batchID, err))
	}
	defer memberStmt.Close()

	inflightStmt, err := tx.Prepare(`INSERT INTO inflight (record_key, batch_id) VALUES (?, ?)`)
	if err != nil {
		return wrapErr(fmt.Errorf("add batch %s: %w", batchID, err))
	}
	defer inflightStmt.Close()

	for _, k := range keys {
		key := k.String()
		if _, err := memberStmt.Exec(batchID, key); err != nil {
			return wrapErr(fmt.Errorf("add batch %s: member %s: %w", batchID, key, err))
		}
		if _, err := inflightStmt.Exec(key, batchID); err != nil {
			if isConstraintErr(err) {
				return fmt.Errorf("add batch %s: key %s: %w", batchID, key, ErrRecordInflight)
			}
			return wrapErr(fmt.Errorf("add batch %s: inflight %s: %w", batchID, key, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapErr(fmt.Errorf("add batch %s: commit: %w", batchID, err))
	}
	return nil
}

// FinalizeBatch marks an active batch terminal, deleting its membership and
// in-flight rows in the same transaction.
func (s *Store) FinalizeBatch(batchID, terminalStatus string) error {
	if terminalStatus != "completed" && terminalStatus != "failed" {
		return fmt.Errorf("finalize batch %s: invalid terminal status %q", batchID, terminalStatus)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return wrapErr(fmt.Errorf("finalize batch %s: begin: %w", batchID, err))
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE batches SET status = ?, finalized_at = CURRENT_TIMESTAMP
		 WHERE batch_id = ? AND status = 'active'`,
		terminalStatus, batchID,
	)
	if err != nil {
		return wrapErr(fmt.Errorf("finalize batch %s: %w", batchID, err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapErr(fmt.Errorf("finalize batch %s: %w", batchID, err))
	}
	if affected == 0 {
		return fmt.Errorf("finalize batch %s: %w", batchID, ErrBatchNotActive)
	}

	if _, err := tx.Exec(`DELETE FROM batch_records WHERE batch_id = ?`, batchID); err != nil {
		return wrapErr(fmt.Errorf("finalize batch %s: %w", batchID, err))
	}
	if _, err := tx.Exec(`DELETE FROM inflight WHERE batch_id = ?`, batchID); err != nil {
		return wrapErr(fmt.Errorf("finalize batch %s: %w", batchID, err))
	}

	if err := tx.Commit(); err != nil {
		return wrapErr(fmt.Errorf("finalize batch %s: commit: %w", batchID, err))
	}
	return nil
}

// BatchMembers returns the record keys belonging to an active batch.
func (s *Store) BatchMembers(batchID string) ([]records.Key, error) {
	rows, err := s.db.Query(
		`SELECT record_key FROM batch_records WHERE batch_id = ? ORDER BY record_key`, batchID)
	if err != nil {
		return nil, wrapErr(fmt.Errorf("batch members %s: %w", batchID, err))
	}
	defer rows.Close()

	var keys []records.Key
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, wrapErr(fmt.Errorf("batch members %s: %w", batchID, err))
		}
		k, err := records.ParseKey(raw)
		if err != nil {
			return nil, fmt.Errorf("batch members %s: stored key %q: %w: %v", batchID, raw, ErrCorrupt, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(fmt.Errorf("batch members %s: %w", batchID, err))
	}
	return keys, nil
}

// GetInflight returns record key -> owning batch id for all in-flight records.
func (s *Store) GetInflight() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT record_key, batch_id FROM inflight`)
	if err != nil {
		return nil, wrapErr(fmt.Errorf("get inflight: %w", err))
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, batch string
		if err := rows.Scan(&key, &batch); err != nil {
			return nil, wrapErr(fmt.Errorf("get inflight: %w", err))
		}
		out[key] = batch
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(fmt.Errorf("get inflight: %w", err))
	}
	return out, nil
}

// GetFailureCounts returns record key -> failure count for all counted records.
func (s *Store) GetFailureCounts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT record_key, count FROM failure_counts`)
	if err != nil {
		return nil, wrapErr(fmt.Errorf("get failure counts: %w", err))
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, wrapErr(fmt.Errorf("get failure counts: %w", err))
		}
		out[key] = count
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(fmt.Errorf("get failure counts: %w", err))
	}
	return out, nil
}

// BumpFailure increments a record's failure count and returns the new value.
func (s *Store) BumpFailure(k records.Key) (int, error) {
	var count int
	err := s.db.QueryRow(`
		INSERT INTO failure_counts (record_key, state, school, year, count)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(record_key) DO UPDATE SET count = count + 1
		RETURNING count`,
		k.String(), k.State, k.School, k.Year,
	).Scan(&count)
	if err != nil {
		return 0, wrapErr(fmt.Errorf("bump failure %s: %w", k, err))
	}
	return count, nil
}

// ResetFilter selects failure counters by book components. Empty fields and
// zero year match everything.
type ResetFilter struct {
	State  string
	School string
	Year   int
}

// ResetFailures deletes matching failure counters and returns how many were
// removed. Dead-lettered records become eligible again on the next scan.
func (s *Store) ResetFailures(f ResetFilter) (int, error) {
	var conds []string
	var args []any
	if f.State != "" {
		conds = append(conds, "state = ?")
		args = append(args, f.State)
	}
	if f.School != "" {
		conds = append(conds, "school = ?")
		args = append(args, f.School)
	}
	if f.Year != 0 {
		conds = append(conds, "year = ?")
		args = append(args, f.Year)
	}

	q := `DELETE FROM failure_counts`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}

	res, err := s.db.Exec(q, args...)
	if err != nil {
		return 0, wrapErr(fmt.Errorf("reset failures: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr(fmt.Errorf("reset failures: %w", err))
	}
	return int(n), nil
}

// parseTime handles the formats SQLite emits for DATETIME defaults.
func parseTime(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// wrapErr tags unrecoverable database errors with ErrCorrupt so callers can
// map them to a distinct exit code; other errors pass through unchanged.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, marker := range []string{
		"database disk image is malformed",
		"file is not a database",
		"database corruption",
	} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	}
	return err
}

// isConstraintErr reports whether err is a uniqueness/constraint violation.
func isConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}
