package store

import (
	"database/sql"
	"fmt"
)

// Migration is a single named schema change. Migrations run in order during
// Open and must be idempotent.
type Migration struct {
	Name string
	Func func(*sql.Tx) error
}

var migrationsList = []Migration{
	{"display_name_column", migrateDisplayNameColumn},
	{"failure_log_kind_index", migrateFailureLogKindIndex},
}

// migrate applies pending migrations, recording each in the migrations table.
func (s *Store) migrate() error {
	for _, m := range migrationsList {
		applied, err := s.migrationApplied(m.Name)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return wrapErr(fmt.Errorf("begin migration %s: %w", m.Name, err))
		}
		if err := m.Func(tx); err != nil {
			tx.Rollback()
			return wrapErr(fmt.Errorf("migration %s: %w", m.Name, err))
		}
		if _, err := tx.Exec(`INSERT INTO migrations (name) VALUES (?)`, m.Name); err != nil {
			tx.Rollback()
			return wrapErr(fmt.Errorf("record migration %s: %w", m.Name, err))
		}
		if err := tx.Commit(); err != nil {
			return wrapErr(fmt.Errorf("commit migration %s: %w", m.Name, err))
		}
	}
	return nil
}

func (s *Store) migrationApplied(name string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM migrations WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, wrapErr(fmt.Errorf("check migration %s: %w", name, err))
	}
	return n > 0, nil
}

// migrateDisplayNameColumn backfills display_name on databases created before
// the column existed in the base schema.
func migrateDisplayNameColumn(tx *sql.Tx) error {
	rows, err := tx.Query(`PRAGMA table_info(batches)`)
	if err != nil {
		return err
	}
	defer rows.Close()

	has := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		if name == "display_name" {
			has = true
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = tx.Exec(`ALTER TABLE batches ADD COLUMN display_name TEXT NOT NULL DEFAULT ''`)
	return err
}

// migrateFailureLogKindIndex adds the error_kind index on databases created
// before it was part of the base schema.
func migrateFailureLogKindIndex(tx *sql.Tx) error {
	_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_failure_log_kind ON failure_log(error_kind)`)
	return err
}
