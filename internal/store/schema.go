package store

const schema = `
-- Active and terminated remote batches
CREATE TABLE IF NOT EXISTS batches (
    batch_id     TEXT PRIMARY KEY,
    display_name TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL DEFAULT 'active'
                 CHECK(status IN ('active', 'completed', 'failed')),
    created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    finalized_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status);
CREATE INDEX IF NOT EXISTS idx_batches_created_at ON batches(created_at);

-- Membership of records in batches; rows exist only while the batch is active
CREATE TABLE IF NOT EXISTS batch_records (
    batch_id   TEXT NOT NULL,
    record_key TEXT NOT NULL,
    PRIMARY KEY (batch_id, record_key),
    FOREIGN KEY (batch_id) REFERENCES batches(batch_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_batch_records_key ON batch_records(record_key);

-- Records currently submitted; the scanner excludes these
CREATE TABLE IF NOT EXISTS inflight (
    record_key TEXT PRIMARY KEY,
    batch_id   TEXT NOT NULL,
    FOREIGN KEY (batch_id) REFERENCES batches(batch_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_inflight_batch ON inflight(batch_id);

-- Per-record failure counters; key components denormalized for operator resets
CREATE TABLE IF NOT EXISTS failure_counts (
    record_key TEXT PRIMARY KEY,
    state      TEXT NOT NULL,
    school     TEXT NOT NULL,
    year       INTEGER NOT NULL,
    count      INTEGER NOT NULL DEFAULT 0 CHECK(count >= 0)
);

CREATE INDEX IF NOT EXISTS idx_failure_counts_book ON failure_counts(state, school, year);

-- Append-only failure log for offline analysis
CREATE TABLE IF NOT EXISTS failure_log (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    record_key        TEXT NOT NULL,
    batch_id          TEXT NOT NULL DEFAULT '',
    attempt           INTEGER NOT NULL DEFAULT 0,
    error_kind        TEXT NOT NULL,
    error_message     TEXT NOT NULL DEFAULT '',
    error_trace       TEXT NOT NULL DEFAULT '',
    raw_response      TEXT NOT NULL DEFAULT '',
    extracted_text    TEXT NOT NULL DEFAULT '',
    raw_blob          TEXT NOT NULL DEFAULT '',
    model_name        TEXT NOT NULL DEFAULT '',
    prompt_name       TEXT NOT NULL DEFAULT '',
    prompt_template   TEXT NOT NULL DEFAULT '',
    generation_config TEXT NOT NULL DEFAULT '',
    created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_failure_log_key ON failure_log(record_key);
CREATE INDEX IF NOT EXISTS idx_failure_log_batch ON failure_log(batch_id);
CREATE INDEX IF NOT EXISTS idx_failure_log_created_at ON failure_log(created_at);
CREATE INDEX IF NOT EXISTS idx_failure_log_kind ON failure_log(error_kind);

-- Applied migrations
CREATE TABLE IF NOT EXISTS migrations (
    name       TEXT PRIMARY KEY,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
