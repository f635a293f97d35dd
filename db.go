package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the append-only result log. Each processed conversation gets
// exactly one record per run, written once and never updated; the log doubles
// as the resume point after a crash and as the audit trail.
type Store struct {
	db *sql.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		input_glob  TEXT NOT NULL,
		dry_run     INTEGER NOT NULL DEFAULT 0,
		started_at  DATETIME NOT NULL,
		finished_at DATETIME,
		total       INTEGER DEFAULT 0,
		classified  INTEGER DEFAULT 0,
		fallback    INTEGER DEFAULT 0,
		unparseable INTEGER DEFAULT 0,
		solved      INTEGER DEFAULT 0,
		escalated   INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS conversation_results (
		run_id          TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		status          TEXT NOT NULL,
		result_json     TEXT NOT NULL,
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_id, conversation_id)
	);
	CREATE INDEX IF NOT EXISTS idx_cr_run ON conversation_results(run_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) BeginRun(runID, inputGlob string, dryRun bool, startedAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO runs (id, input_glob, dry_run, started_at) VALUES (?, ?, ?, ?)`,
		runID, inputGlob, boolToInt(dryRun), startedAt.UTC(),
	)
	return err
}

func (s *Store) FinishRun(runID string, totals RunTotals, finishedAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, total = ?, classified = ?, fallback = ?, unparseable = ?, solved = ?, escalated = ? WHERE id = ?`,
		finishedAt.UTC(), totals.TotalConversations, totals.ClassifiedCount, totals.FallbackCount,
		totals.UnparseableCount, totals.SolvedCount, totals.EscalatedCount, runID,
	)
	return err
}

// SaveOutcome appends one complete record. INSERT OR IGNORE keeps the log
// write-once: a record is either fully present or absent, never partial and
// never overwritten.
func (s *Store) SaveOutcome(runID string, o ConversationOutcome) error {
	resultJSON, err := json.Marshal(o.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR IGNORE INTO conversation_results (run_id, conversation_id, status, result_json) VALUES (?, ?, ?, ?)`,
		runID, o.ConversationID, string(o.Status), string(resultJSON),
	)
	return err
}

// LoadOutcomes returns the already-settled outcomes of a run, keyed by
// conversation ID. A resumed run reuses these instead of reclassifying.
func (s *Store) LoadOutcomes(runID string) (map[string]ConversationOutcome, error) {
	rows, err := s.db.Query(
		`SELECT conversation_id, status, result_json FROM conversation_results WHERE run_id = ? ORDER BY conversation_id`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]ConversationOutcome)
	for rows.Next() {
		var id, status, resultJSON string
		if err := rows.Scan(&id, &status, &resultJSON); err != nil {
			return nil, err
		}
		var result ClassificationResult
		if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
			return nil, fmt.Errorf("decode stored result for %s: %w", id, err)
		}
		out[id] = ConversationOutcome{
			ConversationID: id,
			Status:         ConversationStatus(status),
			Result:         result,
		}
	}
	return out, rows.Err()
}

// CountByStatus reports how many records a run has per processing status.
func (s *Store) CountByStatus(runID string) (map[ConversationStatus]int, error) {
	rows, err := s.db.Query(
		`SELECT status, COUNT(*) FROM conversation_results WHERE run_id = ? GROUP BY status`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[ConversationStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[ConversationStatus(status)] = n
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
