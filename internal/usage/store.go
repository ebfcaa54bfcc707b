// Package usage persists per-request token consumption in a SQLite ledger
// and sweeps old rows on a retention schedule.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gantryio/gantry/internal/provider"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// defaultBusyTimeout is the SQLite busy timeout in milliseconds.
const defaultBusyTimeout = 5000

// Store is a SQLite-backed usage ledger. It implements
// provider.UsageRecorder. Safe for concurrent use; SQLite serialises writes
// over the single connection.
type Store struct {
	db *sql.DB

	// now is injectable for testing. Defaults to time.Now.
	now func() time.Time
}

var _ provider.UsageRecorder = (*Store)(nil)

// Open opens (and migrates) the ledger database at path. The database is
// created with WAL mode, a 5 s busy timeout, and a single connection.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("usage: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("usage: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	ctx := context.TODO()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("usage: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("usage: set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record implements provider.UsageRecorder.
func (s *Store) Record(ctx context.Context, entry provider.UsageEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage (request_id, provider_id, model, prompt_tokens, completion_tokens, total_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID,
		entry.ProviderID,
		entry.Model,
		entry.Usage.PromptTokens,
		entry.Usage.CompletionTokens,
		entry.Usage.TotalTokens,
		s.now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("usage: insert: %w", err)
	}
	return nil
}

// ProviderTotals aggregates one provider's consumption over a period.
type ProviderTotals struct {
	ProviderID       string `json:"provider_id"`
	Requests         int    `json:"requests"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Totals returns per-provider aggregates for entries recorded at or after
// since, ordered by provider id.
func (s *Store) Totals(ctx context.Context, since time.Time) ([]ProviderTotals, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider_id,
		       COUNT(*),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(total_tokens), 0)
		FROM usage
		WHERE created_at >= ?
		GROUP BY provider_id
		ORDER BY provider_id`,
		since.UTC().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("usage: totals query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var totals []ProviderTotals
	for rows.Next() {
		var t ProviderTotals
		if err := rows.Scan(&t.ProviderID, &t.Requests, &t.PromptTokens, &t.CompletionTokens, &t.TotalTokens); err != nil {
			return nil, fmt.Errorf("usage: totals scan: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// Prune deletes entries recorded before cutoff and reports how many rows
// were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM usage WHERE created_at < ?`,
		cutoff.UTC().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("usage: prune: %w", err)
	}
	return res.RowsAffected()
}
