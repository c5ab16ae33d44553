package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/petal-labs/vigil/core"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteStoreConfig configures the SQLite history store.
type SQLiteStoreConfig struct {
	// DSN is the database connection string.
	DSN string

	// RetentionAge deletes results older than this duration (0 = no age pruning).
	RetentionAge time.Duration

	// RetentionCount keeps at most this many results per provider (0 = no count pruning).
	RetentionCount int

	// PruneInterval is how often to run pruning (default 1 hour).
	PruneInterval time.Duration
}

// SQLiteStore persists check results to a SQLite database. It satisfies
// the Store interface and supports WAL mode for concurrent read access
// and a background pruner goroutine.
type SQLiteStore struct {
	db   *sql.DB
	cfg  SQLiteStoreConfig
	stop chan struct{}
	done chan struct{}
}

// NewSQLiteStore opens (or creates) a SQLite history store.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.PruneInterval == 0 {
		cfg.PruneInterval = time.Hour
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}

	// Enable WAL mode for concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: set WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: create schema: %w", err)
	}

	s := &SQLiteStore{
		db:   db,
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	if cfg.RetentionAge > 0 || cfg.RetentionCount > 0 {
		go s.pruneLoop()
	} else {
		close(s.done)
	}

	return s, nil
}

// Append stores one batch of results in a single transaction.
func (s *SQLiteStore) Append(ctx context.Context, results []core.CheckResult) (Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("history: begin append: %w", err)
	}

	for _, r := range results {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO checks (id, provider_id, name, type, endpoint, model, status, latency_ms, ping_latency_ms, checked_at, message)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID,
			r.Provider,
			r.Name,
			string(r.Type),
			r.Endpoint,
			r.Model,
			string(r.Status),
			nullableInt(r.LatencyMs),
			nullableInt(r.PingLatencyMs),
			r.CheckedAt.UTC().Format(time.RFC3339Nano),
			r.Message,
		)
		if err != nil {
			_ = tx.Rollback()
			return Snapshot{}, fmt.Errorf("history: append %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Snapshot{}, fmt.Errorf("history: commit append: %w", err)
	}

	var snapshot Snapshot
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT provider_id), COUNT(*) FROM checks`,
	).Scan(&snapshot.Providers, &snapshot.Records)
	if err != nil {
		return Snapshot{}, fmt.Errorf("history: snapshot counts: %w", err)
	}
	return snapshot, nil
}

// List returns a provider's results, newest first.
func (s *SQLiteStore) List(ctx context.Context, providerID string, limit int) ([]core.CheckResult, error) {
	query := `SELECT id, provider_id, name, type, endpoint, model, status, latency_ms, ping_latency_ms, checked_at, message
	           FROM checks WHERE provider_id = ? ORDER BY checked_at DESC`
	args := []any{providerID}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	return scanResults(rows)
}

// Latest returns the newest result per provider.
func (s *SQLiteStore) Latest(ctx context.Context) ([]core.CheckResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.provider_id, c.name, c.type, c.endpoint, c.model, c.status, c.latency_ms, c.ping_latency_ms, c.checked_at, c.message
		   FROM checks c
		   JOIN (SELECT provider_id, MAX(checked_at) AS newest FROM checks GROUP BY provider_id) latest
		     ON c.provider_id = latest.provider_id AND c.checked_at = latest.newest
		  ORDER BY c.provider_id`)
	if err != nil {
		return nil, fmt.Errorf("history: latest: %w", err)
	}
	defer rows.Close()

	return scanResults(rows)
}

// Providers returns distinct provider IDs from the store.
func (s *SQLiteStore) Providers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT provider_id FROM checks ORDER BY provider_id`)
	if err != nil {
		return nil, fmt.Errorf("history: providers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("history: scan provider id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close stops the background pruner and closes the database connection.
func (s *SQLiteStore) Close() error {
	select {
	case <-s.stop:
		// Already closed.
	default:
		close(s.stop)
	}
	<-s.done
	return s.db.Close()
}

// Prune runs a single pruning pass. Exported for testing.
func (s *SQLiteStore) Prune(ctx context.Context) error {
	if s.cfg.RetentionAge > 0 {
		cutoff := time.Now().Add(-s.cfg.RetentionAge).UTC().Format(time.RFC3339Nano)
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM checks WHERE checked_at < ?`, cutoff,
		); err != nil {
			return fmt.Errorf("history: prune by age: %w", err)
		}
	}

	if s.cfg.RetentionCount > 0 {
		ids, err := s.Providers(ctx)
		if err != nil {
			return fmt.Errorf("history: prune list providers: %w", err)
		}

		for _, providerID := range ids {
			if _, err := s.db.ExecContext(ctx,
				`DELETE FROM checks WHERE provider_id = ? AND id NOT IN (
					SELECT id FROM checks WHERE provider_id = ? ORDER BY checked_at DESC LIMIT ?
				)`, providerID, providerID, s.cfg.RetentionCount,
			); err != nil {
				return fmt.Errorf("history: prune by count for %s: %w", providerID, err)
			}
		}
	}

	return nil
}

func (s *SQLiteStore) pruneLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			_ = s.Prune(context.Background())
		}
	}
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func scanResults(rows *sql.Rows) ([]core.CheckResult, error) {
	var results []core.CheckResult
	for rows.Next() {
		var (
			r           core.CheckResult
			typ, status string
			latency     sql.NullInt64
			pingLatency sql.NullInt64
			checkedAt   string
		)
		err := rows.Scan(
			&r.ID,
			&r.Provider,
			&r.Name,
			&typ,
			&r.Endpoint,
			&r.Model,
			&status,
			&latency,
			&pingLatency,
			&checkedAt,
			&r.Message,
		)
		if err != nil {
			return nil, fmt.Errorf("history: scan result: %w", err)
		}

		r.Type = core.ProviderType(typ)
		r.Status = core.Status(status)
		if latency.Valid {
			v := latency.Int64
			r.LatencyMs = &v
		}
		if pingLatency.Valid {
			v := pingLatency.Int64
			r.PingLatencyMs = &v
		}

		t, err := time.Parse(time.RFC3339Nano, checkedAt)
		if err != nil {
			return nil, fmt.Errorf("history: parse checked_at %q: %w", checkedAt, err)
		}
		r.CheckedAt = t

		results = append(results, r)
	}
	return results, rows.Err()
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)
