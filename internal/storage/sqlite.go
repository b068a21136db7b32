package storage

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mpataki/datasling/internal/models"
)

const (
	// SoftLimit is the entry count above which Compact trims the ledger.
	SoftLimit = 100
	// KeepLatest is the number of newest entries Compact keeps.
	KeepLatest = 40

	defaultPreviewRows = 10
)

// Fixed-width UTC layout, so ordering the text column orders by time.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// Storage is the query history ledger plus the snapshot files its rows
// point to.
type Storage struct {
	db          *sql.DB
	snapshotDir string
	logger      *zap.Logger
	now         func() time.Time
	previewRows int
}

type Option func(*Storage)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Storage) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces time.Now for entry timestamps and snapshot names.
func WithClock(now func() time.Time) Option {
	return func(s *Storage) {
		if now != nil {
			s.now = now
		}
	}
}

func WithPreviewRows(n int) Option {
	return func(s *Storage) {
		if n > 0 {
			s.previewRows = n
		}
	}
}

// New opens the ledger at dbPath, creating it if needed, and compacts it.
// Snapshots are written to snapshotDir.
func New(dbPath, snapshotDir string, opts ...Option) (*Storage, error) {
	if err := os.MkdirAll(snapshotDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite has a single writer and transactions must not
	// wait on a second pooled connection.
	db.SetMaxOpenConns(1)

	s := &Storage{
		db:          db,
		snapshotDir: snapshotDir,
		logger:      zap.NewNop(),
		now:         time.Now,
		previewRows: defaultPreviewRows,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.Compact(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to compact history: %w", err)
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// SnapshotDir returns the directory holding snapshot files.
func (s *Storage) SnapshotDir() string {
	return s.snapshotDir
}

func (s *Storage) migrate() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS query_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		name TEXT NOT NULL,
		preset TEXT NOT NULL,
		query TEXT NOT NULL,
		snapshot_path TEXT,
		preview TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_query_history_name ON query_history(name, timestamp);
	CREATE INDEX IF NOT EXISTS idx_query_history_timestamp ON query_history(timestamp);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Append records one execution. When tbl is non-nil it is saved as a
// snapshot file and its path is returned. A snapshot that cannot be written
// still leaves a row without a path, and the write error is returned.
func (s *Storage) Append(name, preset, query string, tbl *models.Table) (string, error) {
	ts := s.now().UTC()

	var (
		path, preview string
		snapErr       error
	)
	if tbl != nil {
		preview = tbl.Preview(s.previewRows)
		path, snapErr = s.writeSnapshot(ts, tbl)
	}

	_, err := s.db.Exec(
		`INSERT INTO query_history (timestamp, name, preset, query, snapshot_path, preview)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ts.Format(timestampLayout), name, preset, query, nullString(path), nullString(preview),
	)
	if err != nil {
		if path != "" {
			s.removeSnapshot(path)
		}
		return "", fmt.Errorf("failed to record history for %s: %w", name, err)
	}

	if snapErr != nil {
		return "", fmt.Errorf("failed to save snapshot for %s: %w", name, snapErr)
	}
	return path, nil
}

const entryColumns = `id, timestamp, name, preset, query, snapshot_path, preview`

// MostRecent returns the newest entry for name whose snapshot file still
// exists, or nil when there is none.
func (s *Storage) MostRecent(name string) (*models.HistoryEntry, error) {
	rows, err := s.db.Query(
		`SELECT `+entryColumns+` FROM query_history
		 WHERE name = ? AND snapshot_path IS NOT NULL
		 ORDER BY timestamp DESC, id DESC`, name,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(entry.SnapshotPath); err == nil {
			return entry, nil
		}
	}
	return nil, rows.Err()
}

// List returns the newest limit entries, oldest first. A limit <= 0 lists
// everything.
func (s *Storage) List(limit int) ([]*models.HistoryEntry, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.Query(
		`SELECT `+entryColumns+` FROM (
			SELECT `+entryColumns+` FROM query_history
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		 ) ORDER BY timestamp ASC, id ASC`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.HistoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Storage) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM query_history`).Scan(&n)
	return n, err
}

// Clear deletes every ledger row. Snapshot files are left on disk; Compact
// sweeps them when the store is next opened.
func (s *Storage) Clear() error {
	_, err := s.db.Exec(`DELETE FROM query_history`)
	return err
}

// Compact trims the ledger to the KeepLatest newest entries once it holds
// more than SoftLimit. Row deletion is one transaction; the dropped snapshot
// files are removed after it commits. Snapshot files no row references are
// swept on every call.
func (s *Storage) Compact() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM query_history`).Scan(&total); err != nil {
		return err
	}
	if total <= SoftLimit {
		// The single connection must be released before sweeping.
		tx.Rollback()
		s.sweepSnapshots()
		return nil
	}

	const keep = `SELECT id FROM query_history ORDER BY timestamp DESC, id DESC LIMIT ?`

	rows, err := tx.Query(
		`SELECT snapshot_path FROM query_history
		 WHERE id NOT IN (`+keep+`) AND snapshot_path IS NOT NULL`, KeepLatest,
	)
	if err != nil {
		return err
	}
	var dropped []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			return err
		}
		dropped = append(dropped, path)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM query_history WHERE id NOT IN (`+keep+`)`, KeepLatest); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.logger.Info("compacted query history",
		zap.Int("entries", total),
		zap.Int("kept", KeepLatest),
		zap.Int("snapshots_dropped", len(dropped)))

	for _, path := range dropped {
		s.removeSnapshot(path)
	}
	s.sweepSnapshots()
	return nil
}

// referencedSnapshots returns the snapshot paths still held by ledger rows.
func (s *Storage) referencedSnapshots() (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT snapshot_path FROM query_history WHERE snapshot_path IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refs := make(map[string]bool)
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		refs[cleanPath(path)] = true
	}
	return refs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*models.HistoryEntry, error) {
	var (
		entry         models.HistoryEntry
		ts            string
		path, preview sql.NullString
	)
	if err := row.Scan(&entry.ID, &ts, &entry.Name, &entry.Preset, &entry.Query, &path, &preview); err != nil {
		return nil, err
	}

	t, err := time.Parse(timestampLayout, ts)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q for entry %d: %w", ts, entry.ID, err)
	}
	entry.Timestamp = t

	if path.Valid {
		entry.SnapshotPath = path.String
	}
	if preview.Valid {
		entry.Preview = preview.String
	}
	return &entry, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
