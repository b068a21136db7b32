package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mpataki/datasling/internal/models"
)

const snapshotExt = ".csv"

// snapshotName derives a file name from the entry timestamp. The random
// suffix keeps names unique when two entries share a microsecond.
func snapshotName(ts time.Time) string {
	return fmt.Sprintf("%s_%06d_%s%s",
		ts.Format("20060102_150405"), ts.Nanosecond()/1000, uuid.NewString()[:8], snapshotExt)
}

func (s *Storage) writeSnapshot(ts time.Time, tbl *models.Table) (string, error) {
	path := filepath.Join(s.snapshotDir, snapshotName(ts))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}

	err = writeRecords(f, tbl)
	if cerr := f.Close(); cerr != nil && err == nil {
		err = cerr
	}

	if err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// writeRecords writes the header and rows as CSV. A record holding one
// empty field is written as a quoted "" since csv.Writer emits a blank line
// for it and csv.Reader skips blank lines.
func writeRecords(f io.Writer, tbl *models.Table) error {
	w := csv.NewWriter(f)
	records := append([][]string{tbl.Columns}, tbl.Rows...)
	for _, rec := range records {
		if len(rec) == 1 && rec[0] == "" {
			w.Flush()
			if err := w.Error(); err != nil {
				return err
			}
			if _, err := io.WriteString(f, "\"\"\n"); err != nil {
				return err
			}
			continue
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// LoadSnapshot reads a snapshot file back into a table.
func (s *Storage) LoadSnapshot(path string) (*models.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}

	tbl := &models.Table{}
	if len(records) == 0 {
		return tbl, nil
	}
	tbl.Columns = records[0]
	tbl.Rows = records[1:]
	return tbl, nil
}

func (s *Storage) removeSnapshot(path string) {
	err := os.Remove(path)
	switch {
	case err == nil:
		s.logger.Debug("deleted old snapshot", zap.String("path", path))
	case errors.Is(err, os.ErrNotExist):
	default:
		s.logger.Warn("failed to delete snapshot", zap.String("path", path), zap.Error(err))
	}
}

// sweepSnapshots removes snapshot files that no ledger row references, such
// as files left behind by Clear or by a crash between write and insert.
func (s *Storage) sweepSnapshots() {
	refs, err := s.referencedSnapshots()
	if err != nil {
		s.logger.Warn("failed to list referenced snapshots", zap.Error(err))
		return
	}

	entries, err := os.ReadDir(s.snapshotDir)
	if err != nil {
		s.logger.Warn("failed to read snapshot directory", zap.String("dir", s.snapshotDir), zap.Error(err))
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), snapshotExt) {
			continue
		}
		path := filepath.Join(s.snapshotDir, entry.Name())
		if !refs[cleanPath(path)] {
			s.removeSnapshot(path)
		}
	}
}

func cleanPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
