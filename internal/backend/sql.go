package backend

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mpataki/datasling/internal/models"
)

// SQL executes queries through database/sql. Connections are opened on first
// use of a preset and reused afterwards.
type SQL struct {
	presets Presets
	logger  *zap.Logger

	mu    sync.Mutex
	conns map[string]*sql.DB
}

func NewSQL(presets Presets, logger *zap.Logger) *SQL {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQL{
		presets: presets,
		logger:  logger,
		conns:   make(map[string]*sql.DB),
	}
}

func (b *SQL) Execute(ctx context.Context, preset, query string) (*models.Table, error) {
	db, err := b.conn(preset)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	tbl := &models.Table{Columns: cols}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make([]string, len(cols))
		for i, v := range values {
			row[i] = formatValue(v)
		}
		tbl.Rows = append(tbl.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tbl, nil
}

// Close closes every connection opened so far.
func (b *SQL) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for name, db := range b.conns {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close preset %s: %w", name, err)
		}
		delete(b.conns, name)
	}
	return firstErr
}

func (b *SQL) conn(name string) (*sql.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if db, ok := b.conns[name]; ok {
		return db, nil
	}

	p, ok := b.presets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPreset, name)
	}

	driver, dsn, err := dataSource(p)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open preset %s: %w", name, err)
	}
	b.logger.Debug("opened preset connection", zap.String("preset", name), zap.String("driver", driver))

	b.conns[name] = db
	return db, nil
}

func dataSource(p Preset) (driver, dsn string, err error) {
	switch strings.ToLower(p.DBType) {
	case "sqlite", "sqlite3":
		dsn = firstNonEmpty(p.DSN, p.Path, p.Database)
		if dsn == "" {
			return "", "", fmt.Errorf("preset %s: sqlite needs a path", p.Name)
		}
		return "sqlite", dsn, nil

	case "postgres", "postgresql":
		if p.DSN != "" {
			return "pgx", p.DSN, nil
		}
		host := p.Host
		if host == "" {
			host = "localhost"
		}
		if p.Port != 0 {
			host = net.JoinHostPort(host, strconv.Itoa(p.Port))
		}
		u := url.URL{
			Scheme: "postgres",
			Host:   host,
			Path:   "/" + p.Database,
		}
		if p.Username != "" {
			u.User = url.UserPassword(p.Username, p.Password)
		}
		return "pgx", u.String(), nil

	default:
		return "", "", fmt.Errorf("%w %q for preset %s", ErrUnsupportedType, p.DBType, p.Name)
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(val)
	case string:
		return val
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(val)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
