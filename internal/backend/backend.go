// Package backend runs query text against a named preset and returns the
// result as a table.
package backend

import (
	"context"
	"errors"

	"github.com/mpataki/datasling/internal/models"
)

// Backend executes one query. Implementations must be safe for concurrent
// use; the orchestrator calls Execute from one goroutine per query.
type Backend interface {
	Execute(ctx context.Context, preset, query string) (*models.Table, error)
}

var (
	ErrUnknownPreset   = errors.New("unknown preset")
	ErrUnsupportedType = errors.New("unsupported db_type")
)
