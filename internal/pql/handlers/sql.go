package handlers

import (
	"context"
	"database/sql"
	"fmt"

	apperrors "github.com/paralink-network/paralink-node/internal/errors"
	"github.com/paralink-network/paralink-node/internal/pql"
	"github.com/paralink-network/paralink-node/internal/pql/tabular"
	"github.com/paralink-network/paralink-node/pkg/logger"
)

// Backend runs one query against the database at dsn. Every call opens and
// closes its own connection.
type Backend interface {
	Query(ctx context.Context, dsn, query string) (*tabular.Table, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, dsn, query string) (*tabular.Table, error)

func (f BackendFunc) Query(ctx context.Context, dsn, query string) (*tabular.Table, error) {
	return f(ctx, dsn, query)
}

// Backends maps the part after "sql." to its backend.
type Backends map[string]Backend

// SQL handles sql.* extract steps.
type SQL struct {
	backends Backends
	log      *logger.Logger
}

// NewSQL returns the SQL handler serving exactly the given backends.
func NewSQL(backends Backends, log *logger.Logger) *SQL {
	if log == nil {
		log = logger.NewDefault("pql-sql")
	}
	own := make(Backends, len(backends))
	for name, b := range backends {
		own[name] = b
	}
	return &SQL{backends: own, log: log}
}

func (s *SQL) Extract(ctx context.Context, step pql.Step) (pql.Value, error) {
	name := methodName(step.Method)
	backend, ok := s.backends[name]
	if !ok {
		return nil, apperrors.MethodNotFound("handler for SQL method %q not found", step.Method)
	}
	if step.Query == "" {
		return nil, apperrors.Argument("%s requires a query", step.Method)
	}
	tbl, err := backend.Query(ctx, step.URI, step.Query)
	if err != nil {
		return nil, apperrors.External(err, "%s query failed", step.Method)
	}
	s.log.WithField("method", step.Method).WithField("rows", tbl.Len()).Debug("sql extract")
	return pql.Table{Table: tbl}, nil
}

// databaseSQL is a Backend over a database/sql driver.
func databaseSQL(driver string) Backend {
	return BackendFunc(func(ctx context.Context, dsn, query string) (*tabular.Table, error) {
		db, err := sql.Open(driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", driver, err)
		}
		defer db.Close()
		db.SetMaxOpenConns(1)

		rows, err := db.QueryContext(ctx, query)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return tabular.FromRows(rows)
	})
}
