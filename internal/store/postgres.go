package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Postgres reads chains and contracts from the configuration database.
type Postgres struct {
	db *sqlx.DB
}

var _ Source = (*Postgres)(nil)

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgres wraps an open handle.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// DB exposes the handle for migrations.
func (p *Postgres) DB() *sqlx.DB { return p.db }

// Close closes the pool.
func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) ListChains(ctx context.Context) ([]Chain, error) {
	var out []Chain
	err := p.db.SelectContext(ctx, &out,
		`SELECT name, type, url, active, credentials FROM chains ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("select chains: %w", err)
	}
	return out, nil
}

func (p *Postgres) ListContracts(ctx context.Context, chainName string) ([]Contract, error) {
	var out []Contract
	err := p.db.SelectContext(ctx, &out,
		`SELECT id, chain, active FROM contracts WHERE ($1 = '' OR chain = $1) ORDER BY id`, chainName)
	if err != nil {
		return nil, fmt.Errorf("select contracts: %w", err)
	}
	return out, nil
}
