package handlers

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/paralink-network/paralink-node/internal/pql/tabular"
)

// queryPostgres connects, runs query, collects every row and closes.
func queryPostgres(ctx context.Context, dsn, query string) (*tabular.Table, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	rows, err := conn.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}
	t := tabular.New(columns...)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		cells := make([]interface{}, len(values))
		for i, v := range values {
			cells[i] = pgCell(v)
		}
		t.Append(cells...)
	}
	return t, rows.Err()
}

func pgCell(v interface{}) interface{} {
	if id, ok := v.([16]byte); ok {
		return uuid.UUID(id).String()
	}
	return tabular.DriverCell(v)
}
