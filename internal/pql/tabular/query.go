package tabular

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"
	"time"

	// Pure-Go SQLite; each query gets its own in-memory database.
	_ "modernc.org/sqlite"

	apperrors "github.com/paralink-network/paralink-node/internal/errors"
)

type queryOptions struct {
	aliases map[string]string
}

// Option configures Query.
type Option func(*queryOptions)

// WithAlias exposes table under an additional view name.
func WithAlias(alias, table string) Option {
	return func(o *queryOptions) {
		if o.aliases == nil {
			o.aliases = map[string]string{}
		}
		o.aliases[alias] = table
	}
}

// Query loads tables into a fresh in-memory SQLite database and runs query
// against them. Loading failures are ParseDataError; query failures are
// UserQueryError.
func Query(ctx context.Context, tables map[string]*Table, query string, opts ...Option) (*Table, error) {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, apperrors.ParseData(err, "open query engine")
	}
	defer db.Close()
	// A second connection would see a different :memory: database.
	db.SetMaxOpenConns(1)

	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := load(ctx, db, name, tables[name]); err != nil {
			return nil, apperrors.ParseData(err, "failed to load table %s", name)
		}
	}

	aliases := make([]string, 0, len(o.aliases))
	for alias := range o.aliases {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	for _, alias := range aliases {
		stmt := fmt.Sprintf("CREATE VIEW %s AS SELECT * FROM %s", quoteIdent(alias), quoteIdent(o.aliases[alias]))
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, apperrors.ParseData(err, "failed to create view %s", alias)
		}
	}

	result, err := run(ctx, db, query)
	if err != nil {
		return nil, apperrors.UserQuery(err, "failed to run query: %s", truncate(query, 100))
	}
	return result, nil
}

func load(ctx context.Context, db *sql.DB, name string, t *Table) error {
	if t == nil {
		t = &Table{}
	}
	columns := t.Columns
	if len(columns) == 0 {
		// SQLite tables need at least one column.
		columns = []string{"_"}
	}

	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = quoteIdent(col)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(quoted, ", "))); err != nil {
		return fmt.Errorf("create: %w", err)
	}
	if len(t.Rows) == 0 || len(t.Columns) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(name), placeholders))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range t.Rows {
		if len(row) != len(columns) {
			return fmt.Errorf("row %d has %d cells, want %d", i, len(row), len(columns))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func run(ctx context.Context, db *sql.DB, query string) (*Table, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return FromRows(rows)
}

// FromRows drains a database/sql result set into a Table.
func FromRows(rows *sql.Rows) (*Table, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	t := New(columns...)
	for rows.Next() {
		cells := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, c := range cells {
			cells[i] = DriverCell(c)
		}
		t.Rows = append(t.Rows, cells)
	}
	return t, rows.Err()
}

// DriverCell maps a database driver value onto the cell types a Table
// holds.
func DriverCell(v interface{}) interface{} {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case driver.Valuer:
		inner, err := x.Value()
		if err != nil || inner == nil {
			return nil
		}
		if _, same := inner.(driver.Valuer); same {
			return fmt.Sprint(inner)
		}
		return DriverCell(inner)
	case fmt.Stringer:
		return x.String()
	default:
		return x
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
