package handlers

import (
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"
)

// DefaultBackends returns the sql.* methods the node ships with.
func DefaultBackends() Backends {
	return Backends{
		"postgres": BackendFunc(queryPostgres),
		"mssql":    databaseSQL("sqlserver"),
		"mysql":    databaseSQL("mysql"),
		"sqlite":   databaseSQL("sqlite"),
	}
}
