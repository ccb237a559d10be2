package health

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// OpenQueryDB opens a *sql.DB for one of the two drivers this package
// registers by blank import: "postgres" (github.com/lib/pq) and "mysql"
// (github.com/go-sql-driver/mysql). It exists so callers wiring a "query"
// health check via rotation.WithQueryDB don't need to import either driver
// package themselves.
func OpenQueryDB(driverName, dsn string) (*sql.DB, error) {
	switch driverName {
	case "postgres", "mysql":
	default:
		return nil, fmt.Errorf("health: unsupported query driver %q, want postgres or mysql", driverName)
	}
	return sql.Open(driverName, dsn)
}
