package sqlstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// Dialect covers the differences between the supported SQL engines.
type Dialect interface {
	Name() string
	DriverName() string
	Placeholder(n int) string
	Quote(ident string) string
	// Returning reports whether INSERT ... RETURNING * is available.
	Returning() bool
	IsDuplicate(err error) bool
	Schema() []string
}

type postgres struct{}

// Postgres talks to PostgreSQL through the pgx database/sql driver.
var Postgres Dialect = postgres{}

func (postgres) Name() string       { return "postgres" }
func (postgres) DriverName() string { return "pgx" }
func (postgres) Returning() bool    { return true }

func (postgres) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (postgres) Quote(ident string) string {
	return `"` + ident + `"`
}

func (postgres) IsDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type mysqlDialect struct{}

// MySQL talks to MySQL or MariaDB through go-sql-driver/mysql. The DSN needs
// parseTime=true.
var MySQL Dialect = mysqlDialect{}

func (mysqlDialect) Name() string       { return "mysql" }
func (mysqlDialect) DriverName() string { return "mysql" }
func (mysqlDialect) Returning() bool    { return false }

func (mysqlDialect) Placeholder(int) string {
	return "?"
}

func (mysqlDialect) Quote(ident string) string {
	return "`" + ident + "`"
}

func (mysqlDialect) IsDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}

// DialectByName accepts "postgres" (or "pgx") and "mysql".
func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	}
	return nil, fmt.Errorf("unknown sql dialect %q", name)
}
