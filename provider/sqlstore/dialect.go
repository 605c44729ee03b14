package sqlstore

import (
	"fmt"
	"strconv"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect captures the per-database SQL differences.
type Dialect struct {
	name    string
	driver  string // database/sql driver name
	dollar  bool   // $1 placeholders instead of ?
	keyType string
	valType string
	upsertF string // table, ph1, ph2, ph3
}

var (
	SQLite = Dialect{
		name: "sqlite", driver: "sqlite3",
		keyType: "TEXT", valType: "BLOB",
		upsertF: "INSERT OR REPLACE INTO %s (k, v, expires_at) VALUES (%s, %s, %s)",
	}
	Postgres = Dialect{
		name: "postgres", driver: "postgres", dollar: true,
		keyType: "VARCHAR(255)", valType: "BYTEA",
		upsertF: "INSERT INTO %s (k, v, expires_at) VALUES (%s, %s, %s) " +
			"ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v, expires_at = EXCLUDED.expires_at",
	}
	MySQL = Dialect{
		name: "mysql", driver: "mysql",
		keyType: "VARCHAR(255)", valType: "LONGBLOB",
		upsertF: "REPLACE INTO %s (k, v, expires_at) VALUES (%s, %s, %s)",
	}
)

// DialectByName resolves "sqlite", "postgres" or "mysql".
func DialectByName(name string) (Dialect, bool) {
	switch name {
	case SQLite.name, "sqlite3":
		return SQLite, true
	case Postgres.name, "postgresql":
		return Postgres, true
	case MySQL.name:
		return MySQL, true
	}
	return Dialect{}, false
}

func (d Dialect) Name() string { return d.name }

func (d Dialect) ph(n int) string {
	if d.dollar {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (d Dialect) createTable(table string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (k %s NOT NULL PRIMARY KEY, v %s NOT NULL, expires_at BIGINT NOT NULL)",
		table, d.keyType, d.valType)
}

func (d Dialect) upsert(table string) string {
	return fmt.Sprintf(d.upsertF, table, d.ph(1), d.ph(2), d.ph(3))
}
