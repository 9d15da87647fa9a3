//go:build sqlite_cgo

package store

import (
	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver (build with -tags sqlite_cgo)
)

const driverName = "sqlite3"

// dsn builds the driver-specific connection string for a database path.
func dsn(path string) string {
	if path == ":memory:" {
		return path
	}
	return path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}
