package database

import (
	"fmt"
	"strings"
)

// Driver is the ledger's storage backend.
type Driver string

const (
	// DriverPostgres is the production store.
	DriverPostgres Driver = "postgres"
	// DriverSQLite is the embedded store for local mode and tests.
	DriverSQLite Driver = "sqlite"
)

// String returns the string representation of the driver.
func (d Driver) String() string {
	return string(d)
}

// IsValid returns true if the driver is a known type.
func (d Driver) IsValid() bool {
	return d == DriverPostgres || d == DriverSQLite
}

// DetectDriver infers the driver from a connection string. An empty URL
// selects SQLite so tollgate runs without any configuration.
func DetectDriver(url string) Driver {
	switch {
	case url == "":
		return DriverSQLite
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return DriverPostgres
	case strings.HasPrefix(url, "sqlite://"), strings.HasPrefix(url, "file:"):
		return DriverSQLite
	}
	for _, ext := range []string{".db", ".sqlite", ".sqlite3"} {
		if strings.HasSuffix(url, ext) {
			return DriverSQLite
		}
	}
	// Anything else is treated as a PostgreSQL keyword/value DSN.
	return DriverPostgres
}

// ResolveDriver picks the driver from an explicit name, falling back to
// detection from url. An unknown explicit name is an error.
func ResolveDriver(explicit, url string) (Driver, error) {
	name := strings.ToLower(strings.TrimSpace(explicit))
	if name == "" {
		return DetectDriver(url), nil
	}
	if name == "postgresql" {
		name = string(DriverPostgres)
	}
	d := Driver(name)
	if !d.IsValid() {
		return "", fmt.Errorf("unsupported database driver %q", explicit)
	}
	return d, nil
}

// SQLitePath returns the file named by a SQLite URL, or fallback when url
// does not name one.
func SQLitePath(url, fallback string) string {
	if DetectDriver(url) != DriverSQLite || url == "" {
		return fallback
	}
	path := strings.TrimPrefix(url, "sqlite://")
	path = strings.TrimPrefix(path, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return fallback
	}
	return path
}
