package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectDriver(t *testing.T) {
	tests := map[string]Driver{
		"":                                   DriverSQLite,
		"postgres://u:p@localhost:5432/tg":   DriverPostgres,
		"postgresql://u:p@localhost:5432/tg": DriverPostgres,
		"sqlite:///var/lib/tollgate.db":      DriverSQLite,
		"file:ledger.db?cache=shared":        DriverSQLite,
		"ledger.sqlite3":                     DriverSQLite,
		"host=localhost dbname=tollgate":     DriverPostgres,
	}
	for url, want := range tests {
		assert.Equal(t, want, DetectDriver(url), url)
	}
}

func TestResolveDriver(t *testing.T) {
	d, err := ResolveDriver("", "postgres://db/tollgate")
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, d)

	d, err = ResolveDriver("SQLite", "postgres://db/tollgate")
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, d, "explicit driver wins")

	d, err = ResolveDriver("postgresql", "")
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, d)

	_, err = ResolveDriver("mysql", "")
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestSQLitePath(t *testing.T) {
	assert.Equal(t, "tollgate.db", SQLitePath("", "tollgate.db"))
	assert.Equal(t, "/var/lib/ledger.db", SQLitePath("sqlite:///var/lib/ledger.db", "tollgate.db"))
	assert.Equal(t, "ledger.db", SQLitePath("file:ledger.db?cache=shared", "tollgate.db"))
	assert.Equal(t, "tollgate.db", SQLitePath("postgres://db/tollgate", "tollgate.db"))
	assert.True(t, DriverSQLite.IsValid())
	assert.False(t, Driver("oracle").IsValid())
}
