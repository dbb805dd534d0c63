package persistence

import (
	"database/sql"
	"time"
)

// SQLiteTimeLayout is a fixed-width UTC layout, so stored timestamps sort
// lexically in the same order as chronologically.
const SQLiteTimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatSQLiteTime renders t for a SQLite TEXT column.
func FormatSQLiteTime(t time.Time) string {
	return t.UTC().Format(SQLiteTimeLayout)
}

// NullSQLiteTime renders an optional time for a nullable TEXT column.
func NullSQLiteTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: FormatSQLiteTime(*t), Valid: true}
}

// ParseSQLiteTime parses a value written by FormatSQLiteTime. RFC3339 values
// are accepted as well.
func ParseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(SQLiteTimeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, err
		}
	}
	return t.UTC(), nil
}

// ParseNullSQLiteTime parses a nullable TEXT column.
func ParseNullSQLiteTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := ParseSQLiteTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
