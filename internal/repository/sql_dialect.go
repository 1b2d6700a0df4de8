package repository

import (
	"fmt"
	"time"

	"github.com/chainflow-io/chainflow/internal/config"
)

// placeholder returns the correct bind variable for the given index based on DB type.
// Postgres uses $1, $2... while MySQL and SQLite use ?
func placeholder(i int) string {
	db := config.GetSystemSettingString(config.DATABASE_TYPE)
	if db == config.DATABASE_TYPE_POSTGRES {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func supportsReturning() bool {
	return config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_POSTGRES
}

func formatDateInDatabase(t time.Time) string {
	if config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_SQLLITE {
		return t.UTC().Format("2006-01-02 15:04:05.000")
	}
	if config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_MYSQL {
		return t.UTC().Format("2006-01-02 15:04:05.000000")
	}
	// PostgreSQL supports RFC3339
	return t.UTC().Format(time.RFC3339Nano)
}

// dateBeforeAge returns a dialect-specific predicate checking that the column
// is older than the given instant. SQLite stores TEXT timestamps, so coerce
// via julianday to keep the comparison temporal rather than lexical.
func dateBeforeAge(column string, cutoff time.Time) string {
	formatted := cutoff.UTC().Format("2006-01-02 15:04:05.000")
	db := config.GetSystemSettingString(config.DATABASE_TYPE)
	switch db {
	case config.DATABASE_TYPE_POSTGRES, config.DATABASE_TYPE_MYSQL:
		return fmt.Sprintf("%s < '%s'", column, formatted)
	default:
		return fmt.Sprintf("julianday(%s) < julianday('%s')", column, formatted)
	}
}
