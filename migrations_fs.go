package sumid

import (
	"embed"
	"fmt"
	"io/fs"
)

// migrationsFS holds the per-dialect SQL migration trees for the snapshot
// cache schema.
//
//go:embed data/sql/migrations/sqlite/*.sql data/sql/migrations/postgres/*.sql
var migrationsFS embed.FS

// MigrationsFor returns the migration tree for one cache driver.
func MigrationsFor(driver string) (fs.FS, error) {
	switch driver {
	case "sqlite3":
		return fs.Sub(migrationsFS, "data/sql/migrations/sqlite")
	case "postgres":
		return fs.Sub(migrationsFS, "data/sql/migrations/postgres")
	default:
		return nil, fmt.Errorf("sumid: no migrations for driver %q", driver)
	}
}
