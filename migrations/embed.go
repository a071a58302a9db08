// Package migrations embeds the run journal schema into the binary.
package migrations

import (
	"embed"

	"github.com/forgerunner/forgerunner/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
