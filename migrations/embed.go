// Package migrations embeds the schema migration files into the binary
// so a deployed graymesh needs no SQL files on disk. Files are named
// NNNN_name.sql and applied in sequence order.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-mesh-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
