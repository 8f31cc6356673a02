// Package migrations embeds the node's SQL migration files into the binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
