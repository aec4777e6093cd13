// Package migrations embeds the SQL migration files so that the compiled
// binary carries its own schema management without requiring files on disk.
//
// Each supported store driver has its own directory: sqlite/ and postgres/.
package migrations

import "embed"

//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS
