// Package migrations embeds the goose SQL migrations of the billing schema.
package migrations

import "embed"

// FS holds the migration files. Pass Dir as the goose directory.
//
//go:embed *.sql
var FS embed.FS

const Dir = "."
