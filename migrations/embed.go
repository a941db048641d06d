// Package migrations embeds the SQL schema migrations so they apply
// regardless of working directory.
package migrations

import "embed"

// FS holds every .sql file in this directory, named NNN_description.sql
// and applied in lexicographic order.
//
//go:embed *.sql
var FS embed.FS
