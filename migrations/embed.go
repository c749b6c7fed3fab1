// Package migrations embeds the SQL schema of the sync engine so the server
// and the migrate CLI apply the same files.
package migrations

import "embed"

// FS holds every NNNNNN_name.{up,down}.sql file of this directory.
//
//go:embed *.sql
var FS embed.FS
