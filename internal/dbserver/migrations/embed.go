// Package migrations embeds the SQL migrations for the reference
// Database-Server stub's backing store, applied via goose.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
