// Package migrations embeds the SQL schema of the cache database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
