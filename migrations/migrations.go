// Package migrations embeds the Postgres schema so the server binary carries
// it.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
