// Package migrations embeds the run ledger's SQL migration files. The same
// files run on SQLite and Postgres, so they stick to the common dialect.
package migrations

import "embed"

// FS is the embedded migrations filesystem.
// Contains all .sql files in this directory (e.g. 001_ledger.sql).
//
//go:embed *.sql
var FS embed.FS
