// Package migrations embeds the SQL schema applied by rewardctl migrate.
package migrations

import "embed"

// FS holds the numbered *.sql files.
//
//go:embed *.sql
var FS embed.FS
