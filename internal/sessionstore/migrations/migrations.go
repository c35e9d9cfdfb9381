// Package migrations embeds the Postgres schema for SessionStore's "B"
// backing and the web-tier user_accounts table.
package migrations

import "embed"

//go:embed sql/*.sql
var FS embed.FS
