// Package migrations embeds the goose SQL migrations the coordinator
// applies at startup.
package migrations

import "embed"

//go:embed *.sql
var Embed embed.FS
