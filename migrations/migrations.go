// Package migrations embeds the goose SQL migrations for the card service.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
