// Package migrations embeds the goose SQL migrations so binaries do not need
// the source tree at runtime.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
