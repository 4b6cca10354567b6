// Package migrations holds the schema, compiled into the binaries.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
