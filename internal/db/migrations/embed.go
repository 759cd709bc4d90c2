// Package migrations contains the embedded SQL migrations for the event
// store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
