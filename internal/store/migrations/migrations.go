// ABOUTME: Embedded default migration set for the dockhand schema
// ABOUTME: Files carry numeric prefixes so lexicographic order is apply order

package migrations

import "embed"

// FS holds the built-in migration scripts
//
//go:embed *.sql
var FS embed.FS
