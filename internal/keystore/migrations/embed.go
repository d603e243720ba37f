// Package migrations embeds the keystore schema for golang-migrate's iofs
// source, the way the teacher's store package embeds its own.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
