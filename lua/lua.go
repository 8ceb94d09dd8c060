// Package lua embeds the Redis scripts used by resq.
package lua

import "embed"

// Scripts holds every .lua file in this directory.
//
//go:embed *.lua
var Scripts embed.FS
