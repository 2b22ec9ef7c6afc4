// Package web embeds the HTML templates so the binary is self-contained.
package web

import "embed"

//go:embed templates
var FS embed.FS
