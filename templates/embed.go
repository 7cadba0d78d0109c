// Package templates embeds the default configuration and example rules.
package templates

import "embed"

//go:embed config.yaml rules
var FS embed.FS
