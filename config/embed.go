// Package config embeds the default bridge configuration.
package config

import _ "embed"

// Default is conf.default.yaml, loaded before any user configuration.
//
//go:embed conf.default.yaml
var Default []byte
