// Package configs embeds the configuration templates written by
// `framescope config init`.
//
// Settings are resolved in this order, later sources winning:
//  1. built-in defaults (internal/config NewConfig)
//  2. user config (~/.config/framescope/config.yaml)
//  3. project config (.framescope.yaml)
//  4. FRAMESCOPE_* environment variables
package configs

import _ "embed"

// UserConfigTemplate is written to the user config path by
// `framescope config init`.
//
//go:embed config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is written to .framescope.yaml by
// `framescope config init --project`.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
