// Package configs provides embedded configuration templates for govrag.
//
// Templates are embedded at build time with //go:embed so `govrag config
// init` can scaffold a config file from any distribution of the binary.
//
// Configuration precedence (see internal/config.Load):
//  1. Hardcoded defaults (internal/config.NewConfig)
//  2. User config (~/.config/govrag/config.yaml)
//  3. Project config (.govrag.yaml)
//  4. Environment variables (GOVRAG_*)
package configs

import _ "embed"

// UserConfigTemplate scaffolds the user/machine-level configuration:
// backend endpoints and model identifiers shared by every project on the
// machine. Written by `govrag config init --user` to
// ~/.config/govrag/config.yaml.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate scaffolds a project-level .govrag.yaml: retrieval
// weights, grounding thresholds, and session retention, with every key
// commented so a deployment only uncomments what it tunes. Written by
// `govrag config init`.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
