// Package configs provides embedded configuration templates for deptqa.
//
// Templates are embedded at build time with //go:embed so they ship with
// every binary. They are written out by `deptqa config init` and never
// parsed at runtime; internal/config holds the real defaults.
//
// Configuration hierarchy (see internal/config.Load):
//  1. Hardcoded defaults (internal/config NewConfig)
//  2. User config (~/.config/deptqa/config.yaml)
//  3. Service config (deptqa.yaml in the working directory)
//  4. Environment variables (DEPTQA_*)
package configs

import _ "embed"

// UserConfigTemplate is the machine-level template written by
// `deptqa config init --user` to ~/.config/deptqa/config.yaml.
// It carries endpoints and store addresses for this machine.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ServiceConfigTemplate is the deployment-level template written by
// `deptqa config init` to ./deptqa.yaml. It carries the board list and
// retrieval tuning, and is meant to be version-controlled with the
// deployment.
//
//go:embed service-config.example.yaml
var ServiceConfigTemplate string
