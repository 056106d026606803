// Package tallybot embeds the annotated default configuration.
//
// The root package exists solely to embed config.default.toml via
// [DefaultConfigTOML]; `tallybot config init` writes it into the data
// directory.
package tallybot

import _ "embed"

// DefaultConfigTOML holds the raw bytes of config.default.toml, generated by
// cmd/genconfig and embedded at build time.
//
//go:embed config.default.toml
var DefaultConfigTOML []byte
