// Package config loads the sidecar's own bootstrap settings (where the
// properties file lives, reload cadence, admin server, log level) from a YAML
// file, environment variables and CLI flags with precedence: CLI flags > YAML
// config > Environment variables > Defaults.
//
// The export settings themselves live in the properties file and are owned by
// package configstore.
package config
