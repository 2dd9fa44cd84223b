// Package config loads the provmux YAML configuration.
//
// Files are expanded with ExpandEnvStrict before decoding, so secrets and
// addresses can come from the environment. Manager keeps the current
// configuration behind an atomic pointer and reloads it when the file
// changes.
package config
