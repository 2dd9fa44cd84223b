// Command provmuxd serves provmux over HTTP.
//
// It loads a YAML configuration (see package config), talks to providers
// through package httpprovider, and exposes completions, streaming, batch,
// status, health and Prometheus metrics endpoints.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
