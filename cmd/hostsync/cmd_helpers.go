package main

import (
	"github.com/facebook/fboss-sub029/internal/config"
)

// resolvedConfigPath returns the --config flag value, or the package
// default when unset.
func resolvedConfigPath() string {
	if globalConfigPath != "" {
		return globalConfigPath
	}
	return config.DefaultConfigPath
}

func loadConfig() (*config.Config, error) {
	return config.Load(resolvedConfigPath())
}
