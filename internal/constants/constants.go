// Package constants defines shared configuration constants.
package constants

var (
	ConfigFile = "config.yaml"

	DefaultDir = ".strobe"

	// EnvConfig overrides the directory the config file is read from.
	EnvConfig = "STROBE_CONFIG"
)
