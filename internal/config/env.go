package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig    = "DROPBOX_GO_CONFIG"
	EnvTokenPath = "DROPBOX_GO_TOKEN_PATH"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // DROPBOX_GO_CONFIG: override config file path
	TokenPath  string // DROPBOX_GO_TOKEN_PATH: override token cache path
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		TokenPath:  os.Getenv(EnvTokenPath),
	}
}
