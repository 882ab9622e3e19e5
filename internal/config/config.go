// Package config implements TOML configuration loading, environment
// overrides, credential resolution, and platform-specific path defaults
// for dropbox-go. Precedence is defaults -> config file -> environment
// variables -> CLI flags; flags always win.
package config

// Config is the top-level structure parsed from the TOML config file.
type Config struct {
	// TokenPath overrides where the OAuth token cache lives.
	// Empty means DefaultTokenPath().
	TokenPath string `toml:"token_path"`

	// LogLevel is the baseline slog level: debug, info, warn, error.
	// CLI --verbose/--quiet override it.
	LogLevel string `toml:"log_level"`
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
	}
}

// Resolved is the effective configuration after the full override chain.
type Resolved struct {
	TokenPath string
	LogLevel  string
}

// CLIOverrides carries values from command-line flags. Empty string
// means "not specified".
type CLIOverrides struct {
	ConfigPath string
	TokenPath  string
}

// Resolve loads configuration and applies the override chain. The
// returned TokenPath is always non-empty unless the home directory
// cannot be determined.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	resolved := &Resolved{
		TokenPath: cfg.TokenPath,
		LogLevel:  cfg.LogLevel,
	}

	if resolved.TokenPath == "" {
		resolved.TokenPath = DefaultTokenPath()
	}

	if env.TokenPath != "" {
		resolved.TokenPath = env.TokenPath
	}

	if cli.TokenPath != "" {
		resolved.TokenPath = cli.TokenPath
	}

	return resolved, nil
}
