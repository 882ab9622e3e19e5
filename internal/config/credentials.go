package config

import (
	"errors"
	"fmt"
	"os"
)

// Environment variable names for app credentials, consulted when the
// key or secret is not passed explicitly.
const (
	EnvAppKey    = "DROPBOX_KEY"
	EnvAppSecret = "DROPBOX_SECRET"
)

// ErrMissingCredentials is returned when the app key or secret cannot
// be resolved from arguments or the environment.
var ErrMissingCredentials = errors.New("config: missing app credentials")

// Credentials is the resolved app key/secret pair. Read-only; never
// persisted separately from the token record.
type Credentials struct {
	AppKey    string
	AppSecret string
}

// ResolveCredentials returns the app credentials, preferring explicit
// arguments and falling back to DROPBOX_KEY / DROPBOX_SECRET for any
// value not supplied. No side effects.
func ResolveCredentials(appKey, appSecret string) (Credentials, error) {
	if appKey == "" {
		appKey = os.Getenv(EnvAppKey)
	}

	if appSecret == "" {
		appSecret = os.Getenv(EnvAppSecret)
	}

	if appKey == "" || appSecret == "" {
		return Credentials{}, fmt.Errorf(
			"%w: pass --app-key/--app-secret or set %s and %s",
			ErrMissingCredentials, EnvAppKey, EnvAppSecret)
	}

	return Credentials{AppKey: appKey, AppSecret: appSecret}, nil
}
