package token

import (
	"os"
	"path/filepath"

	"github.com/ssoutil/ssoutil/pkg/filecache"
)

// registrationTool namespaces registration cache keys so other tools
// sharing the cache directory never collide.
const registrationTool = "ssoutil"

// Token is the cached access token record.
type Token struct {
	StartURL              string         `json:"startUrl"`
	Region                string         `json:"region"`
	AccessToken           string         `json:"accessToken"`
	ExpiresAt             filecache.Time `json:"expiresAt"`
	ReceivedAt            filecache.Time `json:"receivedAt,omitempty"`
	ClientID              string         `json:"clientId"`
	ClientSecret          string         `json:"clientSecret"`
	RegistrationExpiresAt filecache.Time `json:"registrationExpiresAt"`
	RefreshToken          string         `json:"refreshToken,omitempty"`
	Scopes                []string       `json:"scopes,omitempty"`
}

// Registration is the cached client registration record. Registrations
// outlive tokens and are cached under a separate key.
type Registration struct {
	ClientID     string         `json:"clientId"`
	ClientSecret string         `json:"clientSecret"`
	ExpiresAt    filecache.Time `json:"expiresAt"`
	ReceivedAt   filecache.Time `json:"receivedAt,omitempty"`
	Scopes       []string       `json:"scopes,omitempty"`
}

// DefaultCacheDir returns the token cache directory shared with the AWS
// CLI.
func DefaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".aws", "sso", "cache")
	}
	return filepath.Join(home, ".aws", "sso", "cache")
}

// CacheKey returns the token cache key: the SHA-1 of the session name
// for a named session, otherwise of the start URL.
func CacheKey(startURL, sessionName string) string {
	if sessionName != "" {
		return filecache.KeyForString(sessionName)
	}
	return filecache.KeyForString(startURL)
}

// RegistrationCacheKey returns the registration cache key: the SHA-1 of
// the canonical JSON of the registration parameters.
func RegistrationCacheKey(startURL, region, sessionName string, scopes []string) (string, error) {
	args := map[string]any{
		"tool":     registrationTool,
		"startUrl": startURL,
		"region":   region,
	}
	if sessionName != "" {
		args["session_name"] = sessionName
	}
	if len(scopes) > 0 {
		args["scopes"] = scopes
	}
	return filecache.KeyForObject(args)
}
