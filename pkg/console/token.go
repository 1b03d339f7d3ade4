package console

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	errUtils "github.com/ssoutil/ssoutil/errors"
)

// ConfigTokenVersion is the current config-token format version.
const ConfigTokenVersion = 1

// ConfigToken is a compact, shareable description of a console launch:
// which role to assume and where to land. It serializes with short
// keys to keep the base64 form short.
type ConfigToken struct {
	Version         int    `json:"v"`
	StartURL        string `json:"ssourl,omitempty"`
	SSORegion       string `json:"ssoreg,omitempty"`
	AccountID       string `json:"acc,omitempty"`
	RoleName        string `json:"rol,omitempty"`
	Region          string `json:"reg,omitempty"`
	URL             string `json:"url,omitempty"`
	Issuer          string `json:"iss,omitempty"`
	Destination     string `json:"dst,omitempty"`
	SessionDuration int    `json:"dur,omitempty"`
}

// Encode serializes the token as base64url JSON.
func (t ConfigToken) Encode() (string, error) {
	if t.Version == 0 {
		t.Version = ConfigTokenVersion
	}
	encoded, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(encoded), nil
}

// DecodeConfigToken parses a config token. Unknown keys are ignored so
// newer tokens still decode.
func DecodeConfigToken(value string) (ConfigToken, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		// Tolerate padded input.
		decoded, err = base64.URLEncoding.DecodeString(value)
		if err != nil {
			return ConfigToken{}, fmt.Errorf("%w: invalid config token encoding: %v", errUtils.ErrFormat, err)
		}
	}
	var token ConfigToken
	if err := json.Unmarshal(decoded, &token); err != nil {
		return ConfigToken{}, fmt.Errorf("%w: invalid config token payload: %v", errUtils.ErrFormat, err)
	}
	if token.Version == 0 {
		return ConfigToken{}, fmt.Errorf("%w: config token missing version", errUtils.ErrFormat)
	}
	return token, nil
}
