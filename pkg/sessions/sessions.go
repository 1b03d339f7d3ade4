// Package sessions locates SSO sessions from CLI arguments, environment
// variables, and the shared AWS config file, with precedence rules and
// conflict detection.
package sessions

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Source records the provenance of a session for diagnostics. Sources
// chain: an env-var specifier may point at a config profile, which may
// point at a named session section.
type Source struct {
	Type   string
	Name   string
	Parent *Source
}

func (s *Source) String() string {
	if s == nil {
		return ""
	}
	str := s.Type
	if s.Name != "" {
		str += " " + s.Name
	}
	if s.Parent != nil {
		str += " from " + s.Parent.String()
	}
	return str
}

// Names returns every name in the source chain, leaf first.
func (s *Source) Names() []string {
	var names []string
	for cur := s; cur != nil; cur = cur.Parent {
		if cur.Name != "" {
			names = append(names, cur.Name)
		}
	}
	return names
}

// Session is an SSO session. A named session takes its name from
// configuration; an inline session's name is its start URL.
type Session struct {
	SessionName        string
	StartURL           string
	Region             string
	RegistrationScopes []string
	Source             *Source
}

// Name returns the session name, falling back to the start URL for
// inline sessions.
func (s *Session) Name() string {
	if s.SessionName != "" {
		return s.SessionName
	}
	return s.StartURL
}

// IsInline reports whether the session is inline rather than named.
func (s *Session) IsInline() bool {
	return s.SessionName == "" || s.SessionName == s.StartURL
}

func (s *Session) String() string {
	if s.IsInline() {
		return fmt.Sprintf("%s (%s)", s.StartURL, s.Region)
	}
	return fmt.Sprintf("%s: %s (%s)", s.SessionName, s.StartURL, s.Region)
}

// DefaultConfigPath returns the AWS shared config file path, honoring
// AWS_CONFIG_FILE.
func DefaultConfigPath() string {
	if path := os.Getenv("AWS_CONFIG_FILE"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".aws", "config")
	}
	return filepath.Join(home, ".aws", "config")
}

func parseScopes(value string) []string {
	if value == "" {
		return nil
	}
	var scopes []string
	for _, scope := range strings.Split(value, ",") {
		scope = strings.TrimSpace(scope)
		if scope != "" {
			scopes = append(scopes, scope)
		}
	}
	return scopes
}
