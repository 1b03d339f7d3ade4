package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	errUtils "github.com/ssoutil/ssoutil/errors"
)

// SpecifierKind discriminates the three specifier forms.
type SpecifierKind int

const (
	// SpecifierInline is a JSON session descriptor.
	SpecifierInline SpecifierKind = iota
	// SpecifierStartURL matches sessions by literal start URL.
	SpecifierStartURL
	// SpecifierNameRegex matches session names by regular expression.
	SpecifierNameRegex
)

// Specifier selects sessions. A value starting with "{" is an inline
// descriptor, a value starting with "http" matches start URLs literally,
// anything else is a regex over session names.
type Specifier struct {
	Value   string
	Kind    SpecifierKind
	Session *Session
	Pattern *regexp.Regexp
	Region  string
	Source  *Source
}

type inlineDescriptor struct {
	StartURL string `json:"sso_start_url"`
	Region   string `json:"sso_region"`
	Scopes   any    `json:"sso_registration_scopes,omitempty"`
}

// ParseSpecifier parses a user-supplied specifier value. The optional
// region constrains matches; for an inline descriptor it must agree with
// the descriptor's own region if both are present.
func ParseSpecifier(value, region string, source *Source) (*Specifier, error) {
	spec := &Specifier{
		Value:  value,
		Region: region,
		Source: source,
	}

	switch {
	case strings.HasPrefix(value, "{"):
		spec.Kind = SpecifierInline
		session, err := parseInlineSession(value, source)
		if err != nil {
			return nil, err
		}
		if region != "" && session.Region != "" && region != session.Region {
			return nil, fmt.Errorf("%w: region %s conflicts with descriptor region %s",
				errUtils.ErrInlineSession, region, session.Region)
		}
		if session.Region == "" {
			session.Region = region
		}
		if session.Region == "" {
			return nil, fmt.Errorf("%w: missing sso_region in %s", errUtils.ErrInlineSession, value)
		}
		spec.Session = session
	case strings.HasPrefix(value, "http"):
		spec.Kind = SpecifierStartURL
	default:
		pattern, err := regexp.Compile(value)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid session name pattern %q: %v", errUtils.ErrFormat, value, err)
		}
		spec.Kind = SpecifierNameRegex
		spec.Pattern = pattern
	}
	return spec, nil
}

func parseInlineSession(value string, source *Source) (*Session, error) {
	var desc inlineDescriptor
	if err := json.Unmarshal([]byte(value), &desc); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", errUtils.ErrInlineSession, value, err)
	}
	if desc.StartURL == "" {
		return nil, fmt.Errorf("%w: missing sso_start_url in %s", errUtils.ErrInlineSession, value)
	}
	session := &Session{
		SessionName: desc.StartURL,
		StartURL:    desc.StartURL,
		Region:      desc.Region,
		Source:      source,
	}
	switch scopes := desc.Scopes.(type) {
	case string:
		session.RegistrationScopes = parseScopes(scopes)
	case []any:
		for _, scope := range scopes {
			s, ok := scope.(string)
			if !ok {
				return nil, fmt.Errorf("%w: invalid sso_registration_scopes in %s", errUtils.ErrInlineSession, value)
			}
			session.RegistrationScopes = append(session.RegistrationScopes, s)
		}
	case nil:
	default:
		return nil, fmt.Errorf("%w: invalid sso_registration_scopes in %s", errUtils.ErrInlineSession, value)
	}
	return session, nil
}

// EncodeInlineSpecifier encodes a (start URL, region) pair as an inline
// descriptor value.
func EncodeInlineSpecifier(startURL, region string) string {
	data, _ := json.Marshal(inlineDescriptor{StartURL: startURL, Region: region})
	return string(data)
}

// Matches reports whether the specifier selects the session.
func (s *Specifier) Matches(session *Session) bool {
	switch s.Kind {
	case SpecifierInline:
		return s.Session.StartURL == session.StartURL
	case SpecifierStartURL:
		return s.Value == session.StartURL
	case SpecifierNameRegex:
		return s.Pattern.MatchString(session.Name())
	}
	return false
}

// SpecifierArgs are the inputs to specifier resolution, highest
// precedence first: the CLI pair, the CLI bare value, AWS_SSO_SESSION,
// then default env vars.
type SpecifierArgs struct {
	StartURL  string
	Region    string
	Specifier string

	// Extra env var names consulted before the AWS_DEFAULT_SSO_* pair,
	// letting commands add their own defaults.
	StartURLVars []string
	RegionVars   []string
}

// GetSpecifier resolves the effective specifier, or nil when nothing
// selects a session.
func GetSpecifier(args SpecifierArgs) (*Specifier, error) {
	if args.StartURL != "" && args.Region != "" {
		value := EncodeInlineSpecifier(args.StartURL, args.Region)
		return ParseSpecifier(value, "", &Source{Type: "CLI input"})
	}

	if args.Specifier != "" {
		return ParseSpecifier(args.Specifier, args.Region, &Source{Type: "CLI input"})
	}

	if value := os.Getenv("AWS_SSO_SESSION"); value != "" {
		return ParseSpecifier(value, args.Region, &Source{Type: "env var", Name: "AWS_SSO_SESSION"})
	}

	urlVars := append(append([]string{}, args.StartURLVars...), "AWS_DEFAULT_SSO_START_URL")
	regionVars := append(append([]string{}, args.RegionVars...), "AWS_DEFAULT_SSO_REGION")

	var startURL, urlVar string
	for _, name := range urlVars {
		if value := os.Getenv(name); value != "" {
			startURL = value
			urlVar = name
			break
		}
	}
	if startURL == "" {
		return nil, nil
	}

	var region string
	for _, name := range regionVars {
		if value := os.Getenv(name); value != "" {
			region = value
			break
		}
	}

	source := &Source{Type: "env var", Name: urlVar}
	if region != "" {
		return ParseSpecifier(EncodeInlineSpecifier(startURL, region), "", source)
	}
	return ParseSpecifier(startURL, args.Region, source)
}
