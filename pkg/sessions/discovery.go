package sessions

import (
	"fmt"
	"os"
	"slices"
	"strings"

	log "github.com/charmbracelet/log"
	"gopkg.in/ini.v1"

	errUtils "github.com/ssoutil/ssoutil/errors"
)

const (
	keyStartURL    = "sso_start_url"
	keyRegion      = "sso_region"
	keyScopes      = "sso_registration_scopes"
	keySessionName = "sso_session"
)

// Mismatch describes sessions that share a name or start URL but
// disagree on a field.
type Mismatch struct {
	Name     string
	Field    string
	Sessions []*Session
}

func (m *Mismatch) message() string {
	var values []string
	for _, session := range m.Sessions {
		value := session.Region
		if m.Field == "start_url" {
			value = session.StartURL
		}
		values = append(values, fmt.Sprintf("%s (%s)", value, session.Source))
	}
	return fmt.Sprintf("session %s has conflicting %s values: %s", m.Name, m.Field, strings.Join(values, ", "))
}

// SessionList is the result of scanning the config file.
type SessionList struct {
	// Sessions is the deduplicated list in config order.
	Sessions []*Session
	// All includes duplicates, before deduplication.
	All []*Session
	// MalformedErrors collects entries missing one of the two required
	// fields; they do not abort the scan.
	MalformedErrors []error
	// Mismatches maps a session name to the conflicts it participates in.
	Mismatches map[string][]*Mismatch
}

// RaiseForMismatch fails when any selected session participates in a
// mismatch.
func (l *SessionList) RaiseForMismatch(selected []*Session) error {
	for _, session := range selected {
		for _, mismatch := range l.Mismatches[session.Name()] {
			return fmt.Errorf("%w: %s", errUtils.ErrMismatchedSession, mismatch.message())
		}
	}
	return nil
}

func loadConfigFile(configPath string) (*ini.File, error) {
	if configPath == "" {
		configPath = DefaultConfigPath()
	}
	file, err := ini.LoadSources(ini.LoadOptions{AllowNonUniqueSections: false}, configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ini.Empty(), nil
		}
		return nil, fmt.Errorf("loading config file %s: %w", configPath, err)
	}
	return file, nil
}

func sessionFromSection(section *ini.Section, name string, source *Source) (*Session, error) {
	startURL := section.Key(keyStartURL).String()
	region := section.Key(keyRegion).String()
	if startURL == "" || region == "" {
		missing := keyStartURL
		if startURL != "" {
			missing = keyRegion
		}
		return nil, fmt.Errorf("%w: session %s is missing %s", errUtils.ErrConfigSession, name, missing)
	}
	return &Session{
		SessionName:        name,
		StartURL:           startURL,
		Region:             region,
		RegistrationScopes: parseScopes(section.Key(keyScopes).String()),
		Source:             source,
	}, nil
}

// FindAllSessions scans the config file for every usable session, from
// both named sso-session sections and profile entries with inline SSO
// fields. Profiles referencing a named session contribute that session
// with the profile recorded in the source chain.
func FindAllSessions(configPath string) (*SessionList, error) {
	file, err := loadConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	list := &SessionList{Mismatches: map[string][]*Mismatch{}}

	for _, section := range file.Sections() {
		sectionName := section.Name()
		switch {
		case strings.HasPrefix(sectionName, "sso-session "):
			name := strings.TrimPrefix(sectionName, "sso-session ")
			session, err := sessionFromSection(section, name, &Source{Type: "sso-session", Name: name})
			if err != nil {
				list.MalformedErrors = append(list.MalformedErrors, err)
				continue
			}
			list.All = append(list.All, session)
		case strings.HasPrefix(sectionName, "profile ") || sectionName == "default":
			profileName := strings.TrimPrefix(sectionName, "profile ")
			profileSource := &Source{Type: "profile", Name: profileName}

			if referenced := section.Key(keySessionName).String(); referenced != "" {
				sessionSection := file.Section("sso-session " + referenced)
				source := &Source{Type: "sso-session", Name: referenced, Parent: profileSource}
				if len(sessionSection.Keys()) == 0 {
					list.MalformedErrors = append(list.MalformedErrors,
						fmt.Errorf("%w: profile %s references missing session %s", errUtils.ErrConfigProfile, profileName, referenced))
					continue
				}
				session, err := sessionFromSection(sessionSection, referenced, source)
				if err != nil {
					list.MalformedErrors = append(list.MalformedErrors, err)
					continue
				}
				list.All = append(list.All, session)
				continue
			}

			startURL := section.Key(keyStartURL).String()
			region := section.Key(keyRegion).String()
			if startURL == "" && region == "" {
				continue
			}
			if startURL == "" || region == "" {
				missing := keyStartURL
				if startURL != "" {
					missing = keyRegion
				}
				list.MalformedErrors = append(list.MalformedErrors,
					fmt.Errorf("%w: profile %s is missing %s", errUtils.ErrConfigProfile, profileName, missing))
				continue
			}
			list.All = append(list.All, &Session{
				SessionName:        startURL,
				StartURL:           startURL,
				Region:             region,
				RegistrationScopes: parseScopes(section.Key(keyScopes).String()),
				Source:             profileSource,
			})
		}
	}

	list.dedupe()
	list.detectMismatches()
	return list, nil
}

func (l *SessionList) dedupe() {
	seen := map[string]*Session{}
	for _, session := range l.All {
		name := session.Name()
		if existing, ok := seen[name]; ok {
			if existing.StartURL != session.StartURL {
				l.addMismatch(&Mismatch{Name: name, Field: "start_url", Sessions: []*Session{existing, session}})
			}
			if existing.Region != session.Region {
				l.addMismatch(&Mismatch{Name: name, Field: "region", Sessions: []*Session{existing, session}})
			}
			continue
		}
		seen[name] = session
		l.Sessions = append(l.Sessions, session)
	}
}

// detectMismatches flags sessions sharing a start URL with conflicting
// regions, which would make the two cache entries fight each other.
func (l *SessionList) detectMismatches() {
	byURL := map[string][]*Session{}
	for _, session := range l.All {
		byURL[session.StartURL] = append(byURL[session.StartURL], session)
	}
	for _, group := range byURL {
		if len(group) < 2 {
			continue
		}
		conflicting := false
		for _, session := range group[1:] {
			if session.Region != group[0].Region {
				conflicting = true
				break
			}
		}
		if !conflicting {
			continue
		}
		names := map[string]bool{}
		for _, session := range group {
			names[session.Name()] = true
		}
		for name := range names {
			l.addMismatch(&Mismatch{Name: name, Field: "region", Sessions: group})
		}
	}
}

func (l *SessionList) addMismatch(m *Mismatch) {
	l.Mismatches[m.Name] = append(l.Mismatches[m.Name], m)
}

// GetSessionFromConfigSession loads a named sso-session section.
func GetSessionFromConfigSession(configPath, name string, parent *Source) (*Session, error) {
	file, err := loadConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	section := file.Section("sso-session " + name)
	if len(section.Keys()) == 0 {
		return nil, fmt.Errorf("%w: session %s not found", errUtils.ErrConfigSession, name)
	}
	return sessionFromSection(section, name, &Source{Type: "sso-session", Name: name, Parent: parent})
}

// GetSessionFromProfile loads the session a profile uses, whether via a
// named session reference or inline sso_* fields.
func GetSessionFromProfile(configPath, profileName string) (*Session, error) {
	file, err := loadConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	sectionName := "profile " + profileName
	if profileName == "default" {
		sectionName = "default"
	}
	section := file.Section(sectionName)
	if len(section.Keys()) == 0 {
		return nil, fmt.Errorf("%w: profile %s not found", errUtils.ErrConfigProfile, profileName)
	}
	source := &Source{Type: "profile", Name: profileName}

	if referenced := section.Key(keySessionName).String(); referenced != "" {
		return GetSessionFromConfigSession(configPath, referenced, source)
	}

	startURL := section.Key(keyStartURL).String()
	region := section.Key(keyRegion).String()
	if startURL == "" || region == "" {
		return nil, fmt.Errorf("%w: profile %s has no usable SSO configuration", errUtils.ErrConfigProfile, profileName)
	}
	return &Session{
		SessionName:        startURL,
		StartURL:           startURL,
		Region:             region,
		RegistrationScopes: parseScopes(section.Key(keyScopes).String()),
		Source:             source,
	}, nil
}

// FindOptions are the inputs to FindSessions. Precedence, highest first:
// ProfileName, SessionName, the (StartURL, Region) pair, Specifier, the
// AWS_SSO_SESSION env var, then a scan of the whole config file.
type FindOptions struct {
	ProfileName string
	SessionName string
	StartURL    string
	Region      string
	Specifier   string
	LoginAll    bool
	ConfigPath  string

	StartURLVars []string
	RegionVars   []string
}

// FindSessions resolves a non-empty ordered list of sessions or fails
// with a taxonomized error.
func FindSessions(opts FindOptions) ([]*Session, error) {
	if opts.ProfileName != "" {
		session, err := GetSessionFromProfile(opts.ConfigPath, opts.ProfileName)
		if err != nil {
			return nil, err
		}
		return []*Session{session}, nil
	}

	if opts.SessionName != "" {
		session, err := GetSessionFromConfigSession(opts.ConfigPath, opts.SessionName, nil)
		if err != nil {
			return nil, err
		}
		return []*Session{session}, nil
	}

	specifier, err := GetSpecifier(SpecifierArgs{
		StartURL:     opts.StartURL,
		Region:       opts.Region,
		Specifier:    opts.Specifier,
		StartURLVars: opts.StartURLVars,
		RegionVars:   opts.RegionVars,
	})
	if err != nil {
		return nil, err
	}

	// A fully specified inline session never touches the config file.
	if specifier != nil && specifier.Kind == SpecifierInline {
		return []*Session{specifier.Session}, nil
	}

	list, err := FindAllSessions(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	for _, malformed := range list.MalformedErrors {
		log.Debug("Skipping malformed config entry", "error", malformed)
	}

	candidates := list.Sessions
	if specifier != nil {
		candidates = slices.DeleteFunc(slices.Clone(candidates), func(s *Session) bool {
			return !specifier.Matches(s)
		})
	}

	if len(candidates) == 0 {
		if specifier != nil {
			return nil, fmt.Errorf("%w: no session matched %s", errUtils.ErrNoSessionFound, specifier.Value)
		}
		return nil, fmt.Errorf("%w: no sessions in config file", errUtils.ErrNoSessionFound)
	}

	if len(candidates) > 1 && !opts.LoginAll {
		var names []string
		for _, session := range candidates {
			names = append(names, session.Name())
		}
		return nil, fmt.Errorf("%w: matched %s", errUtils.ErrAmbiguousSession, strings.Join(names, ", "))
	}

	if specifier != nil && specifier.Region != "" && len(candidates) == 1 &&
		candidates[0].Region != specifier.Region {
		log.Warn("Session region differs from requested region",
			"session", candidates[0].Name(),
			"sessionRegion", candidates[0].Region,
			"requestedRegion", specifier.Region)
	}

	if err := list.RaiseForMismatch(candidates); err != nil {
		return nil, err
	}

	return candidates, nil
}
