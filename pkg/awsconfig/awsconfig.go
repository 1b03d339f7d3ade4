// Package awsconfig writes SSO profiles into the shared AWS config
// file without disturbing unrelated settings.
package awsconfig

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	log "github.com/charmbracelet/log"
	ini "gopkg.in/ini.v1"

	errUtils "github.com/ssoutil/ssoutil/errors"
	"github.com/ssoutil/ssoutil/pkg/sessions"
)

const (
	credentialProcessNameVar    = "AWS_SSO_CREDENTIAL_PROCESS_NAME"
	disableCredentialProcessVar = "AWS_CONFIGURE_SSO_DISABLE_CREDENTIAL_PROCESS"

	defaultCredentialProcess = "ssoutil credential-process"
)

// ExistingConfigAction controls what happens to a profile section that
// already exists.
type ExistingConfigAction string

const (
	// ExistingKeep preserves every existing key; managed keys are
	// updated.
	ExistingKeep ExistingConfigAction = "keep"
	// ExistingOverwrite clears previously managed keys before writing,
	// preserving unrelated ones.
	ExistingOverwrite ExistingConfigAction = "overwrite"
	// ExistingDiscard drops the section wholesale.
	ExistingDiscard ExistingConfigAction = "discard"
)

// managedKeys are the keys the writer owns in a profile section.
var managedKeys = []string{
	"sso_session",
	"sso_start_url",
	"sso_region",
	"sso_registration_scopes",
	"sso_account_id",
	"sso_role_name",
	"region",
	"output",
	"credential_process",
}

// Profile is the SSO profile to write. SessionName, when set, emits an
// sso_session reference instead of inline start URL and region.
type Profile struct {
	SessionName        string
	StartURL           string
	SSORegion          string
	RegistrationScopes []string
	AccountID          string
	RoleName           string
	Region             string
	Output             string

	DisableCredentialProcess bool
}

// CredentialProcessCommand renders the credential_process value for a
// profile. The executable name can be overridden through the
// environment for wrapper installs.
func CredentialProcessCommand(profileName string) string {
	command := os.Getenv(credentialProcessNameVar)
	if command == "" {
		command = defaultCredentialProcess
	}
	if strings.ContainsAny(profileName, " \t") {
		profileName = fmt.Sprintf("%q", profileName)
	}
	return fmt.Sprintf("%s --profile %s", command, profileName)
}

func credentialProcessDisabled() bool {
	value := strings.ToLower(os.Getenv(disableCredentialProcessVar))
	return value == "1" || value == "true"
}

// Writer edits one AWS config file.
type Writer struct {
	path string
}

// NewWriter creates a Writer for the given path, defaulting to the
// shared AWS config file.
func NewWriter(path string) *Writer {
	if path == "" {
		path = sessions.DefaultConfigPath()
	}
	return &Writer{path: path}
}

// Path returns the config file path.
func (w *Writer) Path() string { return w.path }

func profileSectionName(name string) string {
	if name == "default" {
		return "default"
	}
	return "profile " + name
}

// WriteProfile writes or updates one profile section atomically.
func (w *Writer) WriteProfile(name string, profile Profile, action ExistingConfigAction) error {
	file, err := ini.LooseLoad(w.path)
	if err != nil {
		return fmt.Errorf("%w: loading %s: %v", errUtils.ErrConfigProfile, w.path, err)
	}

	sectionName := profileSectionName(name)
	section := file.Section(sectionName)
	switch action {
	case ExistingKeep, "":
	case ExistingOverwrite:
		for _, key := range managedKeys {
			section.DeleteKey(key)
		}
	case ExistingDiscard:
		file.DeleteSection(sectionName)
		section = file.Section(sectionName)
	default:
		return fmt.Errorf("%w: unknown existing-config action %q", errUtils.ErrConfigProfile, action)
	}

	set := func(key, value string) {
		if value != "" {
			section.Key(key).SetValue(value)
		}
	}
	if profile.SessionName != "" {
		set("sso_session", profile.SessionName)
	} else {
		set("sso_start_url", profile.StartURL)
		set("sso_region", profile.SSORegion)
	}
	set("sso_registration_scopes", strings.Join(profile.RegistrationScopes, ","))
	set("sso_account_id", profile.AccountID)
	set("sso_role_name", profile.RoleName)
	set("region", profile.Region)
	set("output", profile.Output)
	if !profile.DisableCredentialProcess && !credentialProcessDisabled() {
		set("credential_process", CredentialProcessCommand(name))
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o700); err != nil {
		return fmt.Errorf("%w: creating config dir: %v", errUtils.ErrConfigProfile, err)
	}
	var buf bytes.Buffer
	if _, err := file.WriteTo(&buf); err != nil {
		return fmt.Errorf("%w: encoding config: %v", errUtils.ErrConfigProfile, err)
	}
	if err := renameio.WriteFile(w.path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("%w: writing %s: %v", errUtils.ErrConfigProfile, w.path, err)
	}
	log.Debug("Wrote profile", "profile", name, "path", w.path)
	return nil
}

// WriteSession writes or updates an sso-session section atomically.
func (w *Writer) WriteSession(name, startURL, region string, scopes []string) error {
	file, err := ini.LooseLoad(w.path)
	if err != nil {
		return fmt.Errorf("%w: loading %s: %v", errUtils.ErrConfigSession, w.path, err)
	}
	section := file.Section("sso-session " + name)
	section.Key("sso_start_url").SetValue(startURL)
	section.Key("sso_region").SetValue(region)
	if len(scopes) > 0 {
		section.Key("sso_registration_scopes").SetValue(strings.Join(scopes, ","))
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o700); err != nil {
		return fmt.Errorf("%w: creating config dir: %v", errUtils.ErrConfigSession, err)
	}
	var buf bytes.Buffer
	if _, err := file.WriteTo(&buf); err != nil {
		return fmt.Errorf("%w: encoding config: %v", errUtils.ErrConfigSession, err)
	}
	if err := renameio.WriteFile(w.path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("%w: writing %s: %v", errUtils.ErrConfigSession, w.path, err)
	}
	return nil
}
