package sessions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errUtils "github.com/ssoutil/ssoutil/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const basicConfig = `
[sso-session corp]
sso_start_url = https://corp.awsapps.com/start
sso_region = us-east-1
sso_registration_scopes = sso:account:access

[profile dev]
sso_session = corp
sso_account_id = 123456789012
sso_role_name = Developer

[profile legacy]
sso_start_url = https://legacy.awsapps.com/start
sso_region = eu-west-1
`

func TestFindAllSessions(t *testing.T) {
	path := writeConfig(t, basicConfig)

	list, err := FindAllSessions(path)
	require.NoError(t, err)
	assert.Empty(t, list.MalformedErrors)

	require.Len(t, list.Sessions, 2)
	corp := list.Sessions[0]
	assert.Equal(t, "corp", corp.SessionName)
	assert.Equal(t, "https://corp.awsapps.com/start", corp.StartURL)
	assert.Equal(t, "us-east-1", corp.Region)
	assert.Equal(t, []string{"sso:account:access"}, corp.RegistrationScopes)
	assert.False(t, corp.IsInline())

	legacy := list.Sessions[1]
	assert.True(t, legacy.IsInline())
	assert.Equal(t, "https://legacy.awsapps.com/start", legacy.Name())
}

func TestFindAllSessionsMalformed(t *testing.T) {
	path := writeConfig(t, `
[sso-session broken]
sso_start_url = https://broken.awsapps.com/start

[profile half]
sso_region = us-west-2

[sso-session ok]
sso_start_url = https://ok.awsapps.com/start
sso_region = us-east-2
`)

	list, err := FindAllSessions(path)
	require.NoError(t, err)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, "ok", list.Sessions[0].SessionName)
	assert.Len(t, list.MalformedErrors, 2)
}

func TestMismatchedSessionDetection(t *testing.T) {
	// Profile P1 uses start URL U inline with region R1; session S,
	// referenced by profile P2, uses U with region R2.
	path := writeConfig(t, `
[profile P1]
sso_start_url = https://u.awsapps.com/start
sso_region = us-east-1
sso_account_id = 123456789012
sso_role_name = Admin

[sso-session S]
sso_start_url = https://u.awsapps.com/start
sso_region = us-west-2

[profile P2]
sso_session = S
sso_account_id = 123456789012
sso_role_name = Admin
`)

	list, err := FindAllSessions(path)
	require.NoError(t, err)
	assert.Len(t, list.Sessions, 2, "both sessions listed")

	var selected *Session
	for _, session := range list.Sessions {
		if session.SessionName == "S" {
			selected = session
		}
	}
	require.NotNil(t, selected)

	err = list.RaiseForMismatch([]*Session{selected})
	require.Error(t, err)
	assert.ErrorIs(t, err, errUtils.ErrMismatchedSession)
	assert.Contains(t, err.Error(), "S")
	assert.Contains(t, err.Error(), "P1")
	assert.Contains(t, err.Error(), "P2")
	assert.Contains(t, err.Error(), "region")
}

func TestRaiseForMismatchCleanConfig(t *testing.T) {
	path := writeConfig(t, basicConfig)
	list, err := FindAllSessions(path)
	require.NoError(t, err)
	assert.NoError(t, list.RaiseForMismatch(list.Sessions))
}

func TestGetSessionFromProfileNamedSession(t *testing.T) {
	path := writeConfig(t, basicConfig)
	session, err := GetSessionFromProfile(path, "dev")
	require.NoError(t, err)
	assert.Equal(t, "corp", session.SessionName)
	assert.Equal(t, "us-east-1", session.Region)
	assert.Contains(t, session.Source.Names(), "dev")
}

func TestGetSessionFromProfileInline(t *testing.T) {
	path := writeConfig(t, basicConfig)
	session, err := GetSessionFromProfile(path, "legacy")
	require.NoError(t, err)
	assert.True(t, session.IsInline())
	assert.Equal(t, "eu-west-1", session.Region)
}

func TestGetSessionFromProfileMissing(t *testing.T) {
	path := writeConfig(t, basicConfig)
	_, err := GetSessionFromProfile(path, "nope")
	assert.ErrorIs(t, err, errUtils.ErrConfigProfile)
}

func TestGetSessionFromConfigSessionMissing(t *testing.T) {
	path := writeConfig(t, basicConfig)
	_, err := GetSessionFromConfigSession(path, "nope", nil)
	assert.ErrorIs(t, err, errUtils.ErrConfigSession)
}

func TestFindSessionsDirectPairSkipsConfigFile(t *testing.T) {
	selected, err := FindSessions(FindOptions{
		StartURL:   "https://direct.awsapps.com/start",
		Region:     "us-east-1",
		ConfigPath: filepath.Join(t.TempDir(), "does-not-exist"),
	})
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, "https://direct.awsapps.com/start", selected[0].StartURL)
	assert.Equal(t, "us-east-1", selected[0].Region)
}

func TestFindSessionsByNameRegex(t *testing.T) {
	path := writeConfig(t, basicConfig)
	selected, err := FindSessions(FindOptions{Specifier: "^corp$", ConfigPath: path})
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, "corp", selected[0].SessionName)
}

func TestFindSessionsByStartURL(t *testing.T) {
	path := writeConfig(t, basicConfig)
	selected, err := FindSessions(FindOptions{
		Specifier:  "https://legacy.awsapps.com/start",
		ConfigPath: path,
	})
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, "https://legacy.awsapps.com/start", selected[0].StartURL)
}

func TestFindSessionsAmbiguous(t *testing.T) {
	path := writeConfig(t, basicConfig)
	_, err := FindSessions(FindOptions{ConfigPath: path})
	assert.ErrorIs(t, err, errUtils.ErrAmbiguousSession)
}

func TestFindSessionsLoginAll(t *testing.T) {
	path := writeConfig(t, basicConfig)
	selected, err := FindSessions(FindOptions{ConfigPath: path, LoginAll: true})
	require.NoError(t, err)
	assert.Len(t, selected, 2)
}

func TestFindSessionsNoMatch(t *testing.T) {
	path := writeConfig(t, basicConfig)
	_, err := FindSessions(FindOptions{Specifier: "^absent$", ConfigPath: path})
	assert.ErrorIs(t, err, errUtils.ErrNoSessionFound)
}

func TestFindSessionsEnvSpecifier(t *testing.T) {
	path := writeConfig(t, basicConfig)
	t.Setenv("AWS_SSO_SESSION", "corp")
	selected, err := FindSessions(FindOptions{ConfigPath: path})
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, "corp", selected[0].SessionName)
}

func TestParseSpecifierInline(t *testing.T) {
	spec, err := ParseSpecifier(`{"sso_start_url": "https://x.awsapps.com/start", "sso_region": "us-east-1"}`, "", nil)
	require.NoError(t, err)
	assert.Equal(t, SpecifierInline, spec.Kind)
	require.NotNil(t, spec.Session)
	assert.True(t, spec.Session.IsInline())
	assert.Equal(t, "us-east-1", spec.Session.Region)
}

func TestParseSpecifierInlineMissingRegion(t *testing.T) {
	_, err := ParseSpecifier(`{"sso_start_url": "https://x.awsapps.com/start"}`, "", nil)
	assert.ErrorIs(t, err, errUtils.ErrInlineSession)
}

func TestParseSpecifierInlineScopesList(t *testing.T) {
	spec, err := ParseSpecifier(`{"sso_start_url": "https://x.awsapps.com/start", "sso_region": "us-east-1", "sso_registration_scopes": ["sso:account:access"]}`, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"sso:account:access"}, spec.Session.RegistrationScopes)
}

func TestGetSpecifierDefaultEnvVars(t *testing.T) {
	t.Setenv("AWS_DEFAULT_SSO_START_URL", "https://env.awsapps.com/start")
	t.Setenv("AWS_DEFAULT_SSO_REGION", "ap-southeast-2")
	spec, err := GetSpecifier(SpecifierArgs{})
	require.NoError(t, err)
	require.NotNil(t, spec)
	assert.Equal(t, SpecifierInline, spec.Kind)
	assert.Equal(t, "ap-southeast-2", spec.Session.Region)
}

func TestGetSpecifierNothingSet(t *testing.T) {
	spec, err := GetSpecifier(SpecifierArgs{})
	require.NoError(t, err)
	assert.Nil(t, spec)
}
