package cmd

import (
	"encoding/json"
	"testing"
	"time"

	oidctypes "github.com/aws/aws-sdk-go-v2/service/ssooidc/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errUtils "github.com/ssoutil/ssoutil/errors"
	"github.com/ssoutil/ssoutil/pkg/console"
	"github.com/ssoutil/ssoutil/pkg/filecache"
)

func TestLoginErrorExitCodes(t *testing.T) {
	expired := loginError(errUtils.ErrPendingAuthorizationExpired)
	assert.Equal(t, exitLoginExpired, errUtils.GetExitCode(expired))

	invalidGrant := loginError(&oidctypes.InvalidGrantException{})
	assert.Equal(t, exitLoginInvalidGrant, errUtils.GetExitCode(invalidGrant))

	clientErr := loginError(&smithy.GenericAPIError{Code: "AccessDeniedException"})
	assert.Equal(t, exitLoginClientError, errUtils.GetExitCode(clientErr))

	plain := loginError(assert.AnError)
	assert.Equal(t, 1, errUtils.GetExitCode(plain))
}

func TestSessionFlagsCommandEnvDefaults(t *testing.T) {
	t.Setenv("AWS_SSO_SESSION", "")
	t.Setenv("AWS_DEFAULT_SSO_START_URL", "https://generic.awsapps.com/start")
	t.Setenv("AWS_DEFAULT_SSO_REGION", "us-west-2")
	t.Setenv("AWS_SSO_LOGIN_DEFAULT_SSO_START_URL", "https://login.awsapps.com/start")
	t.Setenv("AWS_SSO_LOGIN_DEFAULT_SSO_REGION", "us-east-1")
	t.Setenv("AWS_CONFIGURE_SSO_DEFAULT_SSO_START_URL", "https://configure.awsapps.com/start")
	t.Setenv("AWS_CONFIGURE_SSO_DEFAULT_SSO_REGION", "eu-central-1")

	flags := &sessionFlags{startURLVars: loginStartURLVars, regionVars: loginRegionVars}
	session, err := flags.findSession("")
	require.NoError(t, err)
	assert.Equal(t, "https://login.awsapps.com/start", session.StartURL)
	assert.Equal(t, "us-east-1", session.Region)

	flags = &sessionFlags{startURLVars: configureStartURLVars, regionVars: configureRegionVars}
	session, err = flags.findSession("")
	require.NoError(t, err)
	assert.Equal(t, "https://configure.awsapps.com/start", session.StartURL)
	assert.Equal(t, "eu-central-1", session.Region)

	// Without command-specific vars the generic pair still applies.
	flags = &sessionFlags{}
	session, err = flags.findSession("")
	require.NoError(t, err)
	assert.Equal(t, "https://generic.awsapps.com/start", session.StartURL)
	assert.Equal(t, "us-west-2", session.Region)
}

func TestConsoleIssuerFallbackChain(t *testing.T) {
	t.Setenv("AWS_CONSOLE_DEFAULT_ISSUER", "")
	assert.Equal(t, "https://flag-issuer", consoleIssuer("https://flag-issuer", "https://corp.awsapps.com/start"))
	assert.Equal(t, "https://corp.awsapps.com/start", consoleIssuer("", "https://corp.awsapps.com/start"))
	assert.Equal(t, console.DefaultIssuer, consoleIssuer("", ""))

	t.Setenv("AWS_CONSOLE_DEFAULT_ISSUER", "https://env-issuer")
	assert.Equal(t, "https://env-issuer", consoleIssuer("", "https://corp.awsapps.com/start"))
}

func TestConsoleDefaultRegionEnv(t *testing.T) {
	t.Setenv("AWS_CONSOLE_DEFAULT_REGION", "ap-southeast-2")
	assert.Equal(t, "ap-southeast-2", env.GetString("console_default_region"))
}

func TestCredentialProcessOutputShape(t *testing.T) {
	out := credentialProcessOutput{
		Version:         1,
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "secret",
		SessionToken:    "token",
		Expiration:      filecache.NewTime(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
	encoded, err := json.Marshal(out)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, float64(1), decoded["Version"])
	assert.Equal(t, "AKIAEXAMPLE", decoded["AccessKeyId"])
	assert.Equal(t, "secret", decoded["SecretAccessKey"])
	assert.Equal(t, "token", decoded["SessionToken"])
	assert.Equal(t, "2024-06-01T12:00:00Z", decoded["Expiration"])
}
