package cmd

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconf "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sso"
	"github.com/aws/aws-sdk-go-v2/service/ssooidc"
	"github.com/spf13/pflag"

	"github.com/ssoutil/ssoutil/pkg/sessions"
	"github.com/ssoutil/ssoutil/pkg/token"
)

// sessionFlags are the shared flags commands use to pick an SSO
// session.
type sessionFlags struct {
	profile     string
	sessionName string
	startURL    string
	region      string

	// Command-specific env vars consulted for the default start URL and
	// region, ahead of the generic AWS_DEFAULT_SSO_* pair.
	startURLVars []string
	regionVars   []string
}

func addSessionFlags(fs *pflag.FlagSet) *sessionFlags {
	flags := &sessionFlags{}
	fs.StringVar(&flags.profile, "profile", "", "Config profile to take the SSO session from")
	fs.StringVar(&flags.sessionName, "sso-session", "", "Named sso-session from the config file")
	fs.StringVar(&flags.startURL, "sso-start-url", "", "SSO start URL")
	fs.StringVar(&flags.region, "sso-region", "", "SSO region")
	return flags
}

// findSessions resolves the flags (and a positional specifier, when
// given) to one or more sessions.
func (f *sessionFlags) findSessions(specifier string, all bool) ([]*sessions.Session, error) {
	return sessions.FindSessions(sessions.FindOptions{
		ProfileName:  f.profile,
		SessionName:  f.sessionName,
		StartURL:     f.startURL,
		Region:       f.region,
		Specifier:    specifier,
		LoginAll:     all,
		StartURLVars: f.startURLVars,
		RegionVars:   f.regionVars,
	})
}

func (f *sessionFlags) findSession(specifier string) (*sessions.Session, error) {
	found, err := f.findSessions(specifier, false)
	if err != nil {
		return nil, err
	}
	return found[0], nil
}

// newFetcher builds a token fetcher for one SSO region. The OIDC API
// is unauthenticated, so no credentials are wired.
func newFetcher(region string, opts ...token.Option) *token.Fetcher {
	client := ssooidc.New(ssooidc.Options{Region: region})
	return token.NewFetcher(client, opts...)
}

// newSSOClient builds the user-facing SSO client for one region.
func newSSOClient(region string) *sso.Client {
	return sso.New(sso.Options{Region: region})
}

// adminConfig loads the default credential chain for the admin APIs
// (SSO admin, identity store, Organizations, STS, S3).
func adminConfig(ctx context.Context, profile, region string) (aws.Config, error) {
	var optFns []func(*awsconf.LoadOptions) error
	if profile != "" {
		optFns = append(optFns, awsconf.WithSharedConfigProfile(profile))
	}
	if region != "" {
		optFns = append(optFns, awsconf.WithRegion(region))
	}
	return awsconf.LoadDefaultConfig(ctx, optFns...)
}

func sessionNameForFetch(session *sessions.Session) string {
	if session.IsInline() {
		return ""
	}
	return session.SessionName
}

func fetchInputForSession(session *sessions.Session, force bool) token.FetchInput {
	return token.FetchInput{
		StartURL:     session.StartURL,
		Region:       session.Region,
		SessionName:  sessionNameForFetch(session),
		Scopes:       session.RegistrationScopes,
		ForceRefresh: force,
	}
}
