package credentials

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/ssoutil/ssoutil/pkg/sessions"
	"github.com/ssoutil/ssoutil/pkg/token"
)

// Provider implements aws.CredentialsProvider on top of the token
// fetcher and the credential engine, so SDK clients can assume an SSO
// role directly.
type Provider struct {
	engine    *Engine
	fetcher   *token.Fetcher
	session   *sessions.Session
	accountID string
	roleName  string
}

// NewProvider builds a Provider for one role in one account.
func NewProvider(engine *Engine, fetcher *token.Fetcher, session *sessions.Session, accountID, roleName string) *Provider {
	return &Provider{
		engine:    engine,
		fetcher:   fetcher,
		session:   session,
		accountID: accountID,
		roleName:  roleName,
	}
}

// Retrieve implements aws.CredentialsProvider.
func (p *Provider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	sessionName := ""
	if !p.session.IsInline() {
		sessionName = p.session.SessionName
	}
	tok, err := p.fetcher.Fetch(ctx, token.FetchInput{
		StartURL:    p.session.StartURL,
		Region:      p.session.Region,
		SessionName: sessionName,
		Scopes:      p.session.RegistrationScopes,
	})
	if err != nil {
		return aws.Credentials{}, err
	}

	creds, err := p.engine.Get(ctx, tok.AccessToken, Request{
		StartURL:  p.session.StartURL,
		AccountID: p.accountID,
		RoleName:  p.roleName,
	})
	if err != nil {
		return aws.Credentials{}, err
	}

	return aws.Credentials{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
		CanExpire:       true,
		Expires:         creds.Expiration.Time,
		Source:          "SSORoleCredentials",
	}, nil
}
