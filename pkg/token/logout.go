package token

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sso"
	log "github.com/charmbracelet/log"
)

// LogoutClient is the subset of the SSO API used for logout.
type LogoutClient interface {
	Logout(ctx context.Context, params *sso.LogoutInput, optFns ...func(*sso.Options)) (*sso.LogoutOutput, error)
}

// Logout removes the cached token for a session and revokes it with the
// service. All errors are swallowed; logout never fails.
func (f *Fetcher) Logout(ctx context.Context, client LogoutClient, startURL, sessionName string) bool {
	cached, found := f.PopTokenFromCache(startURL, sessionName)
	if !found {
		return false
	}
	if client == nil || cached.AccessToken == "" {
		return true
	}
	_, err := client.Logout(ctx, &sso.LogoutInput{
		AccessToken: aws.String(cached.AccessToken),
	})
	if err != nil {
		log.Debug("SSO logout call failed", "startUrl", startURL, "error", err)
	}
	return true
}
