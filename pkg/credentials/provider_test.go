package credentials

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sso"
	"github.com/aws/aws-sdk-go-v2/service/sso/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssoutil/ssoutil/pkg/filecache"
	"github.com/ssoutil/ssoutil/pkg/sessions"
	"github.com/ssoutil/ssoutil/pkg/token"
)

func TestProviderRetrieve(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	expiration := now.Add(time.Hour)
	session := &sessions.Session{
		SessionName: "corp",
		StartURL:    "https://corp.awsapps.com/start",
		Region:      "us-east-2",
	}

	// Seed the token cache so Retrieve never reaches the OIDC API.
	tokenStore := filecache.New(t.TempDir())
	require.NoError(t, tokenStore.Put(token.CacheKey(session.StartURL, session.SessionName), &token.Token{
		StartURL:    session.StartURL,
		Region:      session.Region,
		AccessToken: "access-token",
		ExpiresAt:   filecache.NewTime(now.Add(2 * time.Hour)),
	}))
	fetcher := token.NewFetcher(nil,
		token.WithCache(tokenStore),
		token.WithClock(func() time.Time { return now }),
	)

	client := &fakeSSO{
		output: &sso.GetRoleCredentialsOutput{
			RoleCredentials: &types.RoleCredentials{
				AccessKeyId:     aws.String("AKIA"),
				SecretAccessKey: aws.String("secret"),
				SessionToken:    aws.String("session"),
				Expiration:      expiration.UnixMilli(),
			},
		},
	}
	engine, _ := newTestEngine(t, client, now)

	provider := NewProvider(engine, fetcher, session, "123456789012", "Admin")
	creds, err := provider.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIA", creds.AccessKeyID)
	assert.Equal(t, "secret", creds.SecretAccessKey)
	assert.Equal(t, "session", creds.SessionToken)
	assert.True(t, creds.CanExpire)
	assert.Equal(t, expiration, creds.Expires)
	assert.Equal(t, "SSORoleCredentials", creds.Source)
	assert.Equal(t, 1, client.calls)
}
