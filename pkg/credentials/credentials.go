// Package credentials exchanges an SSO access token for temporary role
// credentials, with an on-disk cache keyed by request fingerprint.
package credentials

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sso"
	"github.com/aws/aws-sdk-go-v2/service/sso/types"
	"github.com/aws/smithy-go"
	log "github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"

	errUtils "github.com/ssoutil/ssoutil/errors"
	"github.com/ssoutil/ssoutil/pkg/filecache"
)

// DefaultExpiryWindow is how long before expiry cached credentials are
// treated as expired, matching the SDK's refresh window.
const DefaultExpiryWindow = 15 * time.Minute

// APIClient is the subset of the SSO API the engine calls.
type APIClient interface {
	GetRoleCredentials(ctx context.Context, params *sso.GetRoleCredentialsInput, optFns ...func(*sso.Options)) (*sso.GetRoleCredentialsOutput, error)
}

// Credentials is the cached role-credentials record. Expiration is
// serialized ISO-8601 with a literal Z.
type Credentials struct {
	AccessKeyID     string         `json:"AccessKeyId"`
	SecretAccessKey string         `json:"SecretAccessKey"`
	SessionToken    string         `json:"SessionToken"`
	Expiration      filecache.Time `json:"Expiration"`
}

// Request identifies the role credentials to obtain.
type Request struct {
	StartURL  string
	AccountID string
	RoleName  string
}

// CacheKey returns the request fingerprint: the SHA-1 of the canonical
// JSON of the start URL, role name, and account id.
func CacheKey(req Request) (string, error) {
	return filecache.KeyForObject(map[string]string{
		"startUrl":  req.StartURL,
		"roleName":  req.RoleName,
		"accountId": req.AccountID,
	})
}

// DefaultCacheDir returns the credentials cache directory shared with
// the AWS CLI.
func DefaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".aws", "cli", "cache")
	}
	return filepath.Join(home, ".aws", "cli", "cache")
}

// Engine fetches and caches role credentials.
type Engine struct {
	client       APIClient
	cache        *filecache.Store
	now          func() time.Time
	expiryWindow time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache overrides the cache store.
func WithCache(store *filecache.Store) Option {
	return func(e *Engine) { e.cache = store }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithExpiryWindow overrides the cached-credentials expiry window.
func WithExpiryWindow(window time.Duration) Option {
	return func(e *Engine) { e.expiryWindow = window }
}

// NewEngine creates an Engine with the default cache directory.
func NewEngine(client APIClient, opts ...Option) *Engine {
	e := &Engine{
		client:       client,
		cache:        filecache.New(DefaultCacheDir()),
		now:          time.Now,
		expiryWindow: DefaultExpiryWindow,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Get returns role credentials for the request, from cache when fresh.
func (e *Engine) Get(ctx context.Context, accessToken string, req Request) (*Credentials, error) {
	key, err := CacheKey(req)
	if err != nil {
		return nil, err
	}

	var cached Credentials
	found, err := e.cache.Get(key, &cached)
	if err != nil {
		log.Debug("Ignoring unreadable credentials cache entry", "key", key, "error", err)
		found = false
	}
	if found && cached.Expiration.Sub(e.now()) > e.expiryWindow {
		log.Debug("Using cached role credentials",
			"accountId", req.AccountID, "roleName", req.RoleName, "expiration", cached.Expiration.Time)
		return &cached, nil
	}

	out, err := e.client.GetRoleCredentials(ctx, &sso.GetRoleCredentialsInput{
		AccessToken: aws.String(accessToken),
		AccountId:   aws.String(req.AccountID),
		RoleName:    aws.String(req.RoleName),
	})
	if err != nil {
		// Some partitions serialize this without the modeled type, so
		// also match on the error code.
		var unauthorizedErr *types.UnauthorizedException
		var apiErr smithy.APIError
		if errors.As(err, &unauthorizedErr) ||
			(errors.As(err, &apiErr) && apiErr.ErrorCode() == "UnauthorizedException") {
			return nil, fmt.Errorf("%w: %v", errUtils.ErrUnauthorizedSSOToken, err)
		}
		return nil, fmt.Errorf("getting role credentials for %s in %s: %w", req.RoleName, req.AccountID, err)
	}

	role := out.RoleCredentials
	creds := &Credentials{
		AccessKeyID:     aws.ToString(role.AccessKeyId),
		SecretAccessKey: aws.ToString(role.SecretAccessKey),
		SessionToken:    aws.ToString(role.SessionToken),
		Expiration:      filecache.NewTime(time.UnixMilli(role.Expiration)),
	}
	if err := e.cache.Put(key, creds); err != nil {
		return nil, err
	}
	return creds, nil
}
