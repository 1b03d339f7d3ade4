// Package token obtains SSO access tokens via the OAuth 2.0
// device-authorization flow, with on-disk caching of tokens and client
// registrations and a refresh-token fast path.
package token

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssooidc"
	"github.com/aws/aws-sdk-go-v2/service/ssooidc/types"
	log "github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	errUtils "github.com/ssoutil/ssoutil/errors"
	"github.com/ssoutil/ssoutil/pkg/filecache"
)

const (
	deviceGrantType  = "urn:ietf:params:oauth:grant-type:device_code"
	refreshGrantType = "refresh_token"

	defaultInterval = 5 * time.Second
	slowDownDelay   = 5 * time.Second

	// DefaultExpiryWindow is how long before expiry a cached token is
	// treated as expired.
	DefaultExpiryWindow = 15 * time.Minute
)

// OIDCClient is the subset of the SSO OIDC API the fetcher calls.
type OIDCClient interface {
	RegisterClient(ctx context.Context, params *ssooidc.RegisterClientInput, optFns ...func(*ssooidc.Options)) (*ssooidc.RegisterClientOutput, error)
	StartDeviceAuthorization(ctx context.Context, params *ssooidc.StartDeviceAuthorizationInput, optFns ...func(*ssooidc.Options)) (*ssooidc.StartDeviceAuthorizationOutput, error)
	CreateToken(ctx context.Context, params *ssooidc.CreateTokenInput, optFns ...func(*ssooidc.Options)) (*ssooidc.CreateTokenOutput, error)
}

// PendingAuthorization is passed to the on-pending-authorization
// callback once the device flow is waiting on the user.
type PendingAuthorization struct {
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	ExpiresAt               time.Time
}

// OnPendingAuthorization is invoked when user interaction is required.
// Returning an error aborts the flow before polling starts.
type OnPendingAuthorization func(ctx context.Context, pending PendingAuthorization) error

// Fetcher obtains tokens for sessions. It is safe for use from multiple
// independent flows because the cache back-end is atomic per key.
type Fetcher struct {
	client       OIDCClient
	cache        *filecache.Store
	now          func() time.Time
	sleep        func(time.Duration)
	onPending    OnPendingAuthorization
	expiryWindow time.Duration
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithCache overrides the cache store.
func WithCache(store *filecache.Store) Option {
	return func(f *Fetcher) { f.cache = store }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// WithSleep overrides the polling sleep.
func WithSleep(sleep func(time.Duration)) Option {
	return func(f *Fetcher) { f.sleep = sleep }
}

// WithOnPendingAuthorization overrides the pending-authorization callback.
func WithOnPendingAuthorization(callback OnPendingAuthorization) Option {
	return func(f *Fetcher) { f.onPending = callback }
}

// WithExpiryWindow overrides the cached-token expiry window.
func WithExpiryWindow(window time.Duration) Option {
	return func(f *Fetcher) { f.expiryWindow = window }
}

// NewFetcher creates a Fetcher with the default cache directory, clock,
// and browser-opening callback.
func NewFetcher(client OIDCClient, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:       client,
		cache:        filecache.New(DefaultCacheDir()),
		now:          time.Now,
		sleep:        time.Sleep,
		expiryWindow: DefaultExpiryWindow,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.onPending == nil {
		f.onPending = NewBrowserHandler(BrowserHandlerOptions{})
	}
	return f
}

// FetchInput identifies the session to obtain a token for.
type FetchInput struct {
	StartURL     string
	Region       string
	SessionName  string
	Scopes       []string
	ForceRefresh bool
}

// Fetch returns a token for the session, from cache when fresh, via the
// refresh grant when possible, otherwise through the full device flow.
func (f *Fetcher) Fetch(ctx context.Context, in FetchInput) (*Token, error) {
	key := CacheKey(in.StartURL, in.SessionName)

	var cached Token
	found, err := f.cache.Get(key, &cached)
	if err != nil {
		log.Debug("Ignoring unreadable token cache entry", "key", key, "error", err)
		found = false
	}

	if found && !in.ForceRefresh && !f.expired(cached.ExpiresAt.Time) {
		log.Debug("Using cached SSO token", "startUrl", in.StartURL, "expiresAt", cached.ExpiresAt.Time)
		return &cached, nil
	}

	if found && cached.RefreshToken != "" && f.now().Before(cached.RegistrationExpiresAt.Time) {
		refreshed, err := f.refresh(ctx, in, &cached)
		if err == nil {
			if err := f.cache.Put(key, refreshed); err != nil {
				return nil, err
			}
			return refreshed, nil
		}
		log.Debug("Token refresh failed, falling back to device flow", "error", err)
	}

	registration, err := f.registration(ctx, in)
	if err != nil {
		return nil, err
	}

	token, err := f.authorize(ctx, in, registration)
	if err != nil {
		return nil, err
	}
	if err := f.cache.Put(key, token); err != nil {
		return nil, err
	}
	return token, nil
}

func (f *Fetcher) expired(expiresAt time.Time) bool {
	return expiresAt.Sub(f.now()) < f.expiryWindow
}

func (f *Fetcher) refresh(ctx context.Context, in FetchInput, cached *Token) (*Token, error) {
	out, err := f.client.CreateToken(ctx, &ssooidc.CreateTokenInput{
		ClientId:     aws.String(cached.ClientID),
		ClientSecret: aws.String(cached.ClientSecret),
		GrantType:    aws.String(refreshGrantType),
		RefreshToken: aws.String(cached.RefreshToken),
	})
	if err != nil {
		return nil, fmt.Errorf("refreshing SSO token: %w", err)
	}
	token := f.buildToken(in, out, cached.ClientID, cached.ClientSecret, cached.RegistrationExpiresAt.Time)
	if token.RefreshToken == "" {
		token.RefreshToken = cached.RefreshToken
	}
	return token, nil
}

func (f *Fetcher) registration(ctx context.Context, in FetchInput) (*Registration, error) {
	regKey, err := RegistrationCacheKey(in.StartURL, in.Region, in.SessionName, in.Scopes)
	if err != nil {
		return nil, err
	}

	var registration Registration
	found, err := f.cache.Get(regKey, &registration)
	if err != nil {
		log.Debug("Ignoring unreadable registration cache entry", "key", regKey, "error", err)
		found = false
	}
	if found && f.now().Before(registration.ExpiresAt.Time) {
		log.Debug("Using cached client registration", "expiresAt", registration.ExpiresAt.Time)
		return &registration, nil
	}

	clientName := fmt.Sprintf("aws-sso-util-%s", in.SessionName)
	if in.SessionName == "" {
		// Anonymous registrations are never reused, so pick a fresh name.
		clientName = fmt.Sprintf("anonymous-%s", uuid.NewString())
	}

	input := &ssooidc.RegisterClientInput{
		ClientName: aws.String(clientName),
		ClientType: aws.String("public"),
	}
	if in.SessionName != "" && len(in.Scopes) > 0 {
		input.Scopes = in.Scopes
	}

	out, err := f.client.RegisterClient(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to register SSO client: %v", errUtils.ErrAuthenticationNeeded, err)
	}

	registration = Registration{
		ClientID:     aws.ToString(out.ClientId),
		ClientSecret: aws.ToString(out.ClientSecret),
		ExpiresAt:    filecache.NewTime(time.Unix(out.ClientSecretExpiresAt, 0)),
		ReceivedAt:   filecache.NewTime(f.now()),
		Scopes:       input.Scopes,
	}
	if err := f.cache.Put(regKey, &registration); err != nil {
		return nil, err
	}
	return &registration, nil
}

func (f *Fetcher) authorize(ctx context.Context, in FetchInput, registration *Registration) (*Token, error) {
	auth, err := f.client.StartDeviceAuthorization(ctx, &ssooidc.StartDeviceAuthorizationInput{
		ClientId:     aws.String(registration.ClientID),
		ClientSecret: aws.String(registration.ClientSecret),
		StartUrl:     aws.String(in.StartURL),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to start device authorization: %v", errUtils.ErrAuthenticationNeeded, err)
	}

	interval := defaultInterval
	if auth.Interval > 0 {
		interval = time.Duration(auth.Interval) * time.Second
	}
	expiresAt := f.now().Add(time.Duration(auth.ExpiresIn) * time.Second)

	createToken := func() (*ssooidc.CreateTokenOutput, error) {
		return f.client.CreateToken(ctx, &ssooidc.CreateTokenInput{
			ClientId:     aws.String(registration.ClientID),
			ClientSecret: aws.String(registration.ClientSecret),
			GrantType:    aws.String(deviceGrantType),
			DeviceCode:   auth.DeviceCode,
		})
	}

	// One attempt before prompting, in case authorization already happened.
	out, err := createToken()
	if err == nil {
		return f.buildToken(in, out, registration.ClientID, registration.ClientSecret, registration.ExpiresAt.Time), nil
	}
	var authPendingErr *types.AuthorizationPendingException
	var slowDownErr *types.SlowDownException
	if !errors.As(err, &authPendingErr) && !errors.As(err, &slowDownErr) {
		return nil, f.classifyCreateTokenError(err)
	}

	if err := f.onPending(ctx, PendingAuthorization{
		UserCode:                aws.ToString(auth.UserCode),
		VerificationURI:         aws.ToString(auth.VerificationUri),
		VerificationURIComplete: aws.ToString(auth.VerificationUriComplete),
		ExpiresAt:               expiresAt,
	}); err != nil {
		return nil, err
	}

	for {
		f.sleep(interval)
		// Local bound on the authorization window, in case the service
		// keeps answering pending past ExpiresIn.
		if f.now().After(expiresAt) {
			return nil, fmt.Errorf("%w: device authorization window elapsed", errUtils.ErrPendingAuthorizationExpired)
		}

		out, err := createToken()
		if err == nil {
			return f.buildToken(in, out, registration.ClientID, registration.ClientSecret, registration.ExpiresAt.Time), nil
		}

		switch {
		case errors.As(err, &authPendingErr):
			log.Debug("Authorization pending, continuing to poll")
		case errors.As(err, &slowDownErr):
			interval += slowDownDelay
			log.Debug("Service requested slower polling", "interval", interval)
		default:
			return nil, f.classifyCreateTokenError(err)
		}
	}
}

func (f *Fetcher) classifyCreateTokenError(err error) error {
	var expiredErr *types.ExpiredTokenException
	if errors.As(err, &expiredErr) {
		return fmt.Errorf("%w: device authorization window elapsed", errUtils.ErrPendingAuthorizationExpired)
	}
	// Keep the typed cause in the chain; callers distinguish
	// InvalidGrant from other client errors.
	return errors.Mark(errors.Wrap(err, "failed to create token"), errUtils.ErrAuthenticationNeeded)
}

func (f *Fetcher) buildToken(in FetchInput, out *ssooidc.CreateTokenOutput, clientID, clientSecret string, registrationExpiresAt time.Time) *Token {
	now := f.now()
	return &Token{
		StartURL:              in.StartURL,
		Region:                in.Region,
		AccessToken:           aws.ToString(out.AccessToken),
		ExpiresAt:             filecache.NewTime(now.Add(time.Duration(out.ExpiresIn) * time.Second)),
		ReceivedAt:            filecache.NewTime(now),
		ClientID:              clientID,
		ClientSecret:          clientSecret,
		RegistrationExpiresAt: filecache.NewTime(registrationExpiresAt),
		RefreshToken:          aws.ToString(out.RefreshToken),
		Scopes:                in.Scopes,
	}
}

// PopTokenFromCache removes and returns the cached token for a session.
func (f *Fetcher) PopTokenFromCache(startURL, sessionName string) (*Token, bool) {
	key := CacheKey(startURL, sessionName)
	var cached Token
	found, err := f.cache.Get(key, &cached)
	if err != nil {
		log.Debug("Ignoring unreadable token cache entry", "key", key, "error", err)
		found = false
	}
	if err := f.cache.Remove(key); err != nil {
		log.Debug("Failed to remove token cache entry", "key", key, "error", err)
	}
	if !found {
		return nil, false
	}
	return &cached, true
}
