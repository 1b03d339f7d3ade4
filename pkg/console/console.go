// Package console builds federated sign-in URLs for the AWS console
// from SSO role credentials.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	log "github.com/charmbracelet/log"
	"github.com/pkg/browser"

	errUtils "github.com/ssoutil/ssoutil/errors"
)

// DefaultIssuer identifies this tool in federation login URLs.
const DefaultIssuer = "ssoutil"

// FederationEndpoint returns the partition-aware federation endpoint
// for a region.
func FederationEndpoint(region string) string {
	switch {
	case strings.HasPrefix(region, "us-gov-"):
		return "https://signin.amazonaws-us-gov.com/federation"
	case strings.HasPrefix(region, "cn-"):
		return "https://signin.amazonaws.cn/federation"
	case region != "":
		return fmt.Sprintf("https://%s.signin.aws.amazon.com/federation", region)
	default:
		return "https://signin.aws.amazon.com/federation"
	}
}

// LogoutURL returns the console logout URL for a region's partition.
func LogoutURL(region string) string {
	switch {
	case strings.HasPrefix(region, "us-gov-"):
		return "https://signin.amazonaws-us-gov.com/oauth?Action=logout"
	case strings.HasPrefix(region, "cn-"):
		return "https://signin.amazonaws.cn/oauth?Action=logout"
	default:
		return "https://signin.aws.amazon.com/oauth?Action=logout"
	}
}

func consoleBase(region string) string {
	switch {
	case strings.HasPrefix(region, "us-gov-"):
		return "https://console.amazonaws-us-gov.com"
	case strings.HasPrefix(region, "cn-"):
		return "https://console.amazonaws.cn"
	default:
		return "https://console.aws.amazon.com"
	}
}

// Destination builds the console destination URL. With overrideRegion,
// any region parameters already in the destination are stripped before
// the region is appended; otherwise the region is appended only when
// the destination carries none.
func Destination(destination, region string, overrideRegion bool) (string, error) {
	if destination == "" {
		destination = consoleBase(region) + "/console/home"
	} else if !strings.Contains(destination, "://") {
		destination = consoleBase(region) + "/" + strings.TrimPrefix(destination, "/")
	}

	parsed, err := url.Parse(destination)
	if err != nil {
		return "", fmt.Errorf("%w: invalid destination %s: %v", errUtils.ErrFormat, destination, err)
	}
	if region == "" {
		return parsed.String(), nil
	}

	query := parsed.Query()
	if overrideRegion {
		query.Del("region")
		query.Set("region", region)
	} else if query.Get("region") == "" {
		query.Set("region", region)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// SigninTokenOptions tunes the federation token request.
type SigninTokenOptions struct {
	// SessionDuration bounds the federated session, in seconds.
	SessionDuration int
	HTTPClient      *http.Client
}

// GetSigninToken exchanges role credentials for a federation signin
// token. The provider supplies the credentials for the federated
// session.
func GetSigninToken(ctx context.Context, region string, provider aws.CredentialsProvider, opts SigninTokenOptions) (string, error) {
	creds, err := provider.Retrieve(ctx)
	if err != nil {
		return "", err
	}
	session, err := json.Marshal(map[string]string{
		"sessionId":    creds.AccessKeyID,
		"sessionKey":   creds.SecretAccessKey,
		"sessionToken": creds.SessionToken,
	})
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("Action", "getSigninToken")
	form.Set("Session", string(session))
	if opts.SessionDuration > 0 {
		form.Set("SessionDuration", strconv.Itoa(opts.SessionDuration))
	}

	endpoint := FederationEndpoint(region)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting signin token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("signin token request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		SigninToken string `json:"SigninToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decoding signin token response: %w", err)
	}
	if payload.SigninToken == "" {
		return "", fmt.Errorf("signin token response missing token")
	}
	return payload.SigninToken, nil
}

// LoginURL assembles the federated console login URL.
func LoginURL(region, issuer, destination, signinToken string) string {
	query := url.Values{}
	query.Set("Action", "login")
	query.Set("Issuer", issuer)
	query.Set("Destination", destination)
	query.Set("SigninToken", signinToken)
	return FederationEndpoint(region) + "?" + query.Encode()
}

// Launcher opens console URLs, optionally logging the browser out of
// any existing console session first.
type Launcher struct {
	OpenURL     func(string) error
	Out         io.Writer
	LogoutFirst bool
	PrintOnly   bool
}

// Launch opens or prints the login URL.
func (l *Launcher) Launch(region, loginURL string) error {
	openURL := l.OpenURL
	if openURL == nil {
		openURL = browser.OpenURL
	}
	if l.PrintOnly {
		fmt.Fprintln(l.Out, loginURL)
		return nil
	}
	if l.LogoutFirst {
		logoutURL := LogoutURL(region)
		log.Debug("Logging out existing console session", "url", logoutURL)
		if err := openURL(logoutURL); err != nil {
			return fmt.Errorf("%w: opening logout URL: %v", errUtils.ErrAuthDispatch, err)
		}
	}
	if err := openURL(loginURL); err != nil {
		return fmt.Errorf("%w: opening console URL: %v", errUtils.ErrAuthDispatch, err)
	}
	return nil
}
