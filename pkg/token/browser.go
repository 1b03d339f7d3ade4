package token

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/browser"

	errUtils "github.com/ssoutil/ssoutil/errors"
)

// DefaultBrowserMessage is printed before opening the browser. The
// {url} and {code} placeholders are substituted.
const DefaultBrowserMessage = `AWS SSO login required.
Attempting to open the SSO authorization page in your default browser.
If the browser does not open or you wish to use a different device to
authorize this request, open the following URL:

{url}

Then enter the code:

{code}
`

// DefaultNoBrowserMessage is printed when browser opening is disabled.
const DefaultNoBrowserMessage = `AWS SSO login required.
Open the following URL in a browser:

{url}

Then enter the code:

{code}
`

// BrowserHandlerOptions configure NewBrowserHandler. Zero values mean
// stderr output, the pkg/browser opener, and the AWS_SSO_DISABLE_BROWSER
// env var controlling whether the browser is opened.
type BrowserHandlerOptions struct {
	Out            io.Writer
	Message        string
	DisableBrowser *bool
	OpenURL        func(url string) error
}

// NewBrowserHandler returns the default on-pending-authorization
// callback: print a human message and open the verification URL.
func NewBrowserHandler(opts BrowserHandlerOptions) OnPendingAuthorization {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	openURL := opts.OpenURL
	if openURL == nil {
		openURL = browser.OpenURL
	}

	var disabled bool
	if opts.DisableBrowser != nil {
		disabled = *opts.DisableBrowser
	} else {
		value := strings.ToLower(os.Getenv("AWS_SSO_DISABLE_BROWSER"))
		disabled = value == "1" || value == "true"
	}

	message := opts.Message
	if message == "" {
		if disabled {
			message = DefaultNoBrowserMessage
		} else {
			message = DefaultBrowserMessage
		}
	}

	return func(_ context.Context, pending PendingAuthorization) error {
		rendered := strings.NewReplacer(
			"{url}", pending.VerificationURI,
			"{code}", pending.UserCode,
		).Replace(message)
		fmt.Fprintln(out, rendered)

		if disabled {
			return nil
		}
		if err := openURL(pending.VerificationURIComplete); err != nil {
			return fmt.Errorf("%w: failed to open browser: %v", errUtils.ErrAuthDispatch, err)
		}
		return nil
	}
}

// NonInteractive returns a callback that refuses interactive
// authentication, short-circuiting the poll.
func NonInteractive() OnPendingAuthorization {
	return func(context.Context, PendingAuthorization) error {
		return errUtils.ErrAuthenticationNeeded
	}
}
