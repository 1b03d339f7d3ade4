package token

import (
	"bytes"
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errUtils "github.com/ssoutil/ssoutil/errors"
)

func TestBrowserHandlerPrintsAndOpens(t *testing.T) {
	var out bytes.Buffer
	var opened string
	handler := NewBrowserHandler(BrowserHandlerOptions{
		Out:            &out,
		DisableBrowser: aws.Bool(false),
		OpenURL: func(url string) error {
			opened = url
			return nil
		},
	})

	err := handler(context.Background(), PendingAuthorization{
		UserCode:                "ABCD-EFGH",
		VerificationURI:         "https://device.sso.us-east-1.amazonaws.com",
		VerificationURIComplete: "https://device.sso.us-east-1.amazonaws.com?user_code=ABCD-EFGH",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://device.sso.us-east-1.amazonaws.com?user_code=ABCD-EFGH", opened)
	assert.Contains(t, out.String(), "ABCD-EFGH")
	assert.Contains(t, out.String(), "https://device.sso.us-east-1.amazonaws.com")
}

func TestBrowserHandlerDisabled(t *testing.T) {
	var out bytes.Buffer
	handler := NewBrowserHandler(BrowserHandlerOptions{
		Out:            &out,
		DisableBrowser: aws.Bool(true),
		OpenURL: func(string) error {
			t.Fatal("browser must not be opened")
			return nil
		},
	})

	err := handler(context.Background(), PendingAuthorization{
		UserCode:        "ABCD-EFGH",
		VerificationURI: "https://u",
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Open the following URL in a browser")
}

func TestBrowserHandlerDispatchError(t *testing.T) {
	var out bytes.Buffer
	handler := NewBrowserHandler(BrowserHandlerOptions{
		Out:            &out,
		DisableBrowser: aws.Bool(false),
		OpenURL: func(string) error {
			return assert.AnError
		},
	})

	err := handler(context.Background(), PendingAuthorization{UserCode: "X", VerificationURI: "https://u"})
	assert.ErrorIs(t, err, errUtils.ErrAuthDispatch)
}

func TestNonInteractive(t *testing.T) {
	err := NonInteractive()(context.Background(), PendingAuthorization{})
	assert.ErrorIs(t, err, errUtils.ErrAuthenticationNeeded)
}
