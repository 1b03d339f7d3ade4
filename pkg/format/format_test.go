package format

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errUtils "github.com/ssoutil/ssoutil/errors"
)

func TestAccountIDPadsTo12Digits(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"123456789012", "123456789012"},
		{"123456789", "000123456789"},
		{"1", "000000000001"},
	}
	for _, tt := range tests {
		got, err := AccountID(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
		assert.Regexp(t, regexp.MustCompile(`^[0-9]{12}$`), got)
	}
}

func TestAccountIDRejectsNonNumeric(t *testing.T) {
	for _, in := range []string{"", "12a456789012", "1234567890123", "ou-abcd-12345678"} {
		_, err := AccountID(in)
		require.Error(t, err, in)
		assert.ErrorIs(t, err, errUtils.ErrFormat)
	}
}

func TestAccountIDFromNumber(t *testing.T) {
	got, err := AccountIDFromNumber(123456789)
	require.NoError(t, err)
	assert.Equal(t, "000123456789", got)
}

func TestIsOUID(t *testing.T) {
	assert.True(t, IsOUID("r-abcd"))
	assert.True(t, IsOUID("ou-abcd-12345678"))
	assert.False(t, IsOUID("123456789012"))
	assert.False(t, IsOUID("ou-abcd"))
}

func TestPermissionSetArn(t *testing.T) {
	arn, err := PermissionSetArn("", "arn:aws:sso:::permissionSet/ssoins-1234/ps-5678")
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:sso:::permissionSet/ssoins-1234/ps-5678", arn)

	arn, err = PermissionSetArn("", "ssoins-1234/ps-5678")
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:sso:::permissionSet/ssoins-1234/ps-5678", arn)

	arn, err = PermissionSetArn("ssoins-1234", "ps-5678")
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:sso:::permissionSet/ssoins-1234/ps-5678", arn)

	_, err = PermissionSetArn("", "ps-5678")
	assert.ErrorIs(t, err, errUtils.ErrFormat)

	_, err = PermissionSetArn("ssoins-1234", "bogus")
	assert.ErrorIs(t, err, errUtils.ErrFormat)
}

func TestInstanceIDFromArn(t *testing.T) {
	assert.Equal(t, "ssoins-1234", InstanceIDFromArn("arn:aws:sso:::instance/ssoins-1234"))
	assert.Equal(t, "ssoins-1234", InstanceIDFromArn("ssoins-1234"))
}
