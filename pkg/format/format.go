// Package format normalizes identifiers used across the toolkit:
// account ids, permission-set ARNs, and organizational-unit ids.
package format

import (
	"fmt"
	"regexp"
	"strings"

	errUtils "github.com/ssoutil/ssoutil/errors"
)

var (
	accountIDPattern = regexp.MustCompile(`^[0-9]{1,12}$`)
	rootIDPattern    = regexp.MustCompile(`^r-[a-z0-9]{4,32}$`)
	ouIDPattern      = regexp.MustCompile(`^ou-[a-z0-9]{4,32}-[a-z0-9]{8,32}$`)
)

// AccountID left-pads a numeric account id to 12 digits.
func AccountID(value string) (string, error) {
	if !accountIDPattern.MatchString(value) {
		return "", fmt.Errorf("%w: invalid account id %q", errUtils.ErrFormat, value)
	}
	if len(value) < 12 {
		value = strings.Repeat("0", 12-len(value)) + value
	}
	return value, nil
}

// AccountIDFromNumber formats a numeric account id as a 12-digit string.
func AccountIDFromNumber(value int64) (string, error) {
	if value < 0 {
		return "", fmt.Errorf("%w: invalid account id %d", errUtils.ErrFormat, value)
	}
	return fmt.Sprintf("%012d", value), nil
}

// IsAccountID reports whether value looks like an account id, padded or not.
func IsAccountID(value string) bool {
	return accountIDPattern.MatchString(value)
}

// IsOUID reports whether value is an organizational-unit or root id.
func IsOUID(value string) bool {
	return rootIDPattern.MatchString(value) || ouIDPattern.MatchString(value)
}

// PermissionSetArn normalizes a permission-set identifier to a full ARN.
// instanceID is the bare instance id (ssoins-...), used for ps- ids.
func PermissionSetArn(instanceID, permissionSetID string) (string, error) {
	switch {
	case strings.HasPrefix(permissionSetID, "arn"):
		return permissionSetID, nil
	case strings.HasPrefix(permissionSetID, "ssoins-"), strings.HasPrefix(permissionSetID, "ins-"):
		return "arn:aws:sso:::permissionSet/" + permissionSetID, nil
	case strings.HasPrefix(permissionSetID, "ps-"):
		if instanceID == "" {
			return "", fmt.Errorf("%w: instance id required to format permission set id %s", errUtils.ErrFormat, permissionSetID)
		}
		return fmt.Sprintf("arn:aws:sso:::permissionSet/%s/%s", instanceID, permissionSetID), nil
	}
	return "", fmt.Errorf("%w: unrecognized permission set id format: %s", errUtils.ErrFormat, permissionSetID)
}

// InstanceIDFromArn extracts the bare instance id from an instance ARN.
func InstanceIDFromArn(instanceArn string) string {
	_, id, found := strings.Cut(instanceArn, "/")
	if !found {
		return instanceArn
	}
	return id
}
