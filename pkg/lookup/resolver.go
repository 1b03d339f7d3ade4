package lookup

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/identitystore"
	identitystoretypes "github.com/aws/aws-sdk-go-v2/service/identitystore/types"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/aws/aws-sdk-go-v2/service/ssoadmin"
	ssoadmintypes "github.com/aws/aws-sdk-go-v2/service/ssoadmin/types"
	log "github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"

	errUtils "github.com/ssoutil/ssoutil/errors"
	"github.com/ssoutil/ssoutil/pkg/format"
)

// Cache key namespaces. Lookup errors are cached under the same keys so
// a missing identifier fails fast on repeat lookups.
const (
	cacheKeyGroupID   = "group#id#"
	cacheKeyGroupName = "group#name#"
	cacheKeyUserID    = "user#id#"
	cacheKeyUserName  = "user#name#"
	cacheKeyPSArn     = "ps#arn#"
	cacheKeyPSName    = "ps#name#"
	cacheKeyAcctID    = "account#id#"
	cacheKeyAcctName  = "account#name#"

	cacheKeyOrg = "describe_organization"
)

// IdentityStoreAPI is the identity store subset the resolver calls.
type IdentityStoreAPI interface {
	DescribeGroup(ctx context.Context, params *identitystore.DescribeGroupInput, optFns ...func(*identitystore.Options)) (*identitystore.DescribeGroupOutput, error)
	DescribeUser(ctx context.Context, params *identitystore.DescribeUserInput, optFns ...func(*identitystore.Options)) (*identitystore.DescribeUserOutput, error)
	ListGroups(ctx context.Context, params *identitystore.ListGroupsInput, optFns ...func(*identitystore.Options)) (*identitystore.ListGroupsOutput, error)
	ListUsers(ctx context.Context, params *identitystore.ListUsersInput, optFns ...func(*identitystore.Options)) (*identitystore.ListUsersOutput, error)
}

// SSOAdminAPI is the SSO admin subset the resolver calls.
type SSOAdminAPI interface {
	DescribePermissionSet(ctx context.Context, params *ssoadmin.DescribePermissionSetInput, optFns ...func(*ssoadmin.Options)) (*ssoadmin.DescribePermissionSetOutput, error)
	ListPermissionSets(ctx context.Context, params *ssoadmin.ListPermissionSetsInput, optFns ...func(*ssoadmin.Options)) (*ssoadmin.ListPermissionSetsOutput, error)
}

// OrganizationsAPI is the Organizations subset the resolver calls.
type OrganizationsAPI interface {
	DescribeAccount(ctx context.Context, params *organizations.DescribeAccountInput, optFns ...func(*organizations.Options)) (*organizations.DescribeAccountOutput, error)
	DescribeOrganization(ctx context.Context, params *organizations.DescribeOrganizationInput, optFns ...func(*organizations.Options)) (*organizations.DescribeOrganizationOutput, error)
	ListAccounts(ctx context.Context, params *organizations.ListAccountsInput, optFns ...func(*organizations.Options)) (*organizations.ListAccountsOutput, error)
	ListAccountsForParent(ctx context.Context, params *organizations.ListAccountsForParentInput, optFns ...func(*organizations.Options)) (*organizations.ListAccountsForParentOutput, error)
	ListOrganizationalUnitsForParent(ctx context.Context, params *organizations.ListOrganizationalUnitsForParentInput, optFns ...func(*organizations.Options)) (*organizations.ListOrganizationalUnitsForParentOutput, error)
}

// Group is a resolved identity-store group.
type Group struct {
	ID          string
	DisplayName string
}

// User is a resolved identity-store user.
type User struct {
	ID       string
	UserName string
}

// PermissionSet is a resolved permission set.
type PermissionSet struct {
	Arn  string
	Name string
}

// Account is a resolved organization account.
type Account struct {
	ID       string
	Name     string
	SourceOU string
}

// Resolver performs id/name lookups with a per-process cache. It is not
// safe for concurrent use without external synchronization.
type Resolver struct {
	identityStore IdentityStoreAPI
	ssoAdmin      SSOAdminAPI
	organizations OrganizationsAPI
	ids           *Ids
	cache         map[string]any
}

// NewResolver creates a Resolver. Any client a caller will not exercise
// may be nil.
func NewResolver(identityStore IdentityStoreAPI, ssoAdmin SSOAdminAPI, orgs OrganizationsAPI, ids *Ids) *Resolver {
	return &Resolver{
		identityStore: identityStore,
		ssoAdmin:      ssoAdmin,
		organizations: orgs,
		ids:           ids,
		cache:         map[string]any{},
	}
}

// cached returns the entry for key: a value, a cached error, or a miss.
func cached[T any](r *Resolver, key string) (T, error, bool) {
	var zero T
	entry, ok := r.cache[key]
	if !ok {
		return zero, nil, false
	}
	if err, isErr := entry.(error); isErr {
		return zero, err, true
	}
	return entry.(T), nil, true
}

func (r *Resolver) cacheError(key string, err error) error {
	r.cache[key] = err
	return err
}

// GroupByID resolves a group by id.
func (r *Resolver) GroupByID(ctx context.Context, groupID string) (*Group, error) {
	key := cacheKeyGroupID + groupID
	if group, err, ok := cached[*Group](r, key); ok {
		return group, err
	}
	log.Debug("Looking up group", "groupId", groupID)

	storeID, err := r.ids.IdentityStoreID(ctx)
	if err != nil {
		return nil, err
	}
	out, err := r.identityStore.DescribeGroup(ctx, &identitystore.DescribeGroupInput{
		IdentityStoreId: aws.String(storeID),
		GroupId:         aws.String(groupID),
	})
	if err != nil {
		var notFoundErr *identitystoretypes.ResourceNotFoundException
		if errors.As(err, &notFoundErr) {
			return nil, r.cacheError(key, fmt.Errorf("%w: group %s: %v", errUtils.ErrLookup, groupID, err))
		}
		return nil, fmt.Errorf("describing group %s: %w", groupID, err)
	}
	group := &Group{ID: groupID, DisplayName: aws.ToString(out.DisplayName)}
	r.cache[key] = group
	r.cache[cacheKeyGroupName+group.DisplayName] = group
	return group, nil
}

// GroupByName resolves a group by display name.
func (r *Resolver) GroupByName(ctx context.Context, name string) (*Group, error) {
	key := cacheKeyGroupName + name
	if group, err, ok := cached[*Group](r, key); ok {
		return group, err
	}
	log.Debug("Looking up group", "name", name)

	storeID, err := r.ids.IdentityStoreID(ctx)
	if err != nil {
		return nil, err
	}
	out, err := r.identityStore.ListGroups(ctx, &identitystore.ListGroupsInput{
		IdentityStoreId: aws.String(storeID),
		Filters: []identitystoretypes.Filter{{
			AttributePath:  aws.String("DisplayName"),
			AttributeValue: aws.String(name),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("listing groups named %s: %w", name, err)
	}
	if len(out.Groups) == 0 {
		return nil, r.cacheError(key, fmt.Errorf("%w: no group named %s found", errUtils.ErrLookup, name))
	}
	if len(out.Groups) > 1 {
		return nil, r.cacheError(key, fmt.Errorf("%w: %d groups named %s found", errUtils.ErrLookup, len(out.Groups), name))
	}
	group := &Group{ID: aws.ToString(out.Groups[0].GroupId), DisplayName: name}
	r.cache[key] = group
	r.cache[cacheKeyGroupID+group.ID] = group
	return group, nil
}

// UserByID resolves a user by id.
func (r *Resolver) UserByID(ctx context.Context, userID string) (*User, error) {
	key := cacheKeyUserID + userID
	if user, err, ok := cached[*User](r, key); ok {
		return user, err
	}
	log.Debug("Looking up user", "userId", userID)

	storeID, err := r.ids.IdentityStoreID(ctx)
	if err != nil {
		return nil, err
	}
	out, err := r.identityStore.DescribeUser(ctx, &identitystore.DescribeUserInput{
		IdentityStoreId: aws.String(storeID),
		UserId:          aws.String(userID),
	})
	if err != nil {
		var notFoundErr *identitystoretypes.ResourceNotFoundException
		if errors.As(err, &notFoundErr) {
			return nil, r.cacheError(key, fmt.Errorf("%w: user %s: %v", errUtils.ErrLookup, userID, err))
		}
		return nil, fmt.Errorf("describing user %s: %w", userID, err)
	}
	user := &User{ID: userID, UserName: aws.ToString(out.UserName)}
	r.cache[key] = user
	r.cache[cacheKeyUserName+user.UserName] = user
	return user, nil
}

// UserByName resolves a user by user name.
func (r *Resolver) UserByName(ctx context.Context, name string) (*User, error) {
	key := cacheKeyUserName + name
	if user, err, ok := cached[*User](r, key); ok {
		return user, err
	}
	log.Debug("Looking up user", "name", name)

	storeID, err := r.ids.IdentityStoreID(ctx)
	if err != nil {
		return nil, err
	}
	out, err := r.identityStore.ListUsers(ctx, &identitystore.ListUsersInput{
		IdentityStoreId: aws.String(storeID),
		Filters: []identitystoretypes.Filter{{
			AttributePath:  aws.String("UserName"),
			AttributeValue: aws.String(name),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("listing users named %s: %w", name, err)
	}
	if len(out.Users) == 0 {
		return nil, r.cacheError(key, fmt.Errorf("%w: no user named %s found", errUtils.ErrLookup, name))
	}
	if len(out.Users) > 1 {
		return nil, r.cacheError(key, fmt.Errorf("%w: %d users named %s found", errUtils.ErrLookup, len(out.Users), name))
	}
	user := &User{ID: aws.ToString(out.Users[0].UserId), UserName: name}
	r.cache[key] = user
	r.cache[cacheKeyUserID+user.ID] = user
	return user, nil
}

// PermissionSetByID resolves a permission set from an ARN or id,
// normalizing short forms first.
func (r *Resolver) PermissionSetByID(ctx context.Context, permissionSetID string) (*PermissionSet, error) {
	instanceID, err := r.ids.InstanceID(ctx)
	if err != nil {
		return nil, err
	}
	arn, err := format.PermissionSetArn(instanceID, permissionSetID)
	if err != nil {
		return nil, err
	}

	key := cacheKeyPSArn + arn
	if ps, cachedErr, ok := cached[*PermissionSet](r, key); ok {
		return ps, cachedErr
	}
	log.Debug("Looking up permission set", "arn", arn)

	instanceArn, err := r.ids.InstanceArn(ctx)
	if err != nil {
		return nil, err
	}
	out, err := r.ssoAdmin.DescribePermissionSet(ctx, &ssoadmin.DescribePermissionSetInput{
		InstanceArn:      aws.String(instanceArn),
		PermissionSetArn: aws.String(arn),
	})
	if err != nil {
		var notFoundErr *ssoadmintypes.ResourceNotFoundException
		if errors.As(err, &notFoundErr) {
			return nil, r.cacheError(key, fmt.Errorf("%w: permission set %s: %v", errUtils.ErrLookup, arn, err))
		}
		return nil, fmt.Errorf("describing permission set %s: %w", arn, err)
	}
	ps := &PermissionSet{Arn: arn, Name: aws.ToString(out.PermissionSet.Name)}
	r.cache[key] = ps
	r.cache[cacheKeyPSName+ps.Name] = ps
	return ps, nil
}

// PermissionSetByName resolves a permission set by name, enumerating
// the instance's permission sets and caching everything seen.
func (r *Resolver) PermissionSetByName(ctx context.Context, name string) (*PermissionSet, error) {
	key := cacheKeyPSName + name
	if ps, cachedErr, ok := cached[*PermissionSet](r, key); ok {
		return ps, cachedErr
	}
	log.Debug("Looking up permission set", "name", name)

	instanceArn, err := r.ids.InstanceArn(ctx)
	if err != nil {
		return nil, err
	}

	var found *PermissionSet
	var nextToken *string
	for {
		out, err := r.ssoAdmin.ListPermissionSets(ctx, &ssoadmin.ListPermissionSetsInput{
			InstanceArn: aws.String(instanceArn),
			NextToken:   nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("listing permission sets: %w", err)
		}
		for _, arn := range out.PermissionSets {
			describeOut, err := r.ssoAdmin.DescribePermissionSet(ctx, &ssoadmin.DescribePermissionSetInput{
				InstanceArn:      aws.String(instanceArn),
				PermissionSetArn: aws.String(arn),
			})
			if err != nil {
				return nil, fmt.Errorf("describing permission set %s: %w", arn, err)
			}
			ps := &PermissionSet{Arn: arn, Name: aws.ToString(describeOut.PermissionSet.Name)}
			r.cache[cacheKeyPSArn+ps.Arn] = ps
			r.cache[cacheKeyPSName+ps.Name] = ps
			if ps.Name == name {
				found = ps
			}
		}
		if found != nil || out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}

	if found == nil {
		return nil, r.cacheError(key, fmt.Errorf("%w: no permission set named %s found", errUtils.ErrLookup, name))
	}
	return found, nil
}

// AccountByID resolves an account by id, normalizing to 12 digits.
func (r *Resolver) AccountByID(ctx context.Context, accountID string) (*Account, error) {
	accountID, err := format.AccountID(accountID)
	if err != nil {
		return nil, err
	}
	key := cacheKeyAcctID + accountID
	if account, cachedErr, ok := cached[*Account](r, key); ok {
		return account, cachedErr
	}
	log.Debug("Looking up account", "accountId", accountID)

	out, err := r.organizations.DescribeAccount(ctx, &organizations.DescribeAccountInput{
		AccountId: aws.String(accountID),
	})
	if err != nil {
		var notFoundErr *orgtypes.AccountNotFoundException
		if errors.As(err, &notFoundErr) {
			return nil, r.cacheError(key, fmt.Errorf("%w: account %s: %v", errUtils.ErrLookup, accountID, err))
		}
		return nil, fmt.Errorf("describing account %s: %w", accountID, err)
	}
	account := &Account{ID: accountID, Name: aws.ToString(out.Account.Name)}
	r.cache[key] = account
	r.cache[cacheKeyAcctName+account.Name] = account
	return account, nil
}

// AccountByName resolves an account by name, enumerating the
// organization and caching everything seen.
func (r *Resolver) AccountByName(ctx context.Context, name string) (*Account, error) {
	key := cacheKeyAcctName + name
	if account, cachedErr, ok := cached[*Account](r, key); ok {
		return account, cachedErr
	}
	log.Debug("Looking up account", "name", name)

	var found *Account
	var nextToken *string
	for {
		out, err := r.organizations.ListAccounts(ctx, &organizations.ListAccountsInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("listing accounts: %w", err)
		}
		for _, raw := range out.Accounts {
			account := &Account{ID: aws.ToString(raw.Id), Name: aws.ToString(raw.Name)}
			r.cache[cacheKeyAcctID+account.ID] = account
			if account.Name != "" {
				r.cache[cacheKeyAcctName+account.Name] = account
			}
			if account.Name == name {
				found = account
			}
		}
		if found != nil || out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}

	if found == nil {
		return nil, r.cacheError(key, fmt.Errorf("%w: no account named %s found", errUtils.ErrLookup, name))
	}
	return found, nil
}
