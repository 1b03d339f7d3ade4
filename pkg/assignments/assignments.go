// Package assignments expands a declarative policy specification into
// the flat set of account assignments the SSO admin API models
// individually.
package assignments

import (
	"context"
	"fmt"
	"iter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssoadmin"
	log "github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"

	errUtils "github.com/ssoutil/ssoutil/errors"
	"github.com/ssoutil/ssoutil/pkg/format"
	"github.com/ssoutil/ssoutil/pkg/lookup"
)

// Principal/target type discriminators, matching the SSO admin API.
const (
	PrincipalTypeGroup = "GROUP"
	PrincipalTypeUser  = "USER"

	TargetTypeAccount = "AWS_ACCOUNT"
	TargetTypeOU      = "AWS_OU"
)

// API is the SSO admin subset the resolver enumerates with.
type API interface {
	ListAccountAssignments(ctx context.Context, params *ssoadmin.ListAccountAssignmentsInput, optFns ...func(*ssoadmin.Options)) (*ssoadmin.ListAccountAssignmentsOutput, error)
	ListPermissionSetsProvisionedToAccount(ctx context.Context, params *ssoadmin.ListPermissionSetsProvisionedToAccountInput, optFns ...func(*ssoadmin.Options)) (*ssoadmin.ListPermissionSetsProvisionedToAccountOutput, error)
}

// Principal identifies a group or user. An empty Type matches any type
// during filtering.
type Principal struct {
	Type string
	ID   string
}

// Target is a normalized assignment target.
type Target struct {
	Type string
	ID   string
}

// Assignment is one concrete principal/permission-set/target binding,
// enriched with display names when name resolution is enabled.
type Assignment struct {
	InstanceArn       string
	PrincipalType     string
	PrincipalID       string
	PrincipalName     string
	PermissionSetArn  string
	PermissionSetName string
	TargetType        string
	TargetID          string
	TargetName        string
	SourceOU          string
}

// NormalizeTarget converts a raw target string: all-digit values become
// padded account ids, OU/root ids pass through as OU targets.
func NormalizeTarget(value string) (Target, error) {
	if format.IsAccountID(value) {
		id, err := format.AccountID(value)
		if err != nil {
			return Target{}, err
		}
		return Target{Type: TargetTypeAccount, ID: id}, nil
	}
	if format.IsOUID(value) {
		return Target{Type: TargetTypeOU, ID: value}, nil
	}
	return Target{}, fmt.Errorf("%w: target %q is neither an account id nor an OU id", errUtils.ErrInvalidAssignments, value)
}

// NormalizeTargets applies NormalizeTarget to each value.
func NormalizeTargets(values []string) ([]Target, error) {
	targets := make([]Target, 0, len(values))
	for _, value := range values {
		target, err := NormalizeTarget(value)
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, nil
}

// TargetFilter, PermissionSetFilter, and PrincipalFilter prune the
// expansion. A nil filter accepts everything.
type (
	TargetFilter        func(targetType, targetID, targetName string) bool
	PermissionSetFilter func(arn, name string) bool
	PrincipalFilter     func(principalType, principalID, principalName string) bool
)

// Spec is the declarative input: which principals, permission sets, and
// targets to expand. Empty Principals or PermissionSets mean "all".
type Spec struct {
	Principals     []Principal
	PermissionSets []string
	Targets        []Target
}

// Resolver expands Specs against the SSO admin API.
type Resolver struct {
	client API
	lookup *lookup.Resolver
	ids    *lookup.Ids

	ouRecursive         bool
	resolveNames        bool
	targetFilter        TargetFilter
	permissionSetFilter PermissionSetFilter
	principalFilter     PrincipalFilter

	targetFilterMemo map[string]bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithOURecursive makes OU targets expand through descendant OUs.
func WithOURecursive(recursive bool) Option {
	return func(r *Resolver) { r.ouRecursive = recursive }
}

// WithNameResolution toggles display-name enrichment. Lookups that fail
// with not-found leave the name empty.
func WithNameResolution(resolve bool) Option {
	return func(r *Resolver) { r.resolveNames = resolve }
}

// WithTargetFilter sets the target filter, memoized per target id.
func WithTargetFilter(filter TargetFilter) Option {
	return func(r *Resolver) { r.targetFilter = filter }
}

// WithPermissionSetFilter sets the permission-set filter.
func WithPermissionSetFilter(filter PermissionSetFilter) Option {
	return func(r *Resolver) { r.permissionSetFilter = filter }
}

// WithPrincipalFilter sets the principal filter.
func WithPrincipalFilter(filter PrincipalFilter) Option {
	return func(r *Resolver) { r.principalFilter = filter }
}

// NewResolver creates a Resolver. The lookup resolver supplies OU
// traversal, organization listing, and name enrichment.
func NewResolver(client API, lookupResolver *lookup.Resolver, ids *lookup.Ids, opts ...Option) *Resolver {
	r := &Resolver{
		client:           client,
		lookup:           lookupResolver,
		ids:              ids,
		resolveNames:     true,
		targetFilterMemo: map[string]bool{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ListAssignments lazily expands the Spec. Emission order is
// target-outer, permission-set-middle, principal-inner, following the
// service's pagination order.
func (r *Resolver) ListAssignments(ctx context.Context, spec Spec) iter.Seq2[Assignment, error] {
	return func(yield func(Assignment, error) bool) {
		instanceArn, err := r.ids.InstanceArn(ctx)
		if err != nil {
			yield(Assignment{}, err)
			return
		}

		explicitPSArns, err := r.normalizePermissionSets(ctx, spec.PermissionSets)
		if err != nil {
			yield(Assignment{}, err)
			return
		}

		for account, err := range r.targets(ctx, spec.Targets) {
			if err != nil {
				yield(Assignment{}, err)
				return
			}
			if !r.acceptTarget(account) {
				continue
			}
			psArns := explicitPSArns
			if len(psArns) == 0 {
				psArns, err = r.provisionedPermissionSets(ctx, instanceArn, account.ID)
				if err != nil {
					yield(Assignment{}, err)
					return
				}
			}
			for _, psArn := range psArns {
				psName, err := r.permissionSetName(ctx, psArn)
				if err != nil {
					yield(Assignment{}, err)
					return
				}
				if r.permissionSetFilter != nil && !r.permissionSetFilter(psArn, psName) {
					log.Debug("Filtered out permission set", "arn", psArn, "name", psName)
					continue
				}
				if !r.emitPrincipals(ctx, instanceArn, account, psArn, psName, spec.Principals, yield) {
					return
				}
			}
		}
	}
}

func (r *Resolver) targets(ctx context.Context, targets []Target) iter.Seq2[lookup.Account, error] {
	if len(targets) == 0 {
		return r.lookup.Accounts(ctx)
	}
	return func(yield func(lookup.Account, error) bool) {
		for _, target := range targets {
			switch target.Type {
			case TargetTypeOU:
				for account, err := range r.lookup.AccountsForOU(ctx, target.ID, lookup.OUOptions{Recursive: r.ouRecursive}) {
					if !yield(account, err) {
						return
					}
					if err != nil {
						return
					}
				}
			case TargetTypeAccount:
				account := lookup.Account{ID: target.ID}
				if r.resolveNames {
					resolved, err := r.lookup.AccountByID(ctx, target.ID)
					switch {
					case err == nil:
						account.Name = resolved.Name
					case errors.Is(err, errUtils.ErrLookup):
						log.Debug("Account name unavailable", "accountId", target.ID)
					default:
						yield(lookup.Account{}, err)
						return
					}
				}
				if !yield(account, nil) {
					return
				}
			default:
				yield(lookup.Account{}, fmt.Errorf("%w: unknown target type %q", errUtils.ErrInvalidAssignments, target.Type))
				return
			}
		}
	}
}

func (r *Resolver) acceptTarget(account lookup.Account) bool {
	if r.targetFilter == nil {
		return true
	}
	if accepted, ok := r.targetFilterMemo[account.ID]; ok {
		return accepted
	}
	accepted := r.targetFilter(TargetTypeAccount, account.ID, account.Name)
	r.targetFilterMemo[account.ID] = accepted
	if !accepted {
		log.Debug("Filtered out target", "accountId", account.ID, "name", account.Name)
	}
	return accepted
}

func (r *Resolver) normalizePermissionSets(ctx context.Context, values []string) ([]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	instanceID, err := r.ids.InstanceID(ctx)
	if err != nil {
		return nil, err
	}
	arns := make([]string, 0, len(values))
	for _, value := range values {
		arn, err := format.PermissionSetArn(instanceID, value)
		if err != nil {
			return nil, err
		}
		arns = append(arns, arn)
	}
	return arns, nil
}

func (r *Resolver) provisionedPermissionSets(ctx context.Context, instanceArn, accountID string) ([]string, error) {
	var arns []string
	var nextToken *string
	for {
		out, err := r.client.ListPermissionSetsProvisionedToAccount(ctx, &ssoadmin.ListPermissionSetsProvisionedToAccountInput{
			InstanceArn: aws.String(instanceArn),
			AccountId:   aws.String(accountID),
			NextToken:   nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("listing permission sets for account %s: %w", accountID, err)
		}
		arns = append(arns, out.PermissionSets...)
		if out.NextToken == nil {
			return arns, nil
		}
		nextToken = out.NextToken
	}
}

func (r *Resolver) permissionSetName(ctx context.Context, arn string) (string, error) {
	if !r.resolveNames {
		return "", nil
	}
	ps, err := r.lookup.PermissionSetByID(ctx, arn)
	if err != nil {
		if errors.Is(err, errUtils.ErrLookup) {
			return "", nil
		}
		return "", err
	}
	return ps.Name, nil
}

func (r *Resolver) principalName(ctx context.Context, principalType, principalID string) (string, error) {
	if !r.resolveNames {
		return "", nil
	}
	var name string
	var err error
	switch principalType {
	case PrincipalTypeGroup:
		var group *lookup.Group
		if group, err = r.lookup.GroupByID(ctx, principalID); err == nil {
			name = group.DisplayName
		}
	case PrincipalTypeUser:
		var user *lookup.User
		if user, err = r.lookup.UserByID(ctx, principalID); err == nil {
			name = user.UserName
		}
	}
	if err != nil {
		if errors.Is(err, errUtils.ErrLookup) {
			return "", nil
		}
		return "", err
	}
	return name, nil
}

func (r *Resolver) emitPrincipals(ctx context.Context, instanceArn string, account lookup.Account, psArn, psName string, wanted []Principal, yield func(Assignment, error) bool) bool {
	var nextToken *string
	for {
		out, err := r.client.ListAccountAssignments(ctx, &ssoadmin.ListAccountAssignmentsInput{
			InstanceArn:      aws.String(instanceArn),
			AccountId:        aws.String(account.ID),
			PermissionSetArn: aws.String(psArn),
			NextToken:        nextToken,
		})
		if err != nil {
			return yield(Assignment{}, fmt.Errorf("listing assignments for account %s: %w", account.ID, err))
		}
		for _, accountAssignment := range out.AccountAssignments {
			principalType := string(accountAssignment.PrincipalType)
			principalID := aws.ToString(accountAssignment.PrincipalId)
			if len(wanted) > 0 && !matchesPrincipal(wanted, principalType, principalID) {
				continue
			}
			principalName, err := r.principalName(ctx, principalType, principalID)
			if err != nil {
				return yield(Assignment{}, err)
			}
			if r.principalFilter != nil && !r.principalFilter(principalType, principalID, principalName) {
				log.Debug("Filtered out principal", "type", principalType, "id", principalID, "name", principalName)
				continue
			}
			assignment := Assignment{
				InstanceArn:       instanceArn,
				PrincipalType:     principalType,
				PrincipalID:       principalID,
				PrincipalName:     principalName,
				PermissionSetArn:  psArn,
				PermissionSetName: psName,
				TargetType:        TargetTypeAccount,
				TargetID:          account.ID,
				TargetName:        account.Name,
				SourceOU:          account.SourceOU,
			}
			if !yield(assignment, nil) {
				return false
			}
		}
		if out.NextToken == nil {
			return true
		}
		nextToken = out.NextToken
	}
}

func matchesPrincipal(wanted []Principal, principalType, principalID string) bool {
	for _, principal := range wanted {
		if principal.ID != principalID {
			continue
		}
		if principal.Type == "" || principal.Type == principalType {
			return true
		}
	}
	return false
}
