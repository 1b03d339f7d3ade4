package lookup

import (
	"context"
	"fmt"
	"iter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	log "github.com/charmbracelet/log"
)

const (
	cacheKeyOUAccountsSuffix = "#accounts"
	cacheKeyOUChildrenSuffix = "#children"
)

// OUOptions controls OU-to-account expansion.
type OUOptions struct {
	// Recursive descends into child OUs depth-first after the OU's own
	// accounts.
	Recursive bool
	// ExcludeOrgMgmtAccount filters the organization management account
	// from every emission.
	ExcludeOrgMgmtAccount bool
}

// AccountsForOU lazily yields the accounts under an OU or root. Results
// are cached per parent, so repeated expansion of overlapping OU trees
// only lists each parent once.
func (r *Resolver) AccountsForOU(ctx context.Context, ouID string, opts OUOptions) iter.Seq2[Account, error] {
	return func(yield func(Account, error) bool) {
		var mgmtAccountID string
		if opts.ExcludeOrgMgmtAccount {
			id, err := r.managementAccountID(ctx)
			if err != nil {
				yield(Account{}, err)
				return
			}
			mgmtAccountID = id
		}
		r.walkOU(ctx, ouID, opts, mgmtAccountID, yield)
	}
}

func (r *Resolver) walkOU(ctx context.Context, ouID string, opts OUOptions, mgmtAccountID string, yield func(Account, error) bool) bool {
	accounts, err := r.accountsForParent(ctx, ouID)
	if err != nil {
		return yield(Account{}, err)
	}
	for _, account := range accounts {
		if mgmtAccountID != "" && account.ID == mgmtAccountID {
			log.Debug("Excluding org management account", "accountId", account.ID, "ou", ouID)
			continue
		}
		if !yield(account, nil) {
			return false
		}
	}

	if !opts.Recursive {
		return true
	}
	children, err := r.childOUs(ctx, ouID)
	if err != nil {
		return yield(Account{}, err)
	}
	for _, child := range children {
		if !r.walkOU(ctx, child, opts, mgmtAccountID, yield) {
			return false
		}
	}
	return true
}

func (r *Resolver) accountsForParent(ctx context.Context, ouID string) ([]Account, error) {
	key := ouID + cacheKeyOUAccountsSuffix
	if accounts, err, ok := cached[[]Account](r, key); ok {
		return accounts, err
	}
	log.Debug("Listing accounts", "parent", ouID)

	var accounts []Account
	var nextToken *string
	for {
		out, err := r.organizations.ListAccountsForParent(ctx, &organizations.ListAccountsForParentInput{
			ParentId:  aws.String(ouID),
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("listing accounts for %s: %w", ouID, err)
		}
		for _, raw := range out.Accounts {
			account := Account{ID: aws.ToString(raw.Id), Name: aws.ToString(raw.Name), SourceOU: ouID}
			accounts = append(accounts, account)
			r.cache[cacheKeyAcctID+account.ID] = &Account{ID: account.ID, Name: account.Name}
			if account.Name != "" {
				r.cache[cacheKeyAcctName+account.Name] = &Account{ID: account.ID, Name: account.Name}
			}
		}
		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}
	r.cache[key] = accounts
	return accounts, nil
}

func (r *Resolver) childOUs(ctx context.Context, ouID string) ([]string, error) {
	key := ouID + cacheKeyOUChildrenSuffix
	if children, err, ok := cached[[]string](r, key); ok {
		return children, err
	}
	log.Debug("Listing child OUs", "parent", ouID)

	var children []string
	var nextToken *string
	for {
		out, err := r.organizations.ListOrganizationalUnitsForParent(ctx, &organizations.ListOrganizationalUnitsForParentInput{
			ParentId:  aws.String(ouID),
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("listing child OUs of %s: %w", ouID, err)
		}
		for _, ou := range out.OrganizationalUnits {
			children = append(children, aws.ToString(ou.Id))
		}
		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}
	r.cache[key] = children
	return children, nil
}

// Accounts lazily yields every account in the organization.
func (r *Resolver) Accounts(ctx context.Context) iter.Seq2[Account, error] {
	return func(yield func(Account, error) bool) {
		var nextToken *string
		for {
			out, err := r.organizations.ListAccounts(ctx, &organizations.ListAccountsInput{NextToken: nextToken})
			if err != nil {
				yield(Account{}, fmt.Errorf("listing accounts: %w", err))
				return
			}
			for _, raw := range out.Accounts {
				account := Account{ID: aws.ToString(raw.Id), Name: aws.ToString(raw.Name)}
				r.cache[cacheKeyAcctID+account.ID] = &Account{ID: account.ID, Name: account.Name}
				if account.Name != "" {
					r.cache[cacheKeyAcctName+account.Name] = &Account{ID: account.ID, Name: account.Name}
				}
				if !yield(account, nil) {
					return
				}
			}
			if out.NextToken == nil {
				return
			}
			nextToken = out.NextToken
		}
	}
}

func (r *Resolver) managementAccountID(ctx context.Context) (string, error) {
	if id, err, ok := cached[string](r, cacheKeyOrg); ok {
		return id, err
	}
	out, err := r.organizations.DescribeOrganization(ctx, &organizations.DescribeOrganizationInput{})
	if err != nil {
		return "", fmt.Errorf("describing organization: %w", err)
	}
	id := aws.ToString(out.Organization.MasterAccountId)
	r.cache[cacheKeyOrg] = id
	return id, nil
}
