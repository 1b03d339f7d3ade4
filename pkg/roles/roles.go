// Package roles enumerates the accounts and roles an SSO access token
// can assume.
package roles

import (
	"fmt"
	"iter"

	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sso"
)

// API is the SSO subset used for role discovery.
type API interface {
	ListAccounts(ctx context.Context, params *sso.ListAccountsInput, optFns ...func(*sso.Options)) (*sso.ListAccountsOutput, error)
	ListAccountRoles(ctx context.Context, params *sso.ListAccountRolesInput, optFns ...func(*sso.Options)) (*sso.ListAccountRolesOutput, error)
}

// Role is one assumable role in one account.
type Role struct {
	AccountID   string
	AccountName string
	RoleName    string
}

// List lazily yields the roles the token can assume. With explicit
// accountIDs only those accounts are consulted; otherwise every
// account visible to the token is enumerated.
func List(ctx context.Context, client API, accessToken string, accountIDs []string) iter.Seq2[Role, error] {
	return func(yield func(Role, error) bool) {
		if len(accountIDs) > 0 {
			for _, accountID := range accountIDs {
				if !listAccountRoles(ctx, client, accessToken, accountID, "", yield) {
					return
				}
			}
			return
		}

		var nextToken *string
		for {
			out, err := client.ListAccounts(ctx, &sso.ListAccountsInput{
				AccessToken: aws.String(accessToken),
				NextToken:   nextToken,
			})
			if err != nil {
				yield(Role{}, fmt.Errorf("listing accounts: %w", err))
				return
			}
			for _, account := range out.AccountList {
				if !listAccountRoles(ctx, client, accessToken, aws.ToString(account.AccountId), aws.ToString(account.AccountName), yield) {
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

func listAccountRoles(ctx context.Context, client API, accessToken, accountID, accountName string, yield func(Role, error) bool) bool {
	var nextToken *string
	for {
		out, err := client.ListAccountRoles(ctx, &sso.ListAccountRolesInput{
			AccessToken: aws.String(accessToken),
			AccountId:   aws.String(accountID),
			NextToken:   nextToken,
		})
		if err != nil {
			return yield(Role{}, fmt.Errorf("listing roles for account %s: %w", accountID, err))
		}
		for _, role := range out.RoleList {
			if !yield(Role{AccountID: accountID, AccountName: accountName, RoleName: aws.ToString(role.RoleName)}, nil) {
				return false
			}
		}
		if out.NextToken == nil {
			return true
		}
		nextToken = out.NextToken
	}
}
