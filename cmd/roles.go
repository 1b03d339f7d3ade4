package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ssoutil/ssoutil/pkg/roles"
)

func init() {
	var accountIDs []string

	rolesCmd := &cobra.Command{
		Use:   "roles [specifier]",
		Short: "List the accounts and roles you can access",
		Args:  cobra.MaximumNArgs(1),
	}
	flags := addSessionFlags(rolesCmd.Flags())
	rolesCmd.Flags().StringSliceVar(&accountIDs, "account-id", nil, "Restrict to specific account ids")

	rolesCmd.RunE = func(cmd *cobra.Command, args []string) error {
		specifier := ""
		if len(args) == 1 {
			specifier = args[0]
		}
		session, err := flags.findSession(specifier)
		if err != nil {
			return err
		}

		fetcher := newFetcher(session.Region)
		fetched, err := fetcher.Fetch(cmd.Context(), fetchInputForSession(session, false))
		if err != nil {
			return err
		}

		client := newSSOClient(session.Region)
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "Account ID\tAccount name\tRole name")
		for role, err := range roles.List(cmd.Context(), client, fetched.AccessToken, accountIDs) {
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", role.AccountID, role.AccountName, role.RoleName)
		}
		return w.Flush()
	}

	RootCmd.AddCommand(rolesCmd)
}
