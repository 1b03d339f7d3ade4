package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ssoutil/ssoutil/pkg/token"
)

func init() {
	var all bool

	logoutCmd := &cobra.Command{
		Use:   "logout [specifier]",
		Short: "Sign out and discard cached SSO tokens",
		Args:  cobra.MaximumNArgs(1),
	}
	flags := addSessionFlags(logoutCmd.Flags())
	logoutCmd.Flags().BoolVar(&all, "all", true, "Log out of every configured session")

	logoutCmd.RunE = func(cmd *cobra.Command, args []string) error {
		specifier := ""
		if len(args) == 1 {
			specifier = args[0]
			all = false
		}
		if flags.profile != "" || flags.sessionName != "" || flags.startURL != "" {
			all = false
		}

		found, err := flags.findSessions(specifier, all)
		if err != nil {
			return err
		}

		for _, session := range found {
			fetcher := token.NewFetcher(nil)
			client := newSSOClient(session.Region)
			if fetcher.Logout(cmd.Context(), client, session.StartURL, sessionNameForFetch(session)) {
				fmt.Fprintf(cmd.OutOrStdout(), "Logged out of %s\n", session.Name())
			}
		}
		return nil
	}

	RootCmd.AddCommand(logoutCmd)
}
