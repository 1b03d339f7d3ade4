package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	errUtils "github.com/ssoutil/ssoutil/errors"
	"github.com/ssoutil/ssoutil/pkg/awsconfig"
)

// Configure-specific default-session env vars, consulted ahead of the
// generic AWS_DEFAULT_SSO_* pair.
var (
	configureStartURLVars = []string{"AWS_CONFIGURE_SSO_DEFAULT_SSO_START_URL"}
	configureRegionVars   = []string{"AWS_CONFIGURE_SSO_DEFAULT_SSO_REGION"}
)

func init() {
	configureCmd := &cobra.Command{
		Use:   "configure",
		Short: "Write SSO settings into the shared AWS config file",
	}

	var (
		accountID                string
		roleName                 string
		region                   string
		output                   string
		existingAction           string
		disableCredentialProcess bool
		configPath               string
	)

	profileCmd := &cobra.Command{
		Use:   "profile NAME",
		Short: "Write one SSO profile",
		Args:  cobra.ExactArgs(1),
	}
	flags := addSessionFlags(profileCmd.Flags())
	flags.startURLVars = configureStartURLVars
	flags.regionVars = configureRegionVars
	profileCmd.Flags().StringVar(&accountID, "account-id", "", "Account the profile assumes a role in")
	profileCmd.Flags().StringVar(&roleName, "role-name", "", "Role the profile assumes")
	profileCmd.Flags().StringVar(&region, "region", "", "Default client region for the profile")
	profileCmd.Flags().StringVar(&output, "output", "", "Default output format for the profile")
	profileCmd.Flags().StringVar(&existingAction, "existing-config-action", string(awsconfig.ExistingKeep),
		"What to do with an existing profile section: keep, overwrite, or discard")
	profileCmd.Flags().BoolVar(&disableCredentialProcess, "no-credential-process", false,
		"Skip writing the credential_process entry")
	profileCmd.Flags().StringVar(&configPath, "config-file", "", "Config file to write (defaults to the shared AWS config)")

	profileCmd.RunE = func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if accountID == "" || roleName == "" {
			return fmt.Errorf("%w: configure profile needs --account-id and --role-name", errUtils.ErrMissingConfiguration)
		}

		profile := awsconfig.Profile{
			AccountID:                accountID,
			RoleName:                 roleName,
			Region:                   region,
			Output:                   output,
			DisableCredentialProcess: disableCredentialProcess,
		}
		if flags.sessionName != "" {
			profile.SessionName = flags.sessionName
		} else {
			session, err := flags.findSession("")
			if err != nil {
				return err
			}
			if session.IsInline() {
				profile.StartURL = session.StartURL
				profile.SSORegion = session.Region
				profile.RegistrationScopes = session.RegistrationScopes
			} else {
				profile.SessionName = session.SessionName
			}
		}

		writer := awsconfig.NewWriter(configPath)
		if err := writer.WriteProfile(name, profile, awsconfig.ExistingConfigAction(existingAction)); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote profile %s to %s\n", name, writer.Path())
		return nil
	}

	configureCmd.AddCommand(profileCmd)
	RootCmd.AddCommand(configureCmd)
}
