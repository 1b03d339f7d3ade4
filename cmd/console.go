package cmd

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/spf13/cobra"

	errUtils "github.com/ssoutil/ssoutil/errors"
	"github.com/ssoutil/ssoutil/pkg/console"
	"github.com/ssoutil/ssoutil/pkg/credentials"
)

// consoleProvider builds the role credentials provider the console
// commands federate with, resolved through the regular token and
// credentials path. The session start URL is returned alongside so
// callers can use it as the issuer fallback.
func consoleProvider(flags *sessionFlags, accountID, roleName string) (aws.CredentialsProvider, string, error) {
	if accountID == "" || roleName == "" {
		return nil, "", fmt.Errorf("%w: console launch needs an account id and role name", errUtils.ErrMissingConfiguration)
	}
	session, err := flags.findSession("")
	if err != nil {
		return nil, "", err
	}
	provider := credentials.NewProvider(
		credentials.NewEngine(newSSOClient(session.Region)),
		newFetcher(session.Region),
		session,
		accountID,
		roleName,
	)
	return aws.NewCredentialsCache(provider), session.StartURL, nil
}

// consoleIssuer resolves the federation issuer: explicit value, then
// AWS_CONSOLE_DEFAULT_ISSUER, then the session start URL.
func consoleIssuer(issuer, startURL string) string {
	if issuer == "" {
		issuer = env.GetString("console_default_issuer")
	}
	if issuer == "" {
		issuer = startURL
	}
	if issuer == "" {
		issuer = console.DefaultIssuer
	}
	return issuer
}

func launchConsole(cmd *cobra.Command, provider aws.CredentialsProvider, region, destination, issuer string, duration int, logoutFirst, printOnly bool) error {
	resolved, err := console.Destination(destination, region, false)
	if err != nil {
		return err
	}
	signinToken, err := console.GetSigninToken(cmd.Context(), region, provider, console.SigninTokenOptions{
		SessionDuration: duration,
	})
	if err != nil {
		return err
	}
	loginURL := console.LoginURL(region, issuer, resolved, signinToken)

	launcher := &console.Launcher{
		Out:         cmd.OutOrStdout(),
		LogoutFirst: logoutFirst || env.GetBool("console_logout_first"),
		PrintOnly:   printOnly,
	}
	return launcher.Launch(region, loginURL)
}

func init() {
	consoleCmd := &cobra.Command{
		Use:   "console",
		Short: "Open the AWS console with SSO role credentials",
	}

	var (
		accountID   string
		roleName    string
		region      string
		destination string
		issuer      string
		duration    int
		logoutFirst bool
		printOnly   bool
	)

	launchCmd := &cobra.Command{
		Use:   "launch",
		Short: "Open the console for one role",
		Args:  cobra.NoArgs,
	}
	launchFlags := addSessionFlags(launchCmd.Flags())
	launchCmd.Flags().StringVar(&accountID, "account-id", "", "Account to open the console in")
	launchCmd.Flags().StringVar(&roleName, "role-name", "", "Role to assume")
	launchCmd.Flags().StringVar(&region, "region", "", "Console region")
	launchCmd.Flags().StringVar(&destination, "destination", "", "Console destination URL or path")
	launchCmd.Flags().StringVar(&issuer, "issuer", "", "Issuer recorded in the federation login URL")
	launchCmd.Flags().IntVar(&duration, "duration", 0, "Federated session duration in seconds")
	launchCmd.Flags().BoolVar(&logoutFirst, "logout-first", false, "Log the browser out of any console session first")
	launchCmd.Flags().BoolVar(&printOnly, "print", false, "Print the login URL instead of opening a browser")

	launchCmd.RunE = func(cmd *cobra.Command, args []string) error {
		if destination == "" {
			destination = env.GetString("console_default_destination")
		}
		if duration == 0 {
			duration = env.GetInt("console_default_duration")
		}
		if region == "" {
			region = env.GetString("console_default_region")
		}
		provider, startURL, err := consoleProvider(launchFlags, accountID, roleName)
		if err != nil {
			return err
		}
		return launchConsole(cmd, provider, region, destination, consoleIssuer(issuer, startURL), duration, logoutFirst, printOnly)
	}

	getTokenCmd := &cobra.Command{
		Use:   "get-config-token",
		Short: "Encode a shareable console launch token",
		Args:  cobra.NoArgs,
	}
	tokenFlags := addSessionFlags(getTokenCmd.Flags())
	getTokenCmd.Flags().StringVar(&accountID, "account-id", "", "Account to open the console in")
	getTokenCmd.Flags().StringVar(&roleName, "role-name", "", "Role to assume")
	getTokenCmd.Flags().StringVar(&region, "region", "", "Console region")
	getTokenCmd.Flags().StringVar(&destination, "destination", "", "Console destination URL or path")
	getTokenCmd.Flags().StringVar(&issuer, "issuer", "", "Issuer recorded in the federation login URL")
	getTokenCmd.Flags().IntVar(&duration, "duration", 0, "Federated session duration in seconds")

	getTokenCmd.RunE = func(cmd *cobra.Command, args []string) error {
		session, err := tokenFlags.findSession("")
		if err != nil {
			return err
		}
		if issuer == "" {
			issuer = env.GetString("console_default_issuer")
		}
		encoded, err := console.ConfigToken{
			StartURL:        session.StartURL,
			SSORegion:       session.Region,
			AccountID:       accountID,
			RoleName:        roleName,
			Region:          region,
			Issuer:          issuer,
			Destination:     destination,
			SessionDuration: duration,
		}.Encode()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), encoded)
		return nil
	}

	launchFromConfigCmd := &cobra.Command{
		Use:   "launch-from-config TOKEN",
		Short: "Open the console from an encoded launch token",
		Args:  cobra.ExactArgs(1),
	}
	launchFromConfigCmd.Flags().BoolVar(&logoutFirst, "logout-first", false, "Log the browser out of any console session first")
	launchFromConfigCmd.Flags().BoolVar(&printOnly, "print", false, "Print the login URL instead of opening a browser")

	launchFromConfigCmd.RunE = func(cmd *cobra.Command, args []string) error {
		configToken, err := console.DecodeConfigToken(args[0])
		if err != nil {
			return err
		}
		flags := &sessionFlags{startURL: configToken.StartURL, region: configToken.SSORegion}
		provider, startURL, err := consoleProvider(flags, configToken.AccountID, configToken.RoleName)
		if err != nil {
			return err
		}
		destination := configToken.Destination
		if destination == "" {
			destination = configToken.URL
		}
		region := configToken.Region
		if region == "" {
			region = env.GetString("console_default_region")
		}
		return launchConsole(cmd, provider, region, destination, consoleIssuer(configToken.Issuer, startURL),
			configToken.SessionDuration, logoutFirst, printOnly)
	}

	consoleCmd.AddCommand(launchCmd, getTokenCmd, launchFromConfigCmd)
	RootCmd.AddCommand(consoleCmd)
}
