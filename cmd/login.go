package cmd

import (
	"fmt"

	oidctypes "github.com/aws/aws-sdk-go-v2/service/ssooidc/types"
	"github.com/aws/smithy-go"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	errUtils "github.com/ssoutil/ssoutil/errors"
	"github.com/ssoutil/ssoutil/pkg/token"
)

func boolPtr(b bool) *bool { return &b }

// Login-specific default-session env vars, consulted ahead of the
// generic AWS_DEFAULT_SSO_* pair.
var (
	loginStartURLVars = []string{"AWS_SSO_LOGIN_DEFAULT_SSO_START_URL"}
	loginRegionVars   = []string{"AWS_SSO_LOGIN_DEFAULT_SSO_REGION"}
)

// Documented login exit codes, kept distinct from the generic mapping.
const (
	exitLoginExpired      = 2
	exitLoginInvalidGrant = 3
	exitLoginClientError  = 4
)

// loginError attaches the login-specific exit code for the failure.
func loginError(err error) error {
	var invalidGrant *oidctypes.InvalidGrantException
	var apiErr smithy.APIError
	switch {
	case errors.Is(err, errUtils.ErrPendingAuthorizationExpired):
		return errUtils.WithExitCode(err, exitLoginExpired)
	case errors.As(err, &invalidGrant):
		return errUtils.WithExitCode(err, exitLoginInvalidGrant)
	case errors.As(err, &apiErr):
		return errUtils.WithExitCode(err, exitLoginClientError)
	}
	return err
}

func init() {
	var (
		all      bool
		force    bool
		headless bool
	)

	loginCmd := &cobra.Command{
		Use:   "login [specifier] [region]",
		Short: "Sign in to AWS IAM Identity Center",
		Long: `Log in to one or all configured SSO sessions. The specifier can be a
start URL, a session name, or a regular expression matching session
names. With no specifier, the configured sessions are discovered from
the environment and the shared config file.`,
		Args: cobra.MaximumNArgs(2),
	}
	flags := addSessionFlags(loginCmd.Flags())
	flags.startURLVars = loginStartURLVars
	flags.regionVars = loginRegionVars
	loginCmd.Flags().BoolVar(&all, "all", false, "Log in to every configured session")
	loginCmd.Flags().BoolVar(&force, "force", false, "Ignore cached tokens and reauthenticate")
	loginCmd.Flags().BoolVar(&headless, "headless", false, "Print the verification URL instead of opening a browser")

	loginCmd.RunE = func(cmd *cobra.Command, args []string) error {
		specifier := ""
		if len(args) >= 1 {
			specifier = args[0]
		}
		if len(args) == 2 {
			flags.startURL = args[0]
			flags.region = args[1]
			specifier = ""
		}
		if !all {
			all = env.GetBool("login_all")
		}

		found, err := flags.findSessions(specifier, all)
		if err != nil {
			return err
		}

		for _, session := range found {
			var opts []token.Option
			if headless {
				opts = append(opts, token.WithOnPendingAuthorization(token.NewBrowserHandler(token.BrowserHandlerOptions{
					Out:            cmd.ErrOrStderr(),
					DisableBrowser: boolPtr(true),
				})))
			}
			fetcher := newFetcher(session.Region, opts...)
			fetched, err := fetcher.Fetch(cmd.Context(), fetchInputForSession(session, force))
			if err != nil {
				return loginError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in to %s until %s\n",
				session.Name(), fetched.ExpiresAt.Format("2006-01-02 15:04 MST"))
		}
		return nil
	}

	RootCmd.AddCommand(loginCmd)
}
