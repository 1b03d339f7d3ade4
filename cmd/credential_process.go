package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	ini "gopkg.in/ini.v1"

	errUtils "github.com/ssoutil/ssoutil/errors"
	"github.com/ssoutil/ssoutil/pkg/credentials"
	"github.com/ssoutil/ssoutil/pkg/filecache"
	"github.com/ssoutil/ssoutil/pkg/sessions"
	"github.com/ssoutil/ssoutil/pkg/token"
)

// credentialProcessOutput is the credential_process protocol payload.
type credentialProcessOutput struct {
	Version         int            `json:"Version"`
	AccessKeyID     string         `json:"AccessKeyId"`
	SecretAccessKey string         `json:"SecretAccessKey"`
	SessionToken    string         `json:"SessionToken"`
	Expiration      filecache.Time `json:"Expiration"`
}

func debugLogPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".aws", "sso", "aws-sso-credential-process-log.txt")
}

func init() {
	var (
		accountID string
		roleName  string
	)

	credentialProcessCmd := &cobra.Command{
		Use:    "credential-process",
		Short:  "Serve role credentials to the AWS CLI and SDKs",
		Hidden: true,
		Args:   cobra.NoArgs,
	}
	flags := addSessionFlags(credentialProcessCmd.Flags())
	credentialProcessCmd.Flags().StringVar(&accountID, "account-id", "", "Target account id")
	credentialProcessCmd.Flags().StringVar(&roleName, "role-name", "", "Role to assume")

	credentialProcessCmd.RunE = func(cmd *cobra.Command, args []string) error {
		if env.GetBool("credential_process_debug") {
			if path := debugLogPath(); path != "" {
				if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err == nil {
					log.SetOutput(f)
					log.SetLevel(log.DebugLevel)
				}
			}
		}
		log.Debug("credential-process invoked", "profile", flags.profile)

		// Flags beat the environment, the environment beats the profile.
		if flags.startURL == "" {
			flags.startURL = env.GetString("start_url")
		}
		if flags.region == "" {
			flags.region = env.GetString("sso_region")
		}
		if accountID == "" {
			accountID = env.GetString("account_id")
		}
		if roleName == "" {
			roleName = env.GetString("role_name")
		}

		if flags.profile != "" && (accountID == "" || roleName == "") {
			profileAccountID, profileRoleName, err := accountRoleFromProfile(flags.profile)
			if err != nil {
				return err
			}
			if accountID == "" {
				accountID = profileAccountID
			}
			if roleName == "" {
				roleName = profileRoleName
			}
		}
		if accountID == "" || roleName == "" {
			return fmt.Errorf("%w: credential-process needs an account id and role name", errUtils.ErrMissingConfiguration)
		}

		session, err := flags.findSession("")
		if err != nil {
			return err
		}

		fetcher := newFetcher(session.Region, token.WithOnPendingAuthorization(token.NonInteractive()))
		fetched, err := fetcher.Fetch(cmd.Context(), fetchInputForSession(session, false))
		if err != nil {
			return err
		}

		engine := credentials.NewEngine(newSSOClient(session.Region))
		creds, err := engine.Get(cmd.Context(), fetched.AccessToken, credentials.Request{
			StartURL:  session.StartURL,
			AccountID: accountID,
			RoleName:  roleName,
		})
		if err != nil {
			return err
		}

		return json.NewEncoder(cmd.OutOrStdout()).Encode(credentialProcessOutput{
			Version:         1,
			AccessKeyID:     creds.AccessKeyID,
			SecretAccessKey: creds.SecretAccessKey,
			SessionToken:    creds.SessionToken,
			Expiration:      creds.Expiration,
		})
	}

	RootCmd.AddCommand(credentialProcessCmd)
}

// accountRoleFromProfile reads sso_account_id and sso_role_name from
// the shared config file.
func accountRoleFromProfile(profileName string) (string, string, error) {
	file, err := ini.Load(sessions.DefaultConfigPath())
	if err != nil {
		return "", "", fmt.Errorf("%w: loading config file: %v", errUtils.ErrConfigProfile, err)
	}
	sectionName := "profile " + profileName
	if profileName == "default" {
		sectionName = "default"
	}
	section, err := file.GetSection(sectionName)
	if err != nil {
		return "", "", fmt.Errorf("%w: no profile %s", errUtils.ErrConfigProfile, profileName)
	}
	return section.Key("sso_account_id").String(), section.Key("sso_role_name").String(), nil
}
