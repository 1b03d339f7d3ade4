// Package cmd wires the ssoutil CLI.
package cmd

import (
	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var logLevel string

// RootCmd is the base command.
var RootCmd = &cobra.Command{
	Use:   "ssoutil",
	Short: "Smooth and secure AWS SSO from the command line",
	Long: `ssoutil signs you in through AWS IAM Identity Center, serves role
credentials to the AWS CLI and SDKs, opens the console, and plans
CloudFormation templates for permission sets and account assignments.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		log.SetLevel(level)
		return nil
	},
}

// Execute runs the CLI.
func Execute() error {
	return RootCmd.Execute()
}

func init() {
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
}
