package cmd

import (
	"encoding/csv"

	"github.com/aws/aws-sdk-go-v2/service/identitystore"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/ssoadmin"
	"github.com/spf13/cobra"

	"github.com/ssoutil/ssoutil/pkg/assignments"
	"github.com/ssoutil/ssoutil/pkg/lookup"
)

var assignmentsCSVHeader = []string{
	"instance_arn",
	"principal_type", "principal_id", "principal_name",
	"permission_set_arn", "permission_set_name",
	"target_type", "target_id", "target_name",
	"source_ou",
}

func init() {
	var (
		profile         string
		region          string
		instanceArn     string
		identityStoreID string
		groups          []string
		users           []string
		permissionSets  []string
		targets         []string
		ouRecursive     bool
		noNames         bool
	)

	assignmentsCmd := &cobra.Command{
		Use:   "assignments",
		Short: "List account assignments as CSV",
		Long: `Expand the requested principals, permission sets, and targets into
concrete account assignments and write them as CSV. With no
constraints, every assignment in the organization is listed.`,
		Args: cobra.NoArgs,
	}
	assignmentsCmd.Flags().StringVar(&profile, "profile", "", "Config profile for admin credentials")
	assignmentsCmd.Flags().StringVar(&region, "region", "", "Region for the admin APIs")
	assignmentsCmd.Flags().StringVar(&instanceArn, "instance-arn", "", "SSO instance ARN")
	assignmentsCmd.Flags().StringVar(&identityStoreID, "identity-store-id", "", "Identity store id")
	assignmentsCmd.Flags().StringSliceVar(&groups, "group", nil, "Group principal ids")
	assignmentsCmd.Flags().StringSliceVar(&users, "user", nil, "User principal ids")
	assignmentsCmd.Flags().StringSliceVar(&permissionSets, "permission-set", nil, "Permission set ARNs or ids")
	assignmentsCmd.Flags().StringSliceVar(&targets, "target", nil, "Account ids or OU ids")
	assignmentsCmd.Flags().BoolVar(&ouRecursive, "ou-recursive", false, "Expand OU targets recursively")
	assignmentsCmd.Flags().BoolVar(&noNames, "no-resolve-names", false, "Skip display-name lookups")

	assignmentsCmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := adminConfig(ctx, profile, region)
		if err != nil {
			return err
		}

		ssoAdmin := ssoadmin.NewFromConfig(cfg)
		ids := lookup.NewIds(ssoAdmin,
			lookup.WithInstanceArn(instanceArn),
			lookup.WithIdentityStoreID(identityStoreID),
		)
		resolver := lookup.NewResolver(
			identitystore.NewFromConfig(cfg),
			ssoAdmin,
			organizations.NewFromConfig(cfg),
			ids,
		)

		var principals []assignments.Principal
		for _, group := range groups {
			principals = append(principals, assignments.Principal{Type: assignments.PrincipalTypeGroup, ID: group})
		}
		for _, user := range users {
			principals = append(principals, assignments.Principal{Type: assignments.PrincipalTypeUser, ID: user})
		}
		normalizedTargets, err := assignments.NormalizeTargets(targets)
		if err != nil {
			return err
		}

		assignmentResolver := assignments.NewResolver(ssoAdmin, resolver, ids,
			assignments.WithOURecursive(ouRecursive),
			assignments.WithNameResolution(!noNames),
		)

		w := csv.NewWriter(cmd.OutOrStdout())
		if err := w.Write(assignmentsCSVHeader); err != nil {
			return err
		}
		for assignment, err := range assignmentResolver.ListAssignments(ctx, assignments.Spec{
			Principals:     principals,
			PermissionSets: permissionSets,
			Targets:        normalizedTargets,
		}) {
			if err != nil {
				return err
			}
			record := []string{
				assignment.InstanceArn,
				assignment.PrincipalType, assignment.PrincipalID, assignment.PrincipalName,
				assignment.PermissionSetArn, assignment.PermissionSetName,
				assignment.TargetType, assignment.TargetID, assignment.TargetName,
				assignment.SourceOU,
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	}

	RootCmd.AddCommand(assignmentsCmd)
}
