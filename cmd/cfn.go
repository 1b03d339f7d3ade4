package cmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/ssoadmin"
	yaml "github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/ssoutil/ssoutil/pkg/cfn"
	"github.com/ssoutil/ssoutil/pkg/lookup"
)

func init() {
	cfnCmd := &cobra.Command{
		Use:   "cfn",
		Short: "Generate CloudFormation templates for permission sets and assignments",
	}

	var (
		profile         string
		region          string
		instanceArn     string
		identityStoreID string
		outputDir       string
		baseTemplate    string
		assignmentsCSV  string

		maxResources   int
		maxConcurrent  int
		maxAllocation  int
		numChildStacks int
		sessionDur     string
	)

	generateCmd := &cobra.Command{
		Use:   "generate-template CONFIG_FILE...",
		Short: "Render templates from assignment config files",
		Args:  cobra.MinimumNArgs(1),
	}
	generateCmd.Flags().StringVar(&profile, "profile", "", "Config profile for admin credentials")
	generateCmd.Flags().StringVar(&region, "region", "", "Region for the admin APIs")
	generateCmd.Flags().StringVar(&instanceArn, "instance-arn", "", "SSO instance ARN")
	generateCmd.Flags().StringVar(&identityStoreID, "identity-store-id", "", "Identity store id")
	generateCmd.Flags().StringVar(&outputDir, "output-dir", "templates", "Directory to write templates into")
	generateCmd.Flags().StringVar(&baseTemplate, "base-template-file", "", "Template to merge generated resources into")
	generateCmd.Flags().StringVar(&assignmentsCSV, "assignments-csv", "", "Also write the expanded assignments as CSV")
	generateCmd.Flags().IntVar(&maxResources, "max-resources-per-template", 0, "Per-template resource cap")
	generateCmd.Flags().IntVar(&maxConcurrent, "max-concurrent-assignments", 0, "Concurrent assignment window")
	generateCmd.Flags().IntVar(&maxAllocation, "max-assignments-allocation", 0, "Assignment capacity to size child stacks for")
	generateCmd.Flags().IntVar(&numChildStacks, "num-child-stacks", -1, "Fixed child stack count (0 forces inline)")
	generateCmd.Flags().StringVar(&sessionDur, "default-session-duration", "", "SessionDuration for permission sets that lack one")

	generateCmd.RunE = func(cmd *cobra.Command, args []string) error {
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
		resolver := lookup.NewResolver(nil, ssoAdmin, organizations.NewFromConfig(cfg), ids)

		generation := &cfn.GenerationConfig{DefaultSessionDuration: sessionDur}
		setIfFlagged := func(dst **int, value int, flagged bool) {
			if flagged {
				v := value
				*dst = &v
			}
		}
		setIfFlagged(&generation.MaxResourcesPerTemplate, maxResources, maxResources > 0)
		setIfFlagged(&generation.MaxConcurrentAssignments, maxConcurrent, maxConcurrent > 0)
		setIfFlagged(&generation.MaxAssignmentsAllocation, maxAllocation, maxAllocation > 0)
		setIfFlagged(&generation.NumChildStacks, numChildStacks, numChildStacks >= 0)

		var base map[string]any
		if baseTemplate != "" {
			if base, err = readYAMLFile(baseTemplate); err != nil {
				return err
			}
		}

		for _, configFile := range args {
			if err := generateFromConfigFile(cmd, configFile, outputDir, base, generation, resolver, ids, assignmentsCSV); err != nil {
				return err
			}
		}
		return nil
	}

	cfnCmd.AddCommand(generateCmd)
	RootCmd.AddCommand(cfnCmd)
}

func readYAMLFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return parsed, nil
}

func generateFromConfigFile(cmd *cobra.Command, configFile, outputDir string, base map[string]any, generation *cfn.GenerationConfig, resolver *lookup.Resolver, ids *lookup.Ids, assignmentsCSV string) error {
	ctx := cmd.Context()
	doc, err := readYAMLFile(configFile)
	if err != nil {
		return err
	}

	// Per-file settings sit alongside the assignment config.
	fileGeneration := generation.Copy()
	if err := fileGeneration.Load(doc, false); err != nil {
		return err
	}

	config := &cfn.Config{}
	if err := config.Load(doc); err != nil {
		return err
	}
	if err := config.Validate(ctx, ids); err != nil {
		return err
	}

	collection, err := cfn.ResourcesFromConfig(ctx, config, resolver)
	if err != nil {
		return err
	}

	stem := strings.TrimSuffix(filepath.Base(configFile), filepath.Ext(configFile))
	plan, err := cfn.BuildPlan(cfn.PlanInput{
		Stem:         stem,
		Resources:    collection,
		Config:       fileGeneration,
		InstanceArn:  config.InstanceArn,
		BaseTemplate: base,
		TemplateURL:  func(childStem string) any { return childStem + ".yaml" },
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}
	if err := writeYAMLFile(filepath.Join(outputDir, stem+".yaml"), plan.Parent); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d assignments", filepath.Join(outputDir, stem+".yaml"), len(collection.Assignments))
	for _, child := range plan.Children {
		if err := writeYAMLFile(filepath.Join(outputDir, child.Stem+".yaml"), child.Template); err != nil {
			return err
		}
	}
	if len(plan.Children) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), ", %d child stacks", len(plan.Children))
	}
	fmt.Fprintln(cmd.OutOrStdout(), ")")

	if assignmentsCSV != "" {
		if err := writeAssignmentsCSV(assignmentsCSV, collection.Assignments); err != nil {
			return err
		}
	}
	return nil
}

func writeYAMLFile(path string, document map[string]any) error {
	encoded, err := yaml.Marshal(document)
	if err != nil {
		return err
	}
	return os.WriteFile(path, encoded, 0o644)
}

func writeAssignmentsCSV(path string, planned []cfn.Assignment) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"principal_type", "principal_id", "permission_set", "target_type", "target_id"}); err != nil {
		return err
	}
	render := func(value any) string {
		if s, ok := value.(string); ok {
			return s
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		return string(encoded)
	}
	for _, assignment := range planned {
		record := []string{
			assignment.Principal.Type,
			render(assignment.Principal.ID),
			render(assignment.PermissionSet.Arn(cfn.RefModeName)),
			assignment.Target.Type,
			render(assignment.Target.ID),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
