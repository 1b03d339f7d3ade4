package cfn

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	log "github.com/charmbracelet/log"

	errUtils "github.com/ssoutil/ssoutil/errors"
)

const iamPolicyArnPrefix = "arn:aws:iam::aws:policy/"

// templateResourceName strips everything CloudFormation rejects in a
// logical resource name.
func templateResourceName(stem string) string {
	var b strings.Builder
	for _, r := range stem {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ChildStemName names the i-th child template of a parent stem.
func ChildStemName(stem string, index int) string {
	return fmt.Sprintf("%s-%03d", stem, index)
}

// resolveChildCount decides the sharding layout: 0 means inline.
func resolveChildCount(numResources int, cfg *GenerationConfig) (int, error) {
	configured := cfg.ChildStackCount()
	switch {
	case configured == nil:
		if numResources > cfg.MaxResources() {
			return 0, fmt.Errorf("%w: %d resources exceed the %d per-template cap, configure child stacks",
				errUtils.ErrTemplateGeneration, numResources, cfg.MaxResources())
		}
		return 0, nil
	case *configured == 0:
		if numResources > cfg.MaxResources() {
			return 0, fmt.Errorf("%w: %d resources exceed the %d per-template cap",
				errUtils.ErrTemplateGeneration, numResources, cfg.MaxResources())
		}
		return 0, nil
	default:
		needed := int(math.Ceil(float64(numResources) / float64(cfg.MaxResources())))
		if *configured < needed {
			return 0, fmt.Errorf("%w: %d child stacks cannot hold %d resources under the %d cap",
				errUtils.ErrTemplateGeneration, *configured, numResources, cfg.MaxResources())
		}
		return *configured, nil
	}
}

// ChildTemplate is one emitted child stack: its template body and the
// parameter values the parent passes in.
type ChildTemplate struct {
	Stem       string
	Template   map[string]any
	Parameters map[string]any
}

// Plan is the planner output.
type Plan struct {
	Parent   map[string]any
	Children []ChildTemplate
}

// PlanInput is everything BuildPlan needs.
type PlanInput struct {
	Stem               string
	Resources          *ResourceCollection
	Config             *GenerationConfig
	InstanceArn        any
	BaseTemplate       map[string]any
	NumParentResources int
	ResourceNamePrefix string
	// TemplateURL names the uploaded location of a child template; it
	// is required when sharding happens.
	TemplateURL func(childStem string) any
}

// BuildPlan renders the parent template and any child templates.
// Permission sets always stay in the parent; assignments are placed
// inline or hash-allocated across child stacks.
func BuildPlan(in PlanInput) (*Plan, error) {
	parent := map[string]any{}
	for key, value := range in.BaseTemplate {
		parent[key] = value
	}
	if _, ok := parent["AWSTemplateFormatVersion"]; !ok {
		parent["AWSTemplateFormatVersion"] = "2010-09-09"
	}
	resources, _ := parent["Resources"].(map[string]any)
	if resources == nil {
		resources = map[string]any{}
		parent["Resources"] = resources
	}

	parentPSNames := map[string]bool{}
	for _, ps := range in.Resources.PermissionSets {
		if referencesSelf(ps.Properties, ps.Name) {
			return nil, fmt.Errorf("%w: permission set %s references itself", errUtils.ErrTemplateGeneration, ps.Name)
		}
		resources[ps.Name] = map[string]any{
			"Type":       "AWS::SSO::PermissionSet",
			"Properties": ProcessPermissionSetProperties(ps.Properties, in.InstanceArn, in.Config.DefaultSessionDuration),
		}
		parentPSNames[ps.Name] = true
	}

	numResources := in.Resources.NumResources() + in.NumParentResources
	childCount, err := resolveChildCount(numResources, in.Config)
	if err != nil {
		return nil, err
	}

	if childCount == 0 {
		addAssignments(resources, in.Resources.Assignments, in.ResourceNamePrefix, in.Config.MaxConcurrent(), RefModeDefault)
		return &Plan{Parent: parent}, nil
	}

	if in.TemplateURL == nil {
		return nil, fmt.Errorf("%w: sharding into %d child stacks requires a template location", errUtils.ErrTemplateGeneration, childCount)
	}

	plan := &Plan{Parent: parent}
	shards := in.Resources.AllocateAssignments(childCount)
	previousChildName := ""
	for i, shard := range shards {
		stem := ChildStemName(in.Stem, i)
		log.Debug("Building child template", "stem", stem, "assignments", len(shard))

		childResources := map[string]any{}
		addAssignments(childResources, shard, in.ResourceNamePrefix, in.Config.MaxConcurrent(), RefModeRef)

		parameterValues := map[string]any{}
		for _, assignment := range shard {
			collectParameterValues(assignment, parentPSNames, parameterValues)
		}
		childParameters := map[string]any{}
		for name := range parameterValues {
			childParameters[name] = map[string]any{"Type": "String"}
		}

		child := map[string]any{
			"AWSTemplateFormatVersion": "2010-09-09",
			"Resources":                childResources,
		}
		if len(childParameters) > 0 {
			child["Parameters"] = childParameters
		}
		plan.Children = append(plan.Children, ChildTemplate{
			Stem:       stem,
			Template:   child,
			Parameters: parameterValues,
		})

		stackResource := map[string]any{
			"Type": "AWS::CloudFormation::Stack",
			"Properties": map[string]any{
				"TemplateURL": in.TemplateURL(stem),
			},
		}
		if len(parameterValues) > 0 {
			stackResource["Properties"].(map[string]any)["Parameters"] = parameterValues
		}
		if previousChildName != "" {
			stackResource["DependsOn"] = []string{previousChildName}
		}
		childName := templateResourceName(stem)
		resources[childName] = stackResource
		previousChildName = childName
	}
	return plan, nil
}

// addAssignments writes the assignment resources with the sliding
// concurrency window: the k-th assignment depends on the (k-W)-th.
func addAssignments(resources map[string]any, assignments []Assignment, prefix string, window int, mode RefMode) {
	names := make([]string, len(assignments))
	for k, assignment := range assignments {
		names[k] = assignment.ResourceName(prefix)
		var dependsOn []string
		if k >= window {
			dependsOn = []string{names[k-window]}
		}
		resources[names[k]] = assignment.Resource(mode, dependsOn)
	}
}

// collectParameterValues gathers what the parent must pass into a
// child for one assignment: parent permission-set resources become
// GetAtt values, plain Refs pass through.
func collectParameterValues(assignment Assignment, parentPSNames map[string]bool, out map[string]any) {
	if name := assignment.PermissionSet.ResourceName(); name != "" {
		if parentPSNames[name] {
			out[name] = map[string]any{"Fn::GetAtt": []any{name, "PermissionSetArn"}}
		} else {
			out[name] = map[string]any{"Ref": name}
		}
	}
	for _, value := range []any{assignment.InstanceArn, assignment.Principal.ID, assignment.Target.ID, assignment.PermissionSet.Arn(RefModeRef)} {
		if ref, ok := refName(value); ok {
			if _, present := out[ref]; !present {
				out[ref] = map[string]any{"Ref": ref}
			}
		}
	}
}

func refName(value any) (string, bool) {
	m, ok := value.(map[string]any)
	if !ok || len(m) != 1 {
		return "", false
	}
	name, ok := m["Ref"].(string)
	return name, ok && name != ""
}

// referencesSelf reports whether the properties contain a Ref or
// GetAtt back to the owning resource.
func referencesSelf(value any, name string) bool {
	switch v := value.(type) {
	case map[string]any:
		if ref, ok := refName(v); ok && ref == name {
			return true
		}
		if getAtt, ok := v["Fn::GetAtt"].([]any); ok && len(getAtt) > 0 {
			if target, ok := getAtt[0].(string); ok && target == name {
				return true
			}
		}
		for _, nested := range v {
			if referencesSelf(nested, name) {
				return true
			}
		}
	case []any:
		for _, nested := range v {
			if referencesSelf(nested, name) {
				return true
			}
		}
	}
	return false
}

// ProcessPermissionSetProperties normalizes an AWS::SSO::PermissionSet
// resource body.
func ProcessPermissionSetProperties(props map[string]any, instanceArn any, defaultSessionDuration string) map[string]any {
	processed := map[string]any{}
	for key, value := range props {
		processed[key] = value
	}
	if _, ok := processed["InstanceArn"]; !ok && instanceArn != nil {
		processed["InstanceArn"] = instanceArn
	}
	if _, ok := processed["SessionDuration"]; !ok && defaultSessionDuration != "" {
		processed["SessionDuration"] = defaultSessionDuration
	}
	if policy, ok := processed["InlinePolicy"]; ok {
		if _, isString := policy.(string); !isString {
			encoded, err := json.Marshal(policy)
			if err == nil {
				processed["InlinePolicy"] = string(encoded)
			}
		}
	}
	if policies, ok := processed["ManagedPolicies"].([]any); ok {
		normalized := make([]any, len(policies))
		for i, policy := range policies {
			if name, isString := policy.(string); isString && !strings.HasPrefix(name, "arn:") {
				normalized[i] = iamPolicyArnPrefix + name
			} else {
				normalized[i] = policy
			}
		}
		processed["ManagedPolicies"] = normalized
	}
	return processed
}
