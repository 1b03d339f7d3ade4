package cfn

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errUtils "github.com/ssoutil/ssoutil/errors"
	"github.com/ssoutil/ssoutil/pkg/lookup"
)

const testInstanceArn = "arn:aws:sso:::instance/ssoins-1234567890abcdef"

func intPtr(n int) *int { return &n }

func testAssignment(accountID string) Assignment {
	return Assignment{
		InstanceArn:   testInstanceArn,
		Principal:     Principal{Type: PrincipalTypeGroup, ID: "g-1"},
		PermissionSet: ArnPermissionSet{Value: testInstanceArn + "/ps-abc"},
		Target:        Target{Type: TargetTypeAccount, ID: accountID},
	}
}

func manyAssignments(n int) []Assignment {
	assignments := make([]Assignment, n)
	for i := range n {
		assignments[i] = testAssignment(fmt.Sprintf("%012d", i+1))
	}
	return assignments
}

func TestFingerprintStable(t *testing.T) {
	a := testAssignment("000000000001")
	b := testAssignment("000000000001")
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.Len(t, a.Fingerprint(), 6)
	assert.Equal(t, strings.ToUpper(a.Fingerprint()), a.Fingerprint())
	assert.Equal(t, "PrefixAssignment"+a.Fingerprint(), a.ResourceName("Prefix"))

	c := testAssignment("000000000002")
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestFingerprintDependsOnPrincipalType(t *testing.T) {
	a := testAssignment("000000000001")
	b := a
	b.Principal.Type = PrincipalTypeUser
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestShardStableAndInRange(t *testing.T) {
	a := testAssignment("000000000001")
	shard := a.Shard(7)
	assert.Equal(t, shard, a.Shard(7))
	assert.GreaterOrEqual(t, shard, 0)
	assert.Less(t, shard, 7)
}

func TestNewPermissionSet(t *testing.T) {
	ps, err := NewPermissionSet("arn:aws:sso:::permissionSet/ssoins-1/ps-1", testInstanceArn)
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:sso:::permissionSet/ssoins-1/ps-1", ps.Arn(RefModeDefault))

	ps, err = NewPermissionSet("ps-abc", testInstanceArn)
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:sso:::permissionSet/ssoins-1234567890abcdef/ps-abc", ps.Arn(RefModeDefault))

	ps, err = NewPermissionSet("ssoins-1/ps-1", testInstanceArn)
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:sso:::permissionSet/ssoins-1/ps-1", ps.Arn(RefModeDefault))

	ps, err = NewPermissionSet(map[string]any{"Ref": "MyParam"}, testInstanceArn)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Ref": "MyParam"}, ps.Arn(RefModeDefault))

	ps, err = NewPermissionSet("MyPermissionSet", testInstanceArn)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Fn::GetAtt": []any{"MyPermissionSet", "PermissionSetArn"}}, ps.Arn(RefModeDefault))
	assert.Equal(t, map[string]any{"Ref": "MyPermissionSet"}, ps.Arn(RefModeRef))
	assert.Equal(t, "MyPermissionSet", ps.Arn(RefModeName))
}

func TestNewPermissionSetInlineResource(t *testing.T) {
	ps, err := NewPermissionSet(map[string]any{"Name": "AdminAccess", "Description": "Full access"}, testInstanceArn)
	require.NoError(t, err)
	inline, ok := ps.(InlinePermissionSet)
	require.True(t, ok)
	assert.Equal(t, "PermSetAdminAccess", inline.ResourceName())
	assert.Equal(t, map[string]any{"Fn::GetAtt": []any{"PermSetAdminAccess", "PermissionSetArn"}}, ps.Arn(RefModeDefault))
	assert.Equal(t, map[string]any{"Ref": "PermSetAdminAccess"}, ps.Arn(RefModeRef))

	// Single-key intrinsic maps stay references, never resources.
	ps, err = NewPermissionSet(map[string]any{"Fn::ImportValue": "SharedPS"}, testInstanceArn)
	require.NoError(t, err)
	_, ok = ps.(IntrinsicPermissionSet)
	assert.True(t, ok)

	// Full resource form takes the name from Properties.
	ps, err = NewPermissionSet(map[string]any{
		"Type":       "AWS::SSO::PermissionSet",
		"Properties": map[string]any{"Name": "ReadOnly"},
	}, testInstanceArn)
	require.NoError(t, err)
	assert.Equal(t, "PermSetReadOnly", ps.ResourceName())

	_, err = NewPermissionSet(map[string]any{"Description": "nameless"}, testInstanceArn)
	assert.ErrorIs(t, err, errUtils.ErrTemplateGeneration)
}

func TestInlinePermissionSetPlannedAsResource(t *testing.T) {
	config := &Config{
		InstanceArn:    testInstanceArn,
		Groups:         []string{"g-1"},
		PermissionSets: []any{map[string]any{"Name": "AdminAccess", "Description": "Full access"}},
		Accounts:       []string{"123456789012"},
	}
	require.NoError(t, config.Validate(context.Background(), nil))

	collection, err := ResourcesFromConfig(context.Background(), config, nil)
	require.NoError(t, err)
	require.Len(t, collection.PermissionSets, 1)
	assert.Equal(t, "PermSetAdminAccess", collection.PermissionSets[0].Name)
	require.Len(t, collection.Assignments, 1)
	assert.Equal(t, 2, collection.NumResources())

	plan, err := BuildPlan(PlanInput{
		Stem:        "MyStack",
		Resources:   collection,
		Config:      &GenerationConfig{},
		InstanceArn: config.InstanceArn,
	})
	require.NoError(t, err)

	resources := plan.Parent["Resources"].(map[string]any)
	permSet, ok := resources["PermSetAdminAccess"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "AWS::SSO::PermissionSet", permSet["Type"])
	props := permSet["Properties"].(map[string]any)
	assert.Equal(t, "AdminAccess", props["Name"])
	assert.Equal(t, testInstanceArn, props["InstanceArn"])

	assignmentName := collection.Assignments[0].ResourceName("")
	assignment := resources[assignmentName].(map[string]any)
	arn := assignment["Properties"].(map[string]any)["PermissionSetArn"]
	assert.Equal(t, map[string]any{"Fn::GetAtt": []any{"PermSetAdminAccess", "PermissionSetArn"}}, arn)
}

func TestGenerationConfigChildStackCount(t *testing.T) {
	cfg := &GenerationConfig{}
	assert.Nil(t, cfg.ChildStackCount())
	assert.Equal(t, DefaultMaxResourcesPerTemplate, cfg.MaxResources())
	assert.Equal(t, DefaultMaxConcurrentAssignments, cfg.MaxConcurrent())

	cfg = &GenerationConfig{NumChildStacks: intPtr(2)}
	require.NotNil(t, cfg.ChildStackCount())
	assert.Equal(t, 2, *cfg.ChildStackCount())

	// Allocation-derived lower bound wins over a smaller explicit count.
	cfg = &GenerationConfig{NumChildStacks: intPtr(2), MaxAssignmentsAllocation: intPtr(2200)}
	assert.Equal(t, 5, *cfg.ChildStackCount())
}

func TestGenerationConfigSetMergeSemantics(t *testing.T) {
	base := &GenerationConfig{MaxResourcesPerTemplate: intPtr(100)}
	base.Set(&GenerationConfig{MaxResourcesPerTemplate: intPtr(200), MaxConcurrentAssignments: intPtr(10)}, false)
	assert.Equal(t, 100, *base.MaxResourcesPerTemplate, "no overwrite of set field")
	assert.Equal(t, 10, *base.MaxConcurrentAssignments, "unset field filled")

	base.Set(&GenerationConfig{MaxResourcesPerTemplate: intPtr(200)}, true)
	assert.Equal(t, 200, *base.MaxResourcesPerTemplate)
}

func TestGenerationConfigLoadMetadata(t *testing.T) {
	cfg := &GenerationConfig{}
	require.NoError(t, cfg.Load(map[string]any{
		"MaxResourcesPerTemplate": 400,
		"NumChildTemplates":       3,
		"DefaultSessionDuration":  "PT8H",
	}, true))
	assert.Equal(t, 400, *cfg.MaxResourcesPerTemplate)
	assert.Equal(t, 3, *cfg.NumChildStacks)
	assert.Equal(t, "PT8H", cfg.DefaultSessionDuration)

	err := cfg.Load(map[string]any{"NumChildStacks": 1, "NumChildTemplates": 2}, true)
	assert.ErrorIs(t, err, errUtils.ErrInvalidSSOConfig)
}

func TestConfigLoadAliases(t *testing.T) {
	config := &Config{}
	require.NoError(t, config.Load(map[string]any{
		"Instance":       testInstanceArn,
		"Groups":         []any{"g-1", "g-2"},
		"User":           "u-1",
		"PermissionSets": []any{"ps-abc"},
		"OUs":            "ou-abcd-12345678",
		"Accounts":       []any{123456789012},
	}))
	assert.Equal(t, testInstanceArn, config.InstanceArn)
	assert.Equal(t, []string{"g-1", "g-2"}, config.Groups)
	assert.Equal(t, []string{"u-1"}, config.Users)
	assert.Equal(t, []string{"ou-abcd-12345678"}, config.OUs)
	assert.Equal(t, []string{"123456789012"}, config.Accounts)

	err := config.Load(map[string]any{"Groups": "g-1", "Group": "g-2"})
	assert.ErrorIs(t, err, errUtils.ErrInvalidSSOConfig)
}

func TestConfigLoadResourceProperties(t *testing.T) {
	config := &Config{}
	require.NoError(t, config.LoadResourceProperties(map[string]any{
		"Name":     "Developers",
		"Instance": testInstanceArn,
		"Principal": []any{
			map[string]any{"Type": "GROUP", "Id": "g-1"},
			map[string]any{"Type": "USER", "Ids": []any{"u-1", "u-2"}},
		},
		"PermissionSet": "ps-abc",
		"Target": []any{
			map[string]any{"Type": "AWS_ACCOUNT", "Id": "123456789012"},
			map[string]any{"Type": "AWS_OU", "Id": "ou-abcd-12345678", "Recursive": true},
		},
	}))
	assert.Equal(t, "Developers", config.AssignmentGroupName)
	assert.Equal(t, []string{"g-1"}, config.Groups)
	assert.Equal(t, []string{"u-1", "u-2"}, config.Users)
	assert.Equal(t, []string{"123456789012"}, config.Accounts)
	assert.Equal(t, []string{"ou-abcd-12345678"}, config.RecursiveOUs)
	assert.Empty(t, config.OUs)
}

func TestConfigLoadResourcePropertiesRejectsInvalid(t *testing.T) {
	config := &Config{}
	err := config.LoadResourceProperties(map[string]any{
		"Principal": []any{map[string]any{"Id": "g-1"}},
		"Target":    []any{map[string]any{"Type": "AWS_ACCOUNT", "Id": "123456789012"}},
	})
	assert.ErrorIs(t, err, errUtils.ErrInvalidSSOConfig)

	err = config.LoadResourceProperties(map[string]any{
		"Principal": []any{map[string]any{"Type": "GROUP", "Id": "g-1", "Ids": []any{"g-2"}}},
		"Target":    []any{map[string]any{"Type": "AWS_ACCOUNT", "Id": "123456789012"}},
	})
	assert.ErrorIs(t, err, errUtils.ErrInvalidSSOConfig)
}

func TestConfigValidate(t *testing.T) {
	config := &Config{
		InstanceArn:    testInstanceArn,
		Groups:         []string{"g-1"},
		PermissionSets: []any{"ps-abc"},
		Accounts:       []string{"123456789012"},
	}
	require.NoError(t, config.Validate(context.Background(), nil))

	missing := &Config{Groups: []string{"g-1"}, PermissionSets: []any{"ps-abc"}, Accounts: []string{"123456789012"}}
	err := missing.Validate(context.Background(), nil)
	assert.ErrorIs(t, err, errUtils.ErrInvalidSSOConfig)

	noTargets := &Config{InstanceArn: testInstanceArn, Groups: []string{"g-1"}, PermissionSets: []any{"ps-abc"}}
	err = noTargets.Validate(context.Background(), nil)
	assert.ErrorIs(t, err, errUtils.ErrInvalidSSOConfig)
}

func TestInlinePlanConcurrencyWindow(t *testing.T) {
	assignments := manyAssignments(25)
	plan, err := BuildPlan(PlanInput{
		Stem:      "MyStack",
		Resources: &ResourceCollection{Assignments: assignments},
		Config:    &GenerationConfig{MaxConcurrentAssignments: intPtr(20)},
	})
	require.NoError(t, err)
	require.Empty(t, plan.Children)

	resources := plan.Parent["Resources"].(map[string]any)
	require.Len(t, resources, 25)
	for k, assignment := range assignments {
		resource := resources[assignment.ResourceName("")].(map[string]any)
		dependsOn, hasDependsOn := resource["DependsOn"]
		if k < 20 {
			assert.False(t, hasDependsOn, "assignment %d", k)
		} else {
			assert.Equal(t, []string{assignments[k-20].ResourceName("")}, dependsOn, "assignment %d", k)
		}
	}
}

func TestShardedPlan(t *testing.T) {
	assignments := manyAssignments(1000)
	plan, err := BuildPlan(PlanInput{
		Stem:      "MyStack",
		Resources: &ResourceCollection{Assignments: assignments},
		Config: &GenerationConfig{
			MaxResourcesPerTemplate: intPtr(500),
			NumChildStacks:          intPtr(3),
		},
		TemplateURL: func(stem string) any { return "https://bucket.s3.amazonaws.com/" + stem + ".json" },
	})
	require.NoError(t, err)
	require.Len(t, plan.Children, 3)

	total := 0
	for _, child := range plan.Children {
		count := len(child.Template["Resources"].(map[string]any))
		assert.GreaterOrEqual(t, count, 300)
		assert.LessOrEqual(t, count, 370)
		total += count
	}
	assert.Equal(t, 1000, total)

	resources := plan.Parent["Resources"].(map[string]any)
	first := resources["MyStack000"].(map[string]any)
	second := resources["MyStack001"].(map[string]any)
	third := resources["MyStack002"].(map[string]any)
	assert.Equal(t, "AWS::CloudFormation::Stack", first["Type"])
	_, firstHasDeps := first["DependsOn"]
	assert.False(t, firstHasDeps)
	assert.Equal(t, []string{"MyStack000"}, second["DependsOn"])
	assert.Equal(t, []string{"MyStack001"}, third["DependsOn"])
}

func TestShardingIsStableAcrossRuns(t *testing.T) {
	assignments := manyAssignments(100)
	collection := &ResourceCollection{Assignments: assignments}
	first := collection.AllocateAssignments(4)
	second := collection.AllocateAssignments(4)
	assert.Equal(t, first, second)
}

func TestPlanErrorBranches(t *testing.T) {
	// Unset child count with too many resources.
	_, err := BuildPlan(PlanInput{
		Stem:      "S",
		Resources: &ResourceCollection{Assignments: manyAssignments(10)},
		Config:    &GenerationConfig{MaxResourcesPerTemplate: intPtr(5)},
	})
	assert.ErrorIs(t, err, errUtils.ErrTemplateGeneration)

	// Explicit zero forces inline even though sharding would be needed.
	_, err = BuildPlan(PlanInput{
		Stem:      "S",
		Resources: &ResourceCollection{Assignments: manyAssignments(10)},
		Config:    &GenerationConfig{MaxResourcesPerTemplate: intPtr(5), NumChildStacks: intPtr(0)},
	})
	assert.ErrorIs(t, err, errUtils.ErrTemplateGeneration)

	// Too few child stacks for the resource count.
	_, err = BuildPlan(PlanInput{
		Stem:      "S",
		Resources: &ResourceCollection{Assignments: manyAssignments(20)},
		Config:    &GenerationConfig{MaxResourcesPerTemplate: intPtr(5), NumChildStacks: intPtr(2)},
		TemplateURL: func(stem string) any { return stem },
	})
	assert.ErrorIs(t, err, errUtils.ErrTemplateGeneration)
}

func TestParentPermissionSetReferencedFromChild(t *testing.T) {
	assignments := make([]Assignment, 30)
	for i := range 30 {
		assignments[i] = Assignment{
			InstanceArn:   testInstanceArn,
			Principal:     Principal{Type: PrincipalTypeGroup, ID: "g-1"},
			PermissionSet: ResourcePermissionSet{Name: "MyPermissionSet"},
			Target:        Target{Type: TargetTypeAccount, ID: fmt.Sprintf("%012d", i+1)},
		}
	}
	collection := &ResourceCollection{
		Assignments: assignments,
		PermissionSets: []PermissionSetResource{{
			Name:       "MyPermissionSet",
			Properties: map[string]any{"Name": "MyPermissionSet"},
		}},
	}
	plan, err := BuildPlan(PlanInput{
		Stem:        "MyStack",
		Resources:   collection,
		Config:      &GenerationConfig{MaxResourcesPerTemplate: intPtr(20), NumChildStacks: intPtr(2)},
		InstanceArn: testInstanceArn,
		TemplateURL: func(stem string) any { return stem },
	})
	require.NoError(t, err)

	parentResources := plan.Parent["Resources"].(map[string]any)
	ps := parentResources["MyPermissionSet"].(map[string]any)
	assert.Equal(t, "AWS::SSO::PermissionSet", ps["Type"])
	assert.Equal(t, testInstanceArn, ps["Properties"].(map[string]any)["InstanceArn"])

	for _, child := range plan.Children {
		if len(child.Template["Resources"].(map[string]any)) == 0 {
			continue
		}
		params := child.Template["Parameters"].(map[string]any)
		assert.Contains(t, params, "MyPermissionSet")
		assert.Equal(t,
			map[string]any{"Fn::GetAtt": []any{"MyPermissionSet", "PermissionSetArn"}},
			child.Parameters["MyPermissionSet"],
			"parent passes GetAtt across the stack boundary")
		for _, raw := range child.Template["Resources"].(map[string]any) {
			props := raw.(map[string]any)["Properties"].(map[string]any)
			assert.Equal(t, map[string]any{"Ref": "MyPermissionSet"}, props["PermissionSetArn"])
		}
	}
}

func TestProcessPermissionSetProperties(t *testing.T) {
	processed := ProcessPermissionSetProperties(map[string]any{
		"Name":            "Admin",
		"InlinePolicy":    map[string]any{"Version": "2012-10-17"},
		"ManagedPolicies": []any{"ReadOnlyAccess", "arn:aws:iam::aws:policy/AdministratorAccess"},
	}, testInstanceArn, "PT8H")

	assert.Equal(t, testInstanceArn, processed["InstanceArn"])
	assert.Equal(t, "PT8H", processed["SessionDuration"])
	assert.Equal(t, `{"Version":"2012-10-17"}`, processed["InlinePolicy"])
	assert.Equal(t, []any{
		"arn:aws:iam::aws:policy/ReadOnlyAccess",
		"arn:aws:iam::aws:policy/AdministratorAccess",
	}, processed["ManagedPolicies"])

	// Existing values are preserved.
	kept := ProcessPermissionSetProperties(map[string]any{
		"InstanceArn":     "arn:aws:sso:::instance/ssoins-other",
		"SessionDuration": "PT1H",
	}, testInstanceArn, "PT8H")
	assert.Equal(t, "arn:aws:sso:::instance/ssoins-other", kept["InstanceArn"])
	assert.Equal(t, "PT1H", kept["SessionDuration"])
}

func TestSelfReferenceRejected(t *testing.T) {
	_, err := BuildPlan(PlanInput{
		Stem: "S",
		Resources: &ResourceCollection{
			PermissionSets: []PermissionSetResource{{
				Name:       "Loop",
				Properties: map[string]any{"Description": map[string]any{"Ref": "Loop"}},
			}},
		},
		Config: &GenerationConfig{},
	})
	assert.ErrorIs(t, err, errUtils.ErrTemplateGeneration)
}

type fakeS3 struct {
	keys         []string
	contentTypes []string
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.keys = append(f.keys, aws.ToString(params.Key))
	f.contentTypes = append(f.contentTypes, aws.ToString(params.ContentType))
	return &s3.PutObjectOutput{}, nil
}

func TestMacroExpandsAssignmentGroup(t *testing.T) {
	macro := NewMacro(&fakeS3{}, lookup.NewResolver(nil, nil, nil, nil), nil, MacroOptions{Bucket: "bucket"})

	response := macro.Handle(context.Background(), MacroRequest{
		RequestID: "req-1",
		Fragment: map[string]any{
			"Transform": TransformName,
			"Resources": map[string]any{
				"MyPermissionSet": map[string]any{
					"Type": TypePermissionSet,
					"Properties": map[string]any{
						"Name":        "Admin",
						"InstanceArn": testInstanceArn,
					},
				},
				"MyGroup": map[string]any{
					"Type": TypeAssignmentGroup,
					"Properties": map[string]any{
						"Instance":      testInstanceArn,
						"Principal":     []any{map[string]any{"Type": "GROUP", "Id": "g-1"}},
						"PermissionSet": "ps-abcdefgh12345678",
						"Target":        []any{map[string]any{"Type": "AWS_ACCOUNT", "Id": "123456789012"}},
					},
				},
			},
		},
	})

	require.Equal(t, StatusSuccess, response.Status, response.ErrorMessage)
	assert.NotContains(t, response.Fragment, "Transform")

	resources := response.Fragment["Resources"].(map[string]any)
	assert.NotContains(t, resources, "MyGroup")
	assert.Equal(t, "AWS::SSO::PermissionSet", resources["MyPermissionSet"].(map[string]any)["Type"])

	var assignmentNames []string
	for name, raw := range resources {
		if raw.(map[string]any)["Type"] == "AWS::SSO::AccountAssignment" {
			assignmentNames = append(assignmentNames, name)
		}
	}
	require.Len(t, assignmentNames, 1)
	assert.True(t, strings.HasPrefix(assignmentNames[0], "Assignment"))
}

func TestMacroReportsFailure(t *testing.T) {
	macro := NewMacro(&fakeS3{}, lookup.NewResolver(nil, nil, nil, nil), nil, MacroOptions{Bucket: "bucket"})

	response := macro.Handle(context.Background(), MacroRequest{
		RequestID: "req-2",
		Fragment: map[string]any{
			"Resources": map[string]any{
				"Bad": map[string]any{
					"Type":       TypeAssignmentGroup,
					"Properties": map[string]any{"Principal": []any{}},
				},
			},
		},
	})
	assert.Equal(t, StatusFailure, response.Status)
	assert.Equal(t, "req-2", response.RequestID)
	assert.NotEmpty(t, response.ErrorMessage)
}

func TestMacroChildKeyLayout(t *testing.T) {
	macro := NewMacro(&fakeS3{}, nil, nil, MacroOptions{Bucket: "bucket", KeyPrefix: "deploy"})
	key := macro.childKey("req-9", "MyStack-000")
	assert.True(t, strings.HasPrefix(key, "templates/deploy/"))
	assert.True(t, strings.HasSuffix(key, "_req-9/MyStack-000.json"))

	yamlMacro := NewMacro(&fakeS3{}, nil, nil, MacroOptions{Bucket: "bucket", ChildTemplatesInYAML: true})
	assert.True(t, strings.HasSuffix(yamlMacro.childKey("req-9", "S-000"), "/S-000.yaml"))
}
