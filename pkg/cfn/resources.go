// Package cfn plans CloudFormation templates for SSO permission sets
// and account assignments, sharding large assignment sets into child
// stacks and throttling concurrent mutations with DependsOn edges.
package cfn

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	errUtils "github.com/ssoutil/ssoutil/errors"
)

// Principal/target type discriminators as CloudFormation expects them.
const (
	PrincipalTypeGroup = "GROUP"
	PrincipalTypeUser  = "USER"

	TargetTypeAccount = "AWS_ACCOUNT"
)

const permissionSetArnPrefix = "arn:aws:sso:::permissionSet/"

// hashKey canonicalizes a value for fingerprinting: strings pass
// through, everything else becomes sorted-key JSON.
func hashKey(value any) []byte {
	if s, ok := value.(string); ok {
		return []byte(s)
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return []byte(fmt.Sprintf("%v", value))
	}
	return encoded
}

// Principal is one group or user in an assignment.
type Principal struct {
	Type string
	ID   any // string or an intrinsic such as {"Ref": ...}
}

// Target is one assignment target account.
type Target struct {
	Type string
	ID   any
}

// RefMode selects how a permission-set reference renders in a template.
type RefMode int

const (
	// RefModeDefault renders parent-resource permission sets as
	// GetAtt <name>.PermissionSetArn.
	RefModeDefault RefMode = iota
	// RefModeRef renders template-resource permission sets as a plain
	// Ref, for use across a child-stack parameter boundary.
	RefModeRef
	// RefModeName renders the bare resource name.
	RefModeName
)

// PermissionSet is the tagged reference an assignment carries: a
// literal ARN, an intrinsic, or a pointer at a template resource.
type PermissionSet interface {
	// Arn renders the reference for a template.
	Arn(mode RefMode) any
	// ResourceName returns the referenced template resource name, or
	// "" when the reference is not a template resource.
	ResourceName() string
	hashValue() any
}

// ArnPermissionSet is a fully resolved permission-set ARN.
type ArnPermissionSet struct {
	Value string
}

func (p ArnPermissionSet) Arn(RefMode) any     { return p.Value }
func (p ArnPermissionSet) ResourceName() string { return "" }
func (p ArnPermissionSet) hashValue() any       { return p.Value }

// IntrinsicPermissionSet is a CloudFormation intrinsic such as a Ref
// to a template parameter, passed through untouched.
type IntrinsicPermissionSet struct {
	Value map[string]any
}

func (p IntrinsicPermissionSet) Arn(RefMode) any     { return p.Value }
func (p IntrinsicPermissionSet) ResourceName() string { return "" }
func (p IntrinsicPermissionSet) hashValue() any       { return p.Value }

// isIntrinsic reports whether a map is a CloudFormation intrinsic such
// as {"Ref": ...} or {"Fn::GetAtt": ...}.
func isIntrinsic(value map[string]any) bool {
	if len(value) != 1 {
		return false
	}
	for key := range value {
		if key == "Ref" || strings.HasPrefix(key, "Fn::") {
			return true
		}
	}
	return false
}

// ResourcePermissionSet points at an AWS::SSO::PermissionSet resource
// declared in the same plan.
type ResourcePermissionSet struct {
	Name string
}

func (p ResourcePermissionSet) Arn(mode RefMode) any {
	switch mode {
	case RefModeRef:
		return map[string]any{"Ref": p.Name}
	case RefModeName:
		return p.Name
	default:
		return map[string]any{"Fn::GetAtt": []any{p.Name, "PermissionSetArn"}}
	}
}
func (p ResourcePermissionSet) ResourceName() string { return p.Name }
func (p ResourcePermissionSet) hashValue() any {
	return map[string]any{"Fn::GetAtt": []any{p.Name, "PermissionSetArn"}}
}

// InlinePermissionSet is an AWS::SSO::PermissionSet declared inline in
// config. The declaration contributes one PermSet<name> template
// resource; the reference renders like any other template resource.
type InlinePermissionSet struct {
	ResourcePermissionSet
	Properties map[string]any
}

func newInlinePermissionSet(value map[string]any) (InlinePermissionSet, error) {
	props := value
	if _, typed := value["Type"]; typed {
		props, _ = value["Properties"].(map[string]any)
	}
	name, _ := props["Name"].(string)
	if name == "" {
		return InlinePermissionSet{}, fmt.Errorf("%w: inline permission set needs a Name", errUtils.ErrTemplateGeneration)
	}
	return InlinePermissionSet{
		ResourcePermissionSet: ResourcePermissionSet{Name: "PermSet" + name},
		Properties:            props,
	}, nil
}

// NewPermissionSet classifies a raw permission-set value from config:
// intrinsics pass through, property maps become inline template
// resources, ARNs and ps- ids become literal ARNs (instance-scoped
// when needed), anything else is treated as a template resource name.
func NewPermissionSet(value any, instanceArn any) (PermissionSet, error) {
	switch v := value.(type) {
	case map[string]any:
		if isIntrinsic(v) {
			return IntrinsicPermissionSet{Value: v}, nil
		}
		inline, err := newInlinePermissionSet(v)
		if err != nil {
			return nil, err
		}
		return inline, nil
	case string:
		switch {
		case strings.HasPrefix(v, "arn:"):
			return ArnPermissionSet{Value: v}, nil
		case strings.HasPrefix(v, "ssoins-") || strings.HasPrefix(v, "ins-"):
			return ArnPermissionSet{Value: permissionSetArnPrefix + v}, nil
		case strings.HasPrefix(v, "ps-"):
			instance, ok := instanceArn.(string)
			if !ok || instance == "" {
				return nil, fmt.Errorf("%w: permission set id %s needs a literal instance", errUtils.ErrTemplateGeneration, v)
			}
			instanceID := instance[strings.LastIndex(instance, "/")+1:]
			return ArnPermissionSet{Value: permissionSetArnPrefix + instanceID + "/" + v}, nil
		default:
			return ResourcePermissionSet{Name: v}, nil
		}
	default:
		return nil, fmt.Errorf("%w: invalid permission set value %v", errUtils.ErrTemplateGeneration, value)
	}
}

// Assignment is one principal/permission-set/target binding destined
// for an AWS::SSO::AccountAssignment resource.
type Assignment struct {
	InstanceArn         any
	Principal           Principal
	PermissionSet       PermissionSet
	Target              Target
	AssignmentGroupName string
}

func (a Assignment) digest() [md5.Size]byte {
	var b []byte
	b = append(b, hashKey(a.InstanceArn)...)
	b = append(b, []byte(a.Principal.Type+":")...)
	b = append(b, hashKey(a.Principal.ID)...)
	b = append(b, hashKey(a.PermissionSet.hashValue())...)
	b = append(b, []byte(a.Target.Type+":")...)
	b = append(b, hashKey(a.Target.ID)...)
	return md5.Sum(b)
}

// Fingerprint is the first 6 hex characters of the assignment's MD5,
// uppercased. It is a pure function of the four components, so
// duplicate assignments collapse to one resource.
func (a Assignment) Fingerprint() string {
	digest := a.digest()
	return strings.ToUpper(fmt.Sprintf("%x", digest)[:6])
}

// ResourceName returns <prefix>Assignment<FINGERPRINT>.
func (a Assignment) ResourceName(prefix string) string {
	return prefix + "Assignment" + a.Fingerprint()
}

// Shard deterministically allocates the assignment to one of n shards
// by interpreting the full digest as a big-endian integer mod n.
func (a Assignment) Shard(n int) int {
	digest := a.digest()
	value := new(big.Int).SetBytes(digest[:])
	return int(new(big.Int).Mod(value, big.NewInt(int64(n))).Int64())
}

// Resource renders the AWS::SSO::AccountAssignment resource body.
// dependsOn carries the sliding-window throttle edge when non-empty.
func (a Assignment) Resource(mode RefMode, dependsOn []string) map[string]any {
	resource := map[string]any{
		"Type": "AWS::SSO::AccountAssignment",
		"Properties": map[string]any{
			"InstanceArn":      a.InstanceArn,
			"PrincipalType":    a.Principal.Type,
			"PrincipalId":      a.Principal.ID,
			"PermissionSetArn": a.PermissionSet.Arn(mode),
			"TargetType":       a.Target.Type,
			"TargetId":         a.Target.ID,
		},
	}
	if a.AssignmentGroupName != "" {
		resource["Metadata"] = map[string]any{
			"SSO": map[string]any{"AssignmentGroupName": a.AssignmentGroupName},
		}
	}
	if len(dependsOn) > 0 {
		resource["DependsOn"] = dependsOn
	}
	return resource
}

// PermissionSetResource is an AWS::SSO::PermissionSet declared in the
// plan. It always stays in the parent template.
type PermissionSetResource struct {
	Name       string
	Properties map[string]any
}

// ResourceCollection is the planner input: the expanded assignments
// plus any declared permission-set resources.
type ResourceCollection struct {
	Assignments    []Assignment
	PermissionSets []PermissionSetResource
}

// NumResources counts everything the collection would add to a single
// template.
func (c *ResourceCollection) NumResources() int {
	return len(c.Assignments) + len(c.PermissionSets)
}

// AllocateAssignments splits the assignments into n stable shards.
func (c *ResourceCollection) AllocateAssignments(n int) [][]Assignment {
	shards := make([][]Assignment, n)
	for _, assignment := range c.Assignments {
		shard := assignment.Shard(n)
		shards[shard] = append(shards[shard], assignment)
	}
	return shards
}
