package cfn

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	log "github.com/charmbracelet/log"
	"github.com/santhosh-tekuri/jsonschema/v5"

	errUtils "github.com/ssoutil/ssoutil/errors"
	"github.com/ssoutil/ssoutil/pkg/format"
	"github.com/ssoutil/ssoutil/pkg/lookup"
)

// Generation defaults.
const (
	DefaultMaxResourcesPerTemplate  = 500
	DefaultMaxConcurrentAssignments = 20
)

// GenerationConfig controls sharding and throttling. Nil fields mean
// "not set" so merges can distinguish defaults from explicit values.
type GenerationConfig struct {
	MaxResourcesPerTemplate  *int
	MaxConcurrentAssignments *int
	MaxAssignmentsAllocation *int
	NumChildStacks           *int
	DefaultSessionDuration   string
}

// MaxResources returns the per-template cap, defaulted.
func (g *GenerationConfig) MaxResources() int {
	if g.MaxResourcesPerTemplate != nil {
		return *g.MaxResourcesPerTemplate
	}
	return DefaultMaxResourcesPerTemplate
}

// MaxConcurrent returns the DependsOn window size, defaulted.
func (g *GenerationConfig) MaxConcurrent() int {
	if g.MaxConcurrentAssignments != nil {
		return *g.MaxConcurrentAssignments
	}
	return DefaultMaxConcurrentAssignments
}

// ChildStackCount returns the configured child-stack count, combining
// the explicit count with the allocation-derived lower bound. Nil
// means neither was configured.
func (g *GenerationConfig) ChildStackCount() *int {
	if g.MaxAssignmentsAllocation == nil && g.NumChildStacks == nil {
		return nil
	}
	count := 0
	if g.NumChildStacks != nil {
		count = *g.NumChildStacks
	}
	if g.MaxAssignmentsAllocation != nil {
		fromAllocation := int(math.Ceil(float64(*g.MaxAssignmentsAllocation) / float64(g.MaxResources())))
		if fromAllocation > count {
			count = fromAllocation
		}
	}
	return &count
}

// Set merges other into g. A field is written only when it is unset in
// g, or when other has it set and overwrite is true.
func (g *GenerationConfig) Set(other *GenerationConfig, overwrite bool) {
	setInt := func(dst **int, src *int) {
		if src != nil && (*dst == nil || overwrite) {
			v := *src
			*dst = &v
		}
	}
	setInt(&g.MaxResourcesPerTemplate, other.MaxResourcesPerTemplate)
	setInt(&g.MaxConcurrentAssignments, other.MaxConcurrentAssignments)
	setInt(&g.MaxAssignmentsAllocation, other.MaxAssignmentsAllocation)
	setInt(&g.NumChildStacks, other.NumChildStacks)
	if other.DefaultSessionDuration != "" && (g.DefaultSessionDuration == "" || overwrite) {
		g.DefaultSessionDuration = other.DefaultSessionDuration
	}
}

// Copy returns an independent copy.
func (g *GenerationConfig) Copy() *GenerationConfig {
	copied := &GenerationConfig{DefaultSessionDuration: g.DefaultSessionDuration}
	copied.Set(g, true)
	return copied
}

// Load reads generation settings from a Metadata.SSO-style map.
func (g *GenerationConfig) Load(data map[string]any, overwrite bool) error {
	loaded := &GenerationConfig{}
	readInt := func(dst **int, keys ...string) error {
		value, _, err := getValue(data, keys...)
		if err != nil || value == nil {
			return err
		}
		n, err := toInt(value)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", errUtils.ErrInvalidSSOConfig, keys[0], err)
		}
		*dst = &n
		return nil
	}
	if err := readInt(&loaded.MaxResourcesPerTemplate, "MaxResourcesPerTemplate"); err != nil {
		return err
	}
	if err := readInt(&loaded.MaxConcurrentAssignments, "MaxConcurrentAssignments"); err != nil {
		return err
	}
	if err := readInt(&loaded.MaxAssignmentsAllocation, "MaxAssignmentsAllocation"); err != nil {
		return err
	}
	if err := readInt(&loaded.NumChildStacks, "NumChildStacks", "NumChildTemplates"); err != nil {
		return err
	}
	if value, _, err := getValue(data, "DefaultSessionDuration"); err != nil {
		return err
	} else if s, ok := value.(string); ok {
		loaded.DefaultSessionDuration = s
	}
	g.Set(loaded, overwrite)
	return nil
}

func toInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		return strconv.Atoi(v)
	default:
		return 0, fmt.Errorf("not an integer: %v", value)
	}
}

// getValue reads one logical key accepting several aliases, erroring
// when more than one alias is present.
func getValue(data map[string]any, aliases ...string) (any, string, error) {
	var value any
	var foundKey string
	for _, key := range aliases {
		v, ok := data[key]
		if !ok {
			continue
		}
		if foundKey != "" {
			return nil, "", fmt.Errorf("%w: only one of %s may be set, got %s and %s",
				errUtils.ErrInvalidSSOConfig, strings.Join(aliases, "/"), foundKey, key)
		}
		value = v
		foundKey = key
	}
	return value, foundKey, nil
}

func toStringSlice(value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case int:
		return []string{strconv.Itoa(v)}, nil
	case int64:
		return []string{strconv.FormatInt(v, 10)}, nil
	case uint64:
		return []string{strconv.FormatUint(v, 10)}, nil
	case float64:
		return []string{strconv.FormatInt(int64(v), 10)}, nil
	case []any:
		var out []string
		for _, item := range v {
			items, err := toStringSlice(item)
			if err != nil {
				return nil, err
			}
			out = append(out, items...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string or list, got %T", value)
	}
}

func toAnySlice(value any) []any {
	switch v := value.(type) {
	case nil:
		return nil
	case []any:
		return v
	default:
		return []any{v}
	}
}

// Config is the planner input: who gets what where. Both the policy
// document form and the macro resource-properties form load into it.
type Config struct {
	InstanceArn         any
	Groups              []string
	Users               []string
	PermissionSets      []any
	OUs                 []string
	RecursiveOUs        []string
	Accounts            []string
	AssignmentGroupName string
}

// Load reads the policy document form.
func (c *Config) Load(data map[string]any) error {
	instance, _, err := getValue(data, "Instance", "InstanceArn", "InstanceARN")
	if err != nil {
		return err
	}
	if instance != nil {
		c.InstanceArn = instance
	}

	if c.Groups, err = loadStrings(data, "Groups", "Group"); err != nil {
		return err
	}
	if c.Users, err = loadStrings(data, "Users", "User"); err != nil {
		return err
	}
	psValue, _, err := getValue(data, "PermissionSets", "PermissionSet", "PermissionSetArns", "PermissionSetArn")
	if err != nil {
		return err
	}
	c.PermissionSets = toAnySlice(psValue)
	if c.OUs, err = loadStrings(data, "OUs", "Ous", "OU", "Ou"); err != nil {
		return err
	}
	if c.RecursiveOUs, err = loadStrings(data, "RecursiveOUs", "RecursiveOus", "RecursiveOU", "RecursiveOu"); err != nil {
		return err
	}
	if c.Accounts, err = loadStrings(data, "Accounts", "Account"); err != nil {
		return err
	}
	if name, ok := data["Name"].(string); ok {
		c.AssignmentGroupName = name
	}
	return nil
}

func loadStrings(data map[string]any, aliases ...string) ([]string, error) {
	value, _, err := getValue(data, aliases...)
	if err != nil {
		return nil, err
	}
	out, err := toStringSlice(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errUtils.ErrInvalidSSOConfig, aliases[0], err)
	}
	return out, nil
}

// resourcePropertySchema validates the macro resource-properties form
// before loading.
const resourcePropertySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "Name": {"type": "string"},
    "Instance": {"type": ["string", "object"]},
    "InstanceArn": {"type": ["string", "object"]},
    "InstanceARN": {"type": ["string", "object"]},
    "Principal": {
      "type": ["array", "object"],
      "items": {
        "type": "object",
        "properties": {
          "Type": {"type": "string", "enum": ["GROUP", "USER"]},
          "Id": {"type": ["string", "object"]},
          "Ids": {"type": "array"}
        },
        "required": ["Type"]
      }
    },
    "PermissionSet": {},
    "PermissionSets": {},
    "Target": {
      "type": ["array", "object"],
      "items": {
        "type": "object",
        "properties": {
          "Type": {"type": "string", "enum": ["AWS_ACCOUNT", "AWS_OU"]},
          "Id": {"type": ["string", "integer", "object"]},
          "Ids": {"type": "array"},
          "Recursive": {"type": "boolean"}
        },
        "required": ["Type"]
      }
    }
  },
  "required": ["Principal", "Target"]
}`

var compiledResourceSchema = jsonschema.MustCompileString("resource-properties.json", resourcePropertySchema)

// LoadResourceProperties reads the macro resource-properties form,
// validating against the schema first.
func (c *Config) LoadResourceProperties(props map[string]any) error {
	if err := compiledResourceSchema.Validate(props); err != nil {
		return fmt.Errorf("%w: %v", errUtils.ErrInvalidSSOConfig, err)
	}

	if name, ok := props["Name"].(string); ok {
		c.AssignmentGroupName = name
	}
	instance, _, err := getValue(props, "Instance", "InstanceArn", "InstanceARN")
	if err != nil {
		return err
	}
	if instance != nil {
		c.InstanceArn = instance
	}

	for _, entry := range toAnySlice(props["Principal"]) {
		principal, ok := entry.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: invalid principal entry %v", errUtils.ErrInvalidSSOConfig, entry)
		}
		principalType, _ := principal["Type"].(string)
		ids, err := principalIDs(principal)
		if err != nil {
			return err
		}
		switch principalType {
		case PrincipalTypeGroup:
			c.Groups = append(c.Groups, ids...)
		case PrincipalTypeUser:
			c.Users = append(c.Users, ids...)
		default:
			return fmt.Errorf("%w: invalid principal type %q", errUtils.ErrInvalidSSOConfig, principalType)
		}
	}

	psValue, _, err := getValue(props, "PermissionSets", "PermissionSet")
	if err != nil {
		return err
	}
	c.PermissionSets = toAnySlice(psValue)

	for _, entry := range toAnySlice(props["Target"]) {
		target, ok := entry.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: invalid target entry %v", errUtils.ErrInvalidSSOConfig, entry)
		}
		targetType, _ := target["Type"].(string)
		ids, err := principalIDs(target)
		if err != nil {
			return err
		}
		recursive, _ := target["Recursive"].(bool)
		switch targetType {
		case TargetTypeAccount:
			for _, id := range ids {
				accountID, err := format.AccountID(id)
				if err != nil {
					return err
				}
				c.Accounts = append(c.Accounts, accountID)
			}
		case "AWS_OU":
			if recursive {
				c.RecursiveOUs = append(c.RecursiveOUs, ids...)
			} else {
				c.OUs = append(c.OUs, ids...)
			}
		default:
			return fmt.Errorf("%w: invalid target type %q", errUtils.ErrInvalidSSOConfig, targetType)
		}
	}
	return nil
}

func principalIDs(entry map[string]any) ([]string, error) {
	value, key, err := getValue(entry, "Id", "Ids")
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, fmt.Errorf("%w: entry missing Id or Ids", errUtils.ErrInvalidSSOConfig)
	}
	ids, err := toStringSlice(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errUtils.ErrInvalidSSOConfig, key, err)
	}
	return ids, nil
}

// Validate checks the config is complete, defaulting the instance from
// the discovered one.
func (c *Config) Validate(ctx context.Context, ids *lookup.Ids) error {
	if c.InstanceArn == nil || c.InstanceArn == "" {
		if ids == nil {
			return fmt.Errorf("%w: no instance set", errUtils.ErrInvalidSSOConfig)
		}
		arn, err := ids.InstanceArn(ctx)
		if err != nil {
			return err
		}
		c.InstanceArn = arn
	} else if instance, ok := c.InstanceArn.(string); ok && ids != nil && !ids.InstanceArnMatches(instance) {
		log.Warn("Config instance does not match the discovered instance", "instance", instance)
	}
	if len(c.Groups)+len(c.Users) == 0 {
		return fmt.Errorf("%w: no principals set", errUtils.ErrInvalidSSOConfig)
	}
	if len(c.PermissionSets) == 0 {
		return fmt.Errorf("%w: no permission sets set", errUtils.ErrInvalidSSOConfig)
	}
	if len(c.OUs)+len(c.RecursiveOUs)+len(c.Accounts) == 0 {
		return fmt.Errorf("%w: no targets set", errUtils.ErrInvalidSSOConfig)
	}
	return nil
}

// ResourcesFromConfig expands the config into the planner's resource
// collection: principals outer, permission sets middle, targets inner,
// with OU targets fanned out through the lookup resolver first.
func ResourcesFromConfig(ctx context.Context, config *Config, resolver *lookup.Resolver) (*ResourceCollection, error) {
	var targets []Target
	appendOU := func(ouID string, recursive bool) error {
		for account, err := range resolver.AccountsForOU(ctx, ouID, lookup.OUOptions{Recursive: recursive}) {
			if err != nil {
				return err
			}
			targets = append(targets, Target{Type: TargetTypeAccount, ID: account.ID})
		}
		return nil
	}
	for _, ou := range config.OUs {
		if err := appendOU(ou, false); err != nil {
			return nil, err
		}
	}
	for _, ou := range config.RecursiveOUs {
		if err := appendOU(ou, true); err != nil {
			return nil, err
		}
	}
	for _, account := range config.Accounts {
		accountID, err := format.AccountID(account)
		if err != nil {
			return nil, err
		}
		targets = append(targets, Target{Type: TargetTypeAccount, ID: accountID})
	}

	var principals []Principal
	for _, group := range config.Groups {
		principals = append(principals, Principal{Type: PrincipalTypeGroup, ID: group})
	}
	for _, user := range config.Users {
		principals = append(principals, Principal{Type: PrincipalTypeUser, ID: user})
	}

	permissionSets := make([]PermissionSet, 0, len(config.PermissionSets))
	for _, value := range config.PermissionSets {
		ps, err := NewPermissionSet(value, config.InstanceArn)
		if err != nil {
			return nil, err
		}
		permissionSets = append(permissionSets, ps)
	}

	collection := &ResourceCollection{}
	for _, ps := range permissionSets {
		if inline, ok := ps.(InlinePermissionSet); ok {
			collection.PermissionSets = append(collection.PermissionSets, PermissionSetResource{
				Name:       inline.ResourceName(),
				Properties: inline.Properties,
			})
		}
	}
	for _, principal := range principals {
		for _, ps := range permissionSets {
			for _, target := range targets {
				collection.Assignments = append(collection.Assignments, Assignment{
					InstanceArn:         config.InstanceArn,
					Principal:           principal,
					PermissionSet:       ps,
					Target:              target,
					AssignmentGroupName: config.AssignmentGroupName,
				})
			}
		}
	}
	return collection, nil
}
