package cfn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	log "github.com/charmbracelet/log"
	yaml "github.com/goccy/go-yaml"

	"github.com/ssoutil/ssoutil/pkg/lookup"
)

// TransformName is the macro's registered transform name.
const TransformName = "AWS-SSO-Util-2020-11-08"

// Template resource types the macro rewrites.
const (
	TypePermissionSet   = "SSOUtil::SSO::PermissionSet"
	TypeAssignmentGroup = "SSOUtil::SSO::AssignmentGroup"
)

// Macro response statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// S3API is the upload subset the macro uses for child templates.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// MacroOptions configures the transform handler.
type MacroOptions struct {
	Bucket               string
	KeyPrefix            string
	ChildTemplatesInYAML bool
	LookupNames          bool
	Generation           GenerationConfig
}

// MacroOptionsFromEnv reads the handler configuration from the
// environment, the way the deployed macro is configured.
func MacroOptionsFromEnv() MacroOptions {
	opts := MacroOptions{
		Bucket:               os.Getenv("BUCKET_NAME"),
		KeyPrefix:            os.Getenv("KEY_PREFIX"),
		ChildTemplatesInYAML: envBool("CHILD_TEMPLATES_IN_YAML"),
		LookupNames:          envBool("LOOKUP_NAMES"),
	}
	readInt := func(dst **int, key string) {
		if value := os.Getenv(key); value != "" {
			if n, err := strconv.Atoi(value); err == nil {
				*dst = &n
			}
		}
	}
	readInt(&opts.Generation.MaxResourcesPerTemplate, "MAX_RESOURCES_PER_TEMPLATE")
	readInt(&opts.Generation.MaxConcurrentAssignments, "MAX_CONCURRENT_ASSIGNMENTS")
	readInt(&opts.Generation.MaxAssignmentsAllocation, "MAX_ASSIGNMENTS_ALLOCATION")
	readInt(&opts.Generation.NumChildStacks, "NUM_CHILD_STACKS")
	if duration := os.Getenv("DEFAULT_SESSION_DURATION"); duration != "" {
		opts.Generation.DefaultSessionDuration = duration
	}
	return opts
}

func envBool(key string) bool {
	value := strings.ToLower(os.Getenv(key))
	return value == "1" || value == "true"
}

// MacroRequest is the CloudFormation macro invocation payload.
type MacroRequest struct {
	RequestID string         `json:"requestId"`
	Fragment  map[string]any `json:"fragment"`
}

// MacroResponse is the macro's reply envelope.
type MacroResponse struct {
	RequestID    string         `json:"requestId"`
	Status       string         `json:"status"`
	Fragment     map[string]any `json:"fragment,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
}

// Macro is the transform handler.
type Macro struct {
	s3       S3API
	resolver *lookup.Resolver
	ids      *lookup.Ids
	opts     MacroOptions
	now      func() time.Time
}

// NewMacro creates a Macro.
func NewMacro(s3Client S3API, resolver *lookup.Resolver, ids *lookup.Ids, opts MacroOptions) *Macro {
	return &Macro{s3: s3Client, resolver: resolver, ids: ids, opts: opts, now: time.Now}
}

// Handle processes one macro invocation. Errors are reported in the
// response envelope rather than returned.
func (m *Macro) Handle(ctx context.Context, req MacroRequest) MacroResponse {
	fragment, err := m.processTemplate(ctx, req)
	if err != nil {
		log.Error("Macro processing failed", "requestId", req.RequestID, "error", err)
		return MacroResponse{RequestID: req.RequestID, Status: StatusFailure, ErrorMessage: err.Error()}
	}
	return MacroResponse{RequestID: req.RequestID, Status: StatusSuccess, Fragment: fragment}
}

func (m *Macro) processTemplate(ctx context.Context, req MacroRequest) (map[string]any, error) {
	fragment := map[string]any{}
	for key, value := range req.Fragment {
		fragment[key] = value
	}

	generation := m.opts.Generation.Copy()
	if metadata, ok := fragment["Metadata"].(map[string]any); ok {
		if ssoMetadata, ok := metadata["SSO"].(map[string]any); ok {
			// Template settings win over handler defaults.
			if err := generation.Load(ssoMetadata, true); err != nil {
				return nil, err
			}
		}
	}

	stripTransform(fragment)

	resources, _ := fragment["Resources"].(map[string]any)
	if resources == nil {
		return fragment, nil
	}

	var groupNames []string
	for name, raw := range resources {
		resource, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		switch resource["Type"] {
		case TypePermissionSet:
			resource["Type"] = "AWS::SSO::PermissionSet"
			if props, ok := resource["Properties"].(map[string]any); ok {
				resource["Properties"] = ProcessPermissionSetProperties(props, nil, generation.DefaultSessionDuration)
			}
		case TypeAssignmentGroup:
			groupNames = append(groupNames, name)
		}
	}

	for _, name := range groupNames {
		resource := resources[name].(map[string]any)
		delete(resources, name)
		props, _ := resource["Properties"].(map[string]any)
		if err := m.expandAssignmentGroup(ctx, req.RequestID, name, props, fragment, generation); err != nil {
			return nil, err
		}
	}
	return fragment, nil
}

// stripTransform removes the macro's marker from the Transform entry.
func stripTransform(fragment map[string]any) {
	switch transform := fragment["Transform"].(type) {
	case string:
		if transform == TransformName {
			delete(fragment, "Transform")
		}
	case []any:
		var kept []any
		for _, entry := range transform {
			if entry != TransformName {
				kept = append(kept, entry)
			}
		}
		if len(kept) == 0 {
			delete(fragment, "Transform")
		} else {
			fragment["Transform"] = kept
		}
	}
}

func (m *Macro) expandAssignmentGroup(ctx context.Context, requestID, name string, props map[string]any, fragment map[string]any, generation *GenerationConfig) error {
	config := &Config{}
	if err := config.LoadResourceProperties(props); err != nil {
		return err
	}
	if config.AssignmentGroupName == "" {
		config.AssignmentGroupName = name
	}
	if err := config.Validate(ctx, m.ids); err != nil {
		return err
	}

	collection, err := ResourcesFromConfig(ctx, config, m.resolver)
	if err != nil {
		return err
	}
	log.Info("Expanding assignment group",
		"name", config.AssignmentGroupName, "assignments", len(collection.Assignments))

	resources := fragment["Resources"].(map[string]any)
	plan, err := BuildPlan(PlanInput{
		Stem:               name,
		Resources:          collection,
		Config:             generation,
		InstanceArn:        config.InstanceArn,
		BaseTemplate:       fragment,
		NumParentResources: len(resources),
		TemplateURL:        func(childStem string) any { return m.childTemplateURL(requestID, childStem) },
	})
	if err != nil {
		return err
	}

	for _, child := range plan.Children {
		if err := m.uploadChildTemplate(ctx, requestID, child); err != nil {
			return err
		}
	}
	return nil
}

func (m *Macro) childKeyDir(requestID string) string {
	// UTC minute resolution keeps the path stable within a deploy.
	timestamp := m.now().UTC().Format("2006-01-02T15:04")
	parts := []string{"templates"}
	if m.opts.KeyPrefix != "" {
		parts = append(parts, m.opts.KeyPrefix)
	}
	parts = append(parts, fmt.Sprintf("%s_%s", timestamp, requestID))
	return strings.Join(parts, "/")
}

func (m *Macro) childKey(requestID, childStem string) string {
	extension := ".json"
	if m.opts.ChildTemplatesInYAML {
		extension = ".yaml"
	}
	return m.childKeyDir(requestID) + "/" + childStem + extension
}

func (m *Macro) childTemplateURL(requestID, childStem string) string {
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", m.opts.Bucket, m.childKey(requestID, childStem))
}

func (m *Macro) uploadChildTemplate(ctx context.Context, requestID string, child ChildTemplate) error {
	var body []byte
	var contentType string
	var err error
	if m.opts.ChildTemplatesInYAML {
		body, err = yaml.Marshal(child.Template)
		contentType = "text/plain"
	} else {
		body, err = json.MarshalIndent(child.Template, "", "  ")
		contentType = "application/json"
	}
	if err != nil {
		return fmt.Errorf("encoding child template %s: %w", child.Stem, err)
	}

	key := m.childKey(requestID, child.Stem)
	log.Debug("Uploading child template", "bucket", m.opts.Bucket, "key", key)
	_, err = m.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.opts.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("uploading child template %s: %w", child.Stem, err)
	}
	return nil
}
