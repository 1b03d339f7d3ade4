// Package lookup resolves SSO identifiers: the instance/identity-store
// pair, groups, users, permission sets, accounts, and OU-to-account
// expansion, all with per-process caching.
package lookup

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssoadmin"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	log "github.com/charmbracelet/log"

	errUtils "github.com/ssoutil/ssoutil/errors"
	"github.com/ssoutil/ssoutil/pkg/filecache"
)

// ListInstancesAPI is the SSO admin subset used for instance discovery.
type ListInstancesAPI interface {
	ListInstances(ctx context.Context, params *ssoadmin.ListInstancesInput, optFns ...func(*ssoadmin.Options)) (*ssoadmin.ListInstancesOutput, error)
}

// STSAPI is used to key the optional instance disk cache by caller
// account when no profile name is available.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

const idsCacheKeyPrefix = "aws-sso-util-ids-"

type idsCacheRecord struct {
	InstanceArn     string `json:"InstanceArn"`
	IdentityStoreID string `json:"IdentityStoreId"`
}

// Ids lazily discovers the SSO instance ARN and identity store id. A
// shared Ids memoizes its answer, so callers sharing one see identical
// results.
type Ids struct {
	client ListInstancesAPI

	specifiedInstanceArn     string
	specifiedIdentityStoreID string

	instanceArn     string
	identityStoreID string
	resolved        bool

	diskCache *filecache.Store
	stsClient STSAPI
	profile   string
	region    string
}

// IdsOption configures an Ids.
type IdsOption func(*Ids)

// WithInstanceArn pins the instance. A bare ssoins- id is normalized to
// a full ARN.
func WithInstanceArn(instanceArn string) IdsOption {
	return func(i *Ids) {
		if instanceArn != "" && !strings.HasPrefix(instanceArn, "arn:") {
			instanceArn = "arn:aws:sso:::instance/" + instanceArn
		}
		i.specifiedInstanceArn = instanceArn
	}
}

// WithIdentityStoreID pins the identity store.
func WithIdentityStoreID(id string) IdsOption {
	return func(i *Ids) { i.specifiedIdentityStoreID = id }
}

// WithDiskCache caches the discovered instance on disk, keyed by the
// profile name when set, otherwise by the caller account and region.
func WithDiskCache(store *filecache.Store, stsClient STSAPI, profile, region string) IdsOption {
	return func(i *Ids) {
		i.diskCache = store
		i.stsClient = stsClient
		i.profile = profile
		i.region = region
	}
}

// NewIds creates an Ids backed by the SSO admin client.
func NewIds(client ListInstancesAPI, opts ...IdsOption) *Ids {
	ids := &Ids{client: client}
	for _, opt := range opts {
		opt(ids)
	}
	// The disk cache only applies when discovering everything.
	if ids.specifiedInstanceArn != "" || ids.specifiedIdentityStoreID != "" {
		ids.diskCache = nil
	}
	return ids
}

// InstanceArnMatches reports whether an instance value refers to the
// pinned instance. An unpinned Ids matches everything.
func (i *Ids) InstanceArnMatches(instance string) bool {
	if i.specifiedInstanceArn == "" {
		return true
	}
	if instance != "" && !strings.HasPrefix(instance, "arn:") {
		instance = "arn:aws:sso:::instance/" + instance
	}
	return instance == i.specifiedInstanceArn
}

// InstanceArn returns the instance ARN, discovering it on first use.
func (i *Ids) InstanceArn(ctx context.Context) (string, error) {
	if err := i.resolve(ctx); err != nil {
		return "", err
	}
	return i.instanceArn, nil
}

// InstanceID returns the bare instance id.
func (i *Ids) InstanceID(ctx context.Context) (string, error) {
	arn, err := i.InstanceArn(ctx)
	if err != nil {
		return "", err
	}
	_, id, _ := strings.Cut(arn, "/")
	return id, nil
}

// IdentityStoreID returns the identity store id, discovering it on
// first use.
func (i *Ids) IdentityStoreID(ctx context.Context) (string, error) {
	if err := i.resolve(ctx); err != nil {
		return "", err
	}
	return i.identityStoreID, nil
}

func (i *Ids) resolve(ctx context.Context) error {
	if i.resolved {
		return nil
	}
	if i.specifiedInstanceArn != "" && i.specifiedIdentityStoreID != "" {
		i.instanceArn = i.specifiedInstanceArn
		i.identityStoreID = i.specifiedIdentityStoreID
		i.resolved = true
		return nil
	}

	if i.loadFromDiskCache(ctx) {
		i.resolved = true
		return nil
	}

	out, err := i.client.ListInstances(ctx, &ssoadmin.ListInstancesInput{})
	if err != nil {
		return fmt.Errorf("listing SSO instances: %w", err)
	}
	instances := out.Instances

	if len(instances) == 0 {
		return fmt.Errorf("%w: please specify an SSO instance ARN", errUtils.ErrNoInstanceFound)
	}

	switch {
	case i.specifiedInstanceArn != "":
		found := false
		for _, instance := range instances {
			if aws.ToString(instance.InstanceArn) == i.specifiedInstanceArn {
				i.instanceArn = i.specifiedInstanceArn
				i.identityStoreID = aws.ToString(instance.IdentityStoreId)
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: no instance matching %s", errUtils.ErrNoInstanceFound, i.specifiedInstanceArn)
		}
	case i.specifiedIdentityStoreID != "":
		var arns []string
		for _, instance := range instances {
			if aws.ToString(instance.IdentityStoreId) == i.specifiedIdentityStoreID {
				arns = append(arns, aws.ToString(instance.InstanceArn))
			}
		}
		if len(arns) == 0 {
			return fmt.Errorf("%w: no instance matching identity store id %s", errUtils.ErrNoInstanceFound, i.specifiedIdentityStoreID)
		}
		if len(arns) > 1 {
			return fmt.Errorf("%w: %d instances match identity store id %s, please specify an instance ARN: %s",
				errUtils.ErrMultipleInstances, len(arns), i.specifiedIdentityStoreID, strings.Join(arns, ", "))
		}
		i.instanceArn = arns[0]
		i.identityStoreID = i.specifiedIdentityStoreID
	case len(instances) > 1:
		var arns []string
		for _, instance := range instances {
			arns = append(arns, aws.ToString(instance.InstanceArn))
		}
		return fmt.Errorf("%w: %d instances found, please specify an instance ARN: %s",
			errUtils.ErrMultipleInstances, len(instances), strings.Join(arns, ", "))
	default:
		i.instanceArn = aws.ToString(instances[0].InstanceArn)
		i.identityStoreID = aws.ToString(instances[0].IdentityStoreId)
	}

	i.resolved = true
	log.Debug("Discovered SSO instance", "instanceArn", i.instanceArn, "identityStoreId", i.identityStoreID)
	i.storeToDiskCache(ctx)
	return nil
}

func (i *Ids) diskCacheKey(ctx context.Context) (string, bool) {
	if i.profile != "" {
		return idsCacheKeyPrefix + i.profile, true
	}
	if i.stsClient == nil {
		return "", false
	}
	identity, err := i.stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		log.Debug("GetCallerIdentity failed, skipping instance disk cache", "error", err)
		return "", false
	}
	return fmt.Sprintf("%s%s-%s", idsCacheKeyPrefix, aws.ToString(identity.Account), i.region), true
}

func (i *Ids) loadFromDiskCache(ctx context.Context) bool {
	if i.diskCache == nil {
		return false
	}
	key, ok := i.diskCacheKey(ctx)
	if !ok {
		return false
	}
	var record idsCacheRecord
	found, err := i.diskCache.Get(key, &record)
	if err != nil || !found || record.InstanceArn == "" || record.IdentityStoreID == "" {
		return false
	}
	i.instanceArn = record.InstanceArn
	i.identityStoreID = record.IdentityStoreID
	log.Debug("Using cached SSO instance", "instanceArn", i.instanceArn)
	return true
}

func (i *Ids) storeToDiskCache(ctx context.Context) {
	if i.diskCache == nil {
		return
	}
	key, ok := i.diskCacheKey(ctx)
	if !ok {
		return
	}
	record := idsCacheRecord{InstanceArn: i.instanceArn, IdentityStoreID: i.identityStoreID}
	if err := i.diskCache.Put(key, &record); err != nil {
		log.Debug("Failed to cache SSO instance", "error", err)
	}
}
