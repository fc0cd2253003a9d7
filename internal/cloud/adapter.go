package cloud

import (
	"context"

	"github.com/catherinevee/compliancemgr/internal/models"
)

// ResourceKind names one provider-specific collection the adapter can list.
type ResourceKind string

const (
	KindIAMUsers          ResourceKind = "iam:users"
	KindIAMPasswordPolicy ResourceKind = "iam:password-policy"
	KindS3Buckets         ResourceKind = "s3:buckets"
	KindCloudTrails       ResourceKind = "cloudtrail:trails"
	KindEC2Instances      ResourceKind = "ec2:instances"
	KindEBSVolumes        ResourceKind = "ec2:volumes"
	KindSecurityGroups    ResourceKind = "ec2:security-groups"
	KindKMSKeys           ResourceKind = "kms:keys"
	KindRDSInstances      ResourceKind = "rds:instances"
	KindSNSTopics         ResourceKind = "sns:topics"
	KindLambdaFunctions   ResourceKind = "lambda:functions"
	KindLoadBalancers     ResourceKind = "elbv2:load-balancers"
)

// MutationKind names one provider-specific change the adapter can apply.
type MutationKind string

const (
	MutationS3PutPublicAccessBlock    MutationKind = "s3:put-public-access-block"
	MutationS3DeletePublicAccessBlock MutationKind = "s3:delete-public-access-block"
	MutationS3PutBucketEncryption     MutationKind = "s3:put-bucket-encryption"
	MutationS3DeleteBucketEncryption  MutationKind = "s3:delete-bucket-encryption"
	MutationS3PutBucketVersioning     MutationKind = "s3:put-bucket-versioning"
	MutationKMSSetKeyRotation         MutationKind = "kms:set-key-rotation"
)

// Resource is one provider resource with the attributes controls evaluate.
type Resource struct {
	ID         string                 `json:"id"`
	Kind       ResourceKind           `json:"kind"`
	Name       string                 `json:"name"`
	Region     string                 `json:"region,omitempty"`
	Attributes map[string]interface{} `json:"attributes"`
}

// Mutation describes one change to apply to a provider resource.
type Mutation struct {
	Kind       MutationKind           `json:"kind"`
	ResourceID string                 `json:"resource_id"`
	Parameters map[string]interface{} `json:"parameters"`
}

// Adapter is the opaque read/mutate capability surface over one provider
// account. Implementations auto-paginate, classify errors, retry throttled
// and transient failures, and never log credentials. An adapter is owned by
// exactly one scan or remediation and is not shared across scans.
type Adapter interface {
	Provider() models.Provider

	// ListResources returns the complete collection for a kind.
	ListResources(ctx context.Context, kind ResourceKind) ([]Resource, error)

	// Describe returns one resource by ID.
	Describe(ctx context.Context, kind ResourceKind, id string) (*Resource, error)

	// Apply performs a mutation. Read-only callers must never invoke it.
	Apply(ctx context.Context, mutation Mutation) error
}

// Bool reads a boolean attribute, defaulting to false
func (r Resource) Bool(key string) bool {
	v, _ := r.Attributes[key].(bool)
	return v
}

// String reads a string attribute, defaulting to ""
func (r Resource) String(key string) string {
	v, _ := r.Attributes[key].(string)
	return v
}

// Int reads an integer attribute, defaulting to 0
func (r Resource) Int(key string) int {
	switch v := r.Attributes[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
