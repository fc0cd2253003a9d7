package aws

import (
	"context"

	"github.com/catherinevee/compliancemgr/internal/cloud"
	"github.com/catherinevee/compliancemgr/internal/controls"
	apperrors "github.com/catherinevee/compliancemgr/internal/errors"
	"github.com/catherinevee/compliancemgr/internal/models"
)

func s3PublicAccessBlock() *controls.Control {
	return &controls.Control{
		Descriptor: controls.Descriptor{
			ControlID:   "AWS-S3-001",
			Title:       "S3 buckets block public access",
			Description: "Every bucket must have all four public access block settings enabled.",
			Severity:    models.SeverityCritical,
			Category:    "storage",
			Provider:    models.ProviderAWS,
			Frameworks: map[string][]string{
				"CIS-AWS": {"2.1.5"},
				"SOC2":    {"CC6.1"},
			},
			CanAutoRemediate: true,
			RemediationRisk:  models.RiskLow,
			ResourceKind:     cloud.KindS3Buckets,
		},
		Detect: detectEach(cloud.KindS3Buckets, "s3:bucket", func(r cloud.Resource) (bool, map[string]interface{}) {
			compliant := r.Bool("block_public_acls") && r.Bool("block_public_policy") &&
				r.Bool("ignore_public_acls") && r.Bool("restrict_public_buckets")
			if compliant {
				return true, nil
			}
			return false, detail(
				"block_public_acls", r.Bool("block_public_acls"),
				"block_public_policy", r.Bool("block_public_policy"),
				"ignore_public_acls", r.Bool("ignore_public_acls"),
				"restrict_public_buckets", r.Bool("restrict_public_buckets"),
			)
		}),
		Remediate: remediatePublicAccessBlock,
		Rollback:  rollbackPublicAccessBlock,
	}
}

func remediatePublicAccessBlock(ctx context.Context, adapter cloud.Adapter, finding *models.Finding, dryRun bool) (*controls.RemediationOutcome, error) {
	bucket, err := bucketName(finding)
	if err != nil {
		return nil, err
	}
	before, err := adapter.Describe(ctx, cloud.KindS3Buckets, finding.ResourceID)
	if err != nil {
		return nil, err
	}
	rollback := map[string]interface{}{
		"bucket":                         bucket,
		"public_access_block_configured": before.Bool("public_access_block_configured"),
		"block_public_acls":              before.Bool("block_public_acls"),
		"block_public_policy":            before.Bool("block_public_policy"),
		"ignore_public_acls":             before.Bool("ignore_public_acls"),
		"restrict_public_buckets":        before.Bool("restrict_public_buckets"),
	}

	if dryRun {
		after := snapshot(*before)
		after["public_access_block_configured"] = true
		after["block_public_acls"] = true
		after["block_public_policy"] = true
		after["ignore_public_acls"] = true
		after["restrict_public_buckets"] = true
		return &controls.RemediationOutcome{
			ResourceID:   finding.ResourceID,
			BeforeState:  snapshot(*before),
			AfterState:   after,
			RollbackData: rollback,
		}, nil
	}

	mutation := cloud.Mutation{
		Kind:       cloud.MutationS3PutPublicAccessBlock,
		ResourceID: finding.ResourceID,
		Parameters: map[string]interface{}{
			"bucket":                  bucket,
			"block_public_acls":       true,
			"block_public_policy":     true,
			"ignore_public_acls":      true,
			"restrict_public_buckets": true,
		},
	}
	if err := adapter.Apply(ctx, mutation); err != nil {
		return nil, err
	}

	after, err := adapter.Describe(ctx, cloud.KindS3Buckets, finding.ResourceID)
	if err != nil {
		return nil, err
	}
	return &controls.RemediationOutcome{
		ResourceID:   finding.ResourceID,
		BeforeState:  snapshot(*before),
		AfterState:   snapshot(*after),
		RollbackData: rollback,
	}, nil
}

// rollbackPublicAccessBlock restores the pre-remediation configuration. A
// bucket that had no configuration at all gets its block deleted rather than
// rewritten with all-false values.
func rollbackPublicAccessBlock(ctx context.Context, adapter cloud.Adapter, finding *models.Finding) error {
	data := finding.RollbackData
	bucket, _ := data["bucket"].(string)
	if bucket == "" {
		return apperrors.NewValidationError("rollback data is missing the bucket name").
			WithDetail("finding_id", finding.ID)
	}
	hadBlock, _ := data["public_access_block_configured"].(bool)
	if !hadBlock {
		return adapter.Apply(ctx, cloud.Mutation{
			Kind:       cloud.MutationS3DeletePublicAccessBlock,
			ResourceID: finding.ResourceID,
			Parameters: map[string]interface{}{"bucket": bucket},
		})
	}
	return adapter.Apply(ctx, cloud.Mutation{
		Kind:       cloud.MutationS3PutPublicAccessBlock,
		ResourceID: finding.ResourceID,
		Parameters: map[string]interface{}{
			"bucket":                  bucket,
			"block_public_acls":       boolFrom(data, "block_public_acls"),
			"block_public_policy":     boolFrom(data, "block_public_policy"),
			"ignore_public_acls":      boolFrom(data, "ignore_public_acls"),
			"restrict_public_buckets": boolFrom(data, "restrict_public_buckets"),
		},
	})
}

func s3DefaultEncryption() *controls.Control {
	return &controls.Control{
		Descriptor: controls.Descriptor{
			ControlID:   "AWS-S3-002",
			Title:       "S3 buckets encrypt objects at rest",
			Description: "Every bucket must have a default server-side encryption configuration.",
			Severity:    models.SeverityHigh,
			Category:    "storage",
			Provider:    models.ProviderAWS,
			Frameworks: map[string][]string{
				"CIS-AWS": {"2.1.1"},
				"SOC2":    {"CC6.7"},
			},
			CanAutoRemediate: true,
			RemediationRisk:  models.RiskLow,
			ResourceKind:     cloud.KindS3Buckets,
		},
		Detect: detectEach(cloud.KindS3Buckets, "s3:bucket", func(r cloud.Resource) (bool, map[string]interface{}) {
			if r.String("encryption_algorithm") != "" {
				return true, nil
			}
			return false, detail("encryption_algorithm", "")
		}),
		Remediate: remediateDefaultEncryption,
		Rollback:  rollbackDefaultEncryption,
	}
}

func remediateDefaultEncryption(ctx context.Context, adapter cloud.Adapter, finding *models.Finding, dryRun bool) (*controls.RemediationOutcome, error) {
	bucket, err := bucketName(finding)
	if err != nil {
		return nil, err
	}
	before, err := adapter.Describe(ctx, cloud.KindS3Buckets, finding.ResourceID)
	if err != nil {
		return nil, err
	}
	rollback := map[string]interface{}{
		"bucket":               bucket,
		"encryption_algorithm": before.String("encryption_algorithm"),
	}

	if dryRun {
		after := snapshot(*before)
		after["encryption_algorithm"] = "AES256"
		return &controls.RemediationOutcome{
			ResourceID:   finding.ResourceID,
			BeforeState:  snapshot(*before),
			AfterState:   after,
			RollbackData: rollback,
		}, nil
	}

	if err := adapter.Apply(ctx, cloud.Mutation{
		Kind:       cloud.MutationS3PutBucketEncryption,
		ResourceID: finding.ResourceID,
		Parameters: map[string]interface{}{
			"bucket":        bucket,
			"sse_algorithm": "AES256",
		},
	}); err != nil {
		return nil, err
	}

	after, err := adapter.Describe(ctx, cloud.KindS3Buckets, finding.ResourceID)
	if err != nil {
		return nil, err
	}
	return &controls.RemediationOutcome{
		ResourceID:   finding.ResourceID,
		BeforeState:  snapshot(*before),
		AfterState:   snapshot(*after),
		RollbackData: rollback,
	}, nil
}

func rollbackDefaultEncryption(ctx context.Context, adapter cloud.Adapter, finding *models.Finding) error {
	data := finding.RollbackData
	bucket, _ := data["bucket"].(string)
	if bucket == "" {
		return apperrors.NewValidationError("rollback data is missing the bucket name").
			WithDetail("finding_id", finding.ID)
	}
	previous, _ := data["encryption_algorithm"].(string)
	if previous == "" {
		return adapter.Apply(ctx, cloud.Mutation{
			Kind:       cloud.MutationS3DeleteBucketEncryption,
			ResourceID: finding.ResourceID,
			Parameters: map[string]interface{}{"bucket": bucket},
		})
	}
	return adapter.Apply(ctx, cloud.Mutation{
		Kind:       cloud.MutationS3PutBucketEncryption,
		ResourceID: finding.ResourceID,
		Parameters: map[string]interface{}{
			"bucket":        bucket,
			"sse_algorithm": previous,
		},
	})
}

func s3Versioning() *controls.Control {
	return &controls.Control{
		Descriptor: controls.Descriptor{
			ControlID:   "AWS-S3-003",
			Title:       "S3 buckets have versioning enabled",
			Description: "Versioning protects object history from overwrite and deletion.",
			Severity:    models.SeverityMedium,
			Category:    "storage",
			Provider:    models.ProviderAWS,
			Frameworks: map[string][]string{
				"CIS-AWS": {"2.1.3"},
			},
			ResourceKind: cloud.KindS3Buckets,
		},
		Detect: detectEach(cloud.KindS3Buckets, "s3:bucket", func(r cloud.Resource) (bool, map[string]interface{}) {
			status := r.String("versioning_status")
			if status == "Enabled" {
				return true, nil
			}
			return false, detail("versioning_status", status)
		}),
	}
}

func s3AccessLogging() *controls.Control {
	return &controls.Control{
		Descriptor: controls.Descriptor{
			ControlID:   "AWS-S3-004",
			Title:       "S3 buckets have access logging enabled",
			Description: "Server access logs support forensic review of bucket activity.",
			Severity:    models.SeverityLow,
			Category:    "storage",
			Provider:    models.ProviderAWS,
			Frameworks: map[string][]string{
				"SOC2": {"CC7.2"},
			},
			ResourceKind: cloud.KindS3Buckets,
		},
		Detect: detectEach(cloud.KindS3Buckets, "s3:bucket", func(r cloud.Resource) (bool, map[string]interface{}) {
			if r.Bool("logging_enabled") {
				return true, nil
			}
			return false, detail("logging_enabled", false)
		}),
	}
}

func bucketName(finding *models.Finding) (string, error) {
	if name, ok := finding.EvidenceBefore["resource_name"].(string); ok && name != "" {
		return name, nil
	}
	return "", apperrors.NewValidationError("finding evidence is missing the bucket name").
		WithDetail("finding_id", finding.ID)
}

func boolFrom(m map[string]interface{}, key string) bool {
	v, _ := m[key].(bool)
	return v
}
