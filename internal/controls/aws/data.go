package aws

import (
	"context"

	"github.com/catherinevee/compliancemgr/internal/cloud"
	"github.com/catherinevee/compliancemgr/internal/controls"
	apperrors "github.com/catherinevee/compliancemgr/internal/errors"
	"github.com/catherinevee/compliancemgr/internal/models"
)

func cloudTrailEnabled() *controls.Control {
	return &controls.Control{
		Descriptor: controls.Descriptor{
			ControlID:   "AWS-CT-001",
			Title:       "CloudTrail is enabled and logging",
			Description: "At least one trail must exist and be actively delivering events.",
			Severity:    models.SeverityCritical,
			Category:    "logging",
			Provider:    models.ProviderAWS,
			Frameworks: map[string][]string{
				"CIS-AWS": {"3.1"},
				"SOC2":    {"CC7.2"},
			},
			ResourceKind: cloud.KindCloudTrails,
		},
		Detect: func(ctx context.Context, adapter cloud.Adapter) ([]controls.Evaluation, error) {
			trails, err := adapter.ListResources(ctx, cloud.KindCloudTrails)
			if err != nil {
				return nil, err
			}
			// An account with no trails at all is a single failure, not an
			// empty result that would synthesize a PASS.
			if len(trails) == 0 {
				return []controls.Evaluation{{
					Status:       models.StatusFail,
					ResourceID:   "cloudtrail:none",
					ResourceType: "cloudtrail:trail",
					Details:      detail("trail_count", 0),
					Evidence:     map[string]interface{}{"trail_count": 0},
				}}, nil
			}
			var evaluations []controls.Evaluation
			for _, r := range trails {
				if r.Bool("is_logging") {
					continue
				}
				evaluations = append(evaluations, controls.Evaluation{
					Status:       models.StatusFail,
					ResourceID:   r.ID,
					ResourceType: "cloudtrail:trail",
					Details:      detail("is_logging", false, "trail", r.String("trail")),
					Evidence:     snapshot(r),
				})
			}
			return evaluations, nil
		},
	}
}

func kmsKeyRotation() *controls.Control {
	return &controls.Control{
		Descriptor: controls.Descriptor{
			ControlID:   "AWS-KMS-001",
			Title:       "Customer-managed KMS keys rotate annually",
			Description: "Automatic key rotation must be enabled for every customer-managed key.",
			Severity:    models.SeverityHigh,
			Category:    "encryption",
			Provider:    models.ProviderAWS,
			Frameworks: map[string][]string{
				"CIS-AWS": {"3.8"},
				"SOC2":    {"CC6.7"},
			},
			CanAutoRemediate: true,
			RemediationRisk:  models.RiskLow,
			ResourceKind:     cloud.KindKMSKeys,
		},
		Detect: detectEach(cloud.KindKMSKeys, "kms:key", func(r cloud.Resource) (bool, map[string]interface{}) {
			// AWS-managed keys rotate on Amazon's schedule and are out of scope.
			if r.String("key_manager") != "CUSTOMER" {
				return true, nil
			}
			if r.Bool("rotation_enabled") {
				return true, nil
			}
			return false, detail("rotation_enabled", false, "key", r.String("key"))
		}),
		Remediate: remediateKeyRotation,
		Rollback:  rollbackKeyRotation,
	}
}

func remediateKeyRotation(ctx context.Context, adapter cloud.Adapter, finding *models.Finding, dryRun bool) (*controls.RemediationOutcome, error) {
	key, ok := finding.EvidenceBefore["key"].(string)
	if !ok || key == "" {
		return nil, apperrors.NewValidationError("finding evidence is missing the key id").
			WithDetail("finding_id", finding.ID)
	}
	before, err := adapter.Describe(ctx, cloud.KindKMSKeys, finding.ResourceID)
	if err != nil {
		return nil, err
	}
	rollback := map[string]interface{}{
		"key":              key,
		"rotation_enabled": before.Bool("rotation_enabled"),
	}

	if dryRun {
		after := snapshot(*before)
		after["rotation_enabled"] = true
		return &controls.RemediationOutcome{
			ResourceID:   finding.ResourceID,
			BeforeState:  snapshot(*before),
			AfterState:   after,
			RollbackData: rollback,
		}, nil
	}

	if err := adapter.Apply(ctx, cloud.Mutation{
		Kind:       cloud.MutationKMSSetKeyRotation,
		ResourceID: finding.ResourceID,
		Parameters: map[string]interface{}{"key": key, "enabled": true},
	}); err != nil {
		return nil, err
	}

	after, err := adapter.Describe(ctx, cloud.KindKMSKeys, finding.ResourceID)
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

func rollbackKeyRotation(ctx context.Context, adapter cloud.Adapter, finding *models.Finding) error {
	key, _ := finding.RollbackData["key"].(string)
	if key == "" {
		return apperrors.NewValidationError("rollback data is missing the key id").
			WithDetail("finding_id", finding.ID)
	}
	return adapter.Apply(ctx, cloud.Mutation{
		Kind:       cloud.MutationKMSSetKeyRotation,
		ResourceID: finding.ResourceID,
		Parameters: map[string]interface{}{
			"key":     key,
			"enabled": boolFrom(finding.RollbackData, "rotation_enabled"),
		},
	})
}

func rdsStorageEncryption() *controls.Control {
	return &controls.Control{
		Descriptor: controls.Descriptor{
			ControlID:   "AWS-RDS-001",
			Title:       "RDS instances encrypt storage",
			Description: "Every database instance must have storage encryption enabled.",
			Severity:    models.SeverityHigh,
			Category:    "database",
			Provider:    models.ProviderAWS,
			Frameworks: map[string][]string{
				"CIS-AWS": {"2.3.1"},
				"SOC2":    {"CC6.7"},
			},
			ResourceKind: cloud.KindRDSInstances,
		},
		Detect: detectEach(cloud.KindRDSInstances, "rds:instance", func(r cloud.Resource) (bool, map[string]interface{}) {
			if r.Bool("storage_encrypted") {
				return true, nil
			}
			return false, detail("storage_encrypted", false, "db", r.String("db"))
		}),
	}
}

func rdsPublicAccess() *controls.Control {
	return &controls.Control{
		Descriptor: controls.Descriptor{
			ControlID:   "AWS-RDS-002",
			Title:       "RDS instances are not publicly accessible",
			Description: "Database instances must not be reachable from outside the VPC.",
			Severity:    models.SeverityCritical,
			Category:    "database",
			Provider:    models.ProviderAWS,
			Frameworks: map[string][]string{
				"CIS-AWS": {"2.3.3"},
			},
			ResourceKind: cloud.KindRDSInstances,
		},
		Detect: detectEach(cloud.KindRDSInstances, "rds:instance", func(r cloud.Resource) (bool, map[string]interface{}) {
			if !r.Bool("publicly_accessible") {
				return true, nil
			}
			return false, detail("publicly_accessible", true, "db", r.String("db"))
		}),
	}
}

func snsTopicEncryption() *controls.Control {
	return &controls.Control{
		Descriptor: controls.Descriptor{
			ControlID:   "AWS-SNS-001",
			Title:       "SNS topics encrypt messages at rest",
			Description: "Every topic must have a KMS master key configured.",
			Severity:    models.SeverityMedium,
			Category:    "messaging",
			Provider:    models.ProviderAWS,
			Frameworks: map[string][]string{
				"SOC2": {"CC6.7"},
			},
			ResourceKind: cloud.KindSNSTopics,
		},
		Detect: detectEach(cloud.KindSNSTopics, "sns:topic", func(r cloud.Resource) (bool, map[string]interface{}) {
			if r.String("kms_master_key_id") != "" {
				return true, nil
			}
			return false, detail("kms_master_key_id", "")
		}),
	}
}
