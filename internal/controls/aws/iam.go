package aws

import (
	"context"

	"github.com/catherinevee/compliancemgr/internal/cloud"
	"github.com/catherinevee/compliancemgr/internal/controls"
	"github.com/catherinevee/compliancemgr/internal/models"
)

func iamMFA() *controls.Control {
	return &controls.Control{
		Descriptor: controls.Descriptor{
			ControlID:   "AWS-IAM-001",
			Title:       "IAM users have MFA enabled",
			Description: "Every IAM user must have at least one MFA device attached.",
			Severity:    models.SeverityCritical,
			Category:    "identity",
			Provider:    models.ProviderAWS,
			Frameworks: map[string][]string{
				"CIS-AWS": {"1.10"},
				"SOC2":    {"CC6.1"},
			},
			ResourceKind: cloud.KindIAMUsers,
		},
		Detect: detectEach(cloud.KindIAMUsers, "iam:user", func(r cloud.Resource) (bool, map[string]interface{}) {
			if r.Bool("mfa_enabled") {
				return true, nil
			}
			return false, detail("user_name", r.String("user_name"), "mfa_enabled", false)
		}),
	}
}

// iamPasswordPolicy evaluates the single account-level password policy. A
// missing policy surfaces as notFound from the adapter and records FAIL.
func iamPasswordPolicy() *controls.Control {
	return &controls.Control{
		Descriptor: controls.Descriptor{
			ControlID:   "AWS-IAM-003",
			Title:       "Account password policy meets baseline",
			Description: "The account password policy must require 14+ characters, uppercase letters, and symbols.",
			Severity:    models.SeverityHigh,
			Category:    "identity",
			Provider:    models.ProviderAWS,
			Frameworks: map[string][]string{
				"CIS-AWS": {"1.8", "1.9"},
			},
			ResourceKind: cloud.KindIAMPasswordPolicy,
			OnNotFound:   models.StatusFail,
		},
		Detect: func(ctx context.Context, adapter cloud.Adapter) ([]controls.Evaluation, error) {
			resources, err := adapter.ListResources(ctx, cloud.KindIAMPasswordPolicy)
			if err != nil {
				if class, ok := cloud.ClassOf(err); ok && class == cloud.ClassNotFound {
					return []controls.Evaluation{{
						Status:       models.StatusFail,
						ResourceID:   "iam:password-policy",
						ResourceType: "iam:password-policy",
						Details:      detail("policy_exists", false),
						Evidence:     map[string]interface{}{"policy_exists": false},
					}}, nil
				}
				return nil, err
			}
			var evaluations []controls.Evaluation
			for _, r := range resources {
				if r.Int("minimum_length") >= 14 && r.Bool("require_uppercase") && r.Bool("require_symbols") {
					continue
				}
				evaluations = append(evaluations, controls.Evaluation{
					Status:       models.StatusFail,
					ResourceID:   r.ID,
					ResourceType: "iam:password-policy",
					Details: detail(
						"minimum_length", r.Int("minimum_length"),
						"require_uppercase", r.Bool("require_uppercase"),
						"require_symbols", r.Bool("require_symbols"),
					),
					Evidence: snapshot(r),
				})
			}
			return evaluations, nil
		},
	}
}
