// Package aws registers the built-in AWS control catalog.
package aws

import (
	"context"

	"github.com/catherinevee/compliancemgr/internal/cloud"
	"github.com/catherinevee/compliancemgr/internal/controls"
	"github.com/catherinevee/compliancemgr/internal/models"
)

// Register adds every built-in AWS control to the catalog.
func Register(catalog *controls.Catalog) {
	for _, c := range []*controls.Control{
		iamMFA(),
		iamPasswordPolicy(),
		s3PublicAccessBlock(),
		s3DefaultEncryption(),
		s3Versioning(),
		s3AccessLogging(),
		cloudTrailEnabled(),
		ec2PublicIPs(),
		ebsEncryption(),
		securityGroupOpenIngress(),
		kmsKeyRotation(),
		rdsStorageEncryption(),
		rdsPublicAccess(),
		snsTopicEncryption(),
		lambdaVPCAttachment(),
		elbAccessLogs(),
	} {
		catalog.Register(c)
	}
}

// check is a per-resource predicate: compliant, plus failure detail.
type check func(r cloud.Resource) (bool, map[string]interface{})

// detectEach lists the control's resource kind and emits a FAIL evaluation
// for every non-compliant resource. Compliant resources produce nothing; a
// control whose detect returns no seeds passes as a whole and the scan
// engine synthesizes its single PASS finding.
func detectEach(kind cloud.ResourceKind, resourceType string, fn check) controls.DetectFunc {
	return func(ctx context.Context, adapter cloud.Adapter) ([]controls.Evaluation, error) {
		resources, err := adapter.ListResources(ctx, kind)
		if err != nil {
			return nil, err
		}
		var evaluations []controls.Evaluation
		for _, r := range resources {
			compliant, details := fn(r)
			if compliant {
				continue
			}
			evaluations = append(evaluations, controls.Evaluation{
				Status:       models.StatusFail,
				ResourceID:   r.ID,
				ResourceType: resourceType,
				Details:      details,
				Evidence:     snapshot(r),
			})
		}
		return evaluations, nil
	}
}

func snapshot(r cloud.Resource) map[string]interface{} {
	evidence := make(map[string]interface{}, len(r.Attributes)+3)
	for k, v := range r.Attributes {
		evidence[k] = v
	}
	evidence["resource_id"] = r.ID
	evidence["resource_name"] = r.Name
	if r.Region != "" {
		evidence["region"] = r.Region
	}
	return evidence
}

func detail(kv ...interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		m[key] = kv[i+1]
	}
	return m
}
