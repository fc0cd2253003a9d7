package aws

import (
	"github.com/catherinevee/compliancemgr/internal/cloud"
	"github.com/catherinevee/compliancemgr/internal/controls"
	"github.com/catherinevee/compliancemgr/internal/models"
)

func ec2PublicIPs() *controls.Control {
	return &controls.Control{
		Descriptor: controls.Descriptor{
			ControlID:   "AWS-EC2-001",
			Title:       "EC2 instances have no public IP addresses",
			Description: "Instances reachable from the internet must sit behind a load balancer, not expose a public address.",
			Severity:    models.SeverityHigh,
			Category:    "compute",
			Provider:    models.ProviderAWS,
			Frameworks: map[string][]string{
				"CIS-AWS": {"5.6"},
			},
			ResourceKind: cloud.KindEC2Instances,
		},
		Detect: detectEach(cloud.KindEC2Instances, "ec2:instance", func(r cloud.Resource) (bool, map[string]interface{}) {
			publicIP := r.String("public_ip")
			if publicIP == "" {
				return true, nil
			}
			return false, detail("public_ip", publicIP)
		}),
	}
}

func ebsEncryption() *controls.Control {
	return &controls.Control{
		Descriptor: controls.Descriptor{
			ControlID:   "AWS-EC2-002",
			Title:       "EBS volumes are encrypted",
			Description: "Every volume must be encrypted at rest.",
			Severity:    models.SeverityHigh,
			Category:    "compute",
			Provider:    models.ProviderAWS,
			Frameworks: map[string][]string{
				"CIS-AWS": {"2.2.1"},
				"SOC2":    {"CC6.7"},
			},
			ResourceKind: cloud.KindEBSVolumes,
		},
		Detect: detectEach(cloud.KindEBSVolumes, "ec2:volume", func(r cloud.Resource) (bool, map[string]interface{}) {
			if r.Bool("encrypted") {
				return true, nil
			}
			return false, detail("encrypted", false)
		}),
	}
}

func securityGroupOpenIngress() *controls.Control {
	return &controls.Control{
		Descriptor: controls.Descriptor{
			ControlID:   "AWS-SG-001",
			Title:       "Security groups do not allow ingress from 0.0.0.0/0",
			Description: "World-open ingress rules expose resources to the entire internet.",
			Severity:    models.SeverityCritical,
			Category:    "network",
			Provider:    models.ProviderAWS,
			Frameworks: map[string][]string{
				"CIS-AWS": {"5.2"},
			},
			ResourceKind: cloud.KindSecurityGroups,
		},
		Detect: detectEach(cloud.KindSecurityGroups, "ec2:security-group", func(r cloud.Resource) (bool, map[string]interface{}) {
			if !r.Bool("world_open") {
				return true, nil
			}
			return false, detail("world_open", true, "group", r.String("group"))
		}),
	}
}

func lambdaVPCAttachment() *controls.Control {
	return &controls.Control{
		Descriptor: controls.Descriptor{
			ControlID:   "AWS-LAMBDA-001",
			Title:       "Lambda functions run inside a VPC",
			Description: "Functions that handle regulated data must be attached to a VPC.",
			Severity:    models.SeverityMedium,
			Category:    "compute",
			Provider:    models.ProviderAWS,
			Frameworks: map[string][]string{
				"SOC2": {"CC6.6"},
			},
			ResourceKind: cloud.KindLambdaFunctions,
		},
		Detect: detectEach(cloud.KindLambdaFunctions, "lambda:function", func(r cloud.Resource) (bool, map[string]interface{}) {
			if r.String("vpc_id") != "" {
				return true, nil
			}
			return false, detail("vpc_id", "")
		}),
	}
}

func elbAccessLogs() *controls.Control {
	return &controls.Control{
		Descriptor: controls.Descriptor{
			ControlID:   "AWS-ELB-001",
			Title:       "Load balancers have access logging enabled",
			Description: "Access logs are required for traffic forensics and anomaly review.",
			Severity:    models.SeverityLow,
			Category:    "network",
			Provider:    models.ProviderAWS,
			Frameworks: map[string][]string{
				"SOC2": {"CC7.2"},
			},
			ResourceKind: cloud.KindLoadBalancers,
		},
		Detect: detectEach(cloud.KindLoadBalancers, "elbv2:load-balancer", func(r cloud.Resource) (bool, map[string]interface{}) {
			if r.Bool("access_logs_enabled") {
				return true, nil
			}
			return false, detail("access_logs_enabled", false)
		}),
	}
}
