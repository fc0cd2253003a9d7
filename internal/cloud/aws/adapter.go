package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"golang.org/x/time/rate"

	"github.com/catherinevee/compliancemgr/internal/cloud"
	"github.com/catherinevee/compliancemgr/internal/logger"
	"github.com/catherinevee/compliancemgr/internal/models"
)

// Adapter implements cloud.Adapter for AWS accounts. One adapter is bound to
// one account's credentials for the lifetime of a scan or remediation.
type Adapter struct {
	region  string
	cfg     awssdk.Config
	retry   *cloud.RetryConfig
	limiter *rate.Limiter
	log     logger.Logger

	iam        *iam.Client
	s3         *s3.Client
	cloudtrail *cloudtrail.Client
	ec2        *ec2.Client
	kms        *kms.Client
	rds        *rds.Client
	sns        *sns.Client
	lambda     *lambda.Client
	elbv2      *elasticloadbalancingv2.Client
}

// Factory builds AWS adapters from persisted account credentials.
type Factory struct {
	DefaultRegion string
}

// New constructs an adapter for the account. Credentials failures surface
// here so the detection engine can short-circuit every control to ERROR.
func (f *Factory) New(ctx context.Context, account *models.CloudAccount) (cloud.Adapter, error) {
	if account.Provider != models.ProviderAWS {
		return nil, fmt.Errorf("unsupported provider: %s", account.Provider)
	}
	region := account.Region
	if region == "" {
		region = f.DefaultRegion
	}
	return NewAdapter(ctx, region, account.Credentials)
}

// NewAdapter creates an adapter from a credentials blob holding either
// role_arn, a static access_key_id/secret_access_key pair, or nothing
// (ambient credentials).
func NewAdapter(ctx context.Context, region string, creds map[string]interface{}) (*Adapter, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}

	if keyID, ok := creds["access_key_id"].(string); ok && keyID != "" {
		secret, _ := creds["secret_access_key"].(string)
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(keyID, secret, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, cloud.Classify("aws:load-config", err)
	}

	if roleARN, ok := creds["role_arn"].(string); ok && roleARN != "" {
		stsClient := sts.NewFromConfig(cfg)
		cfg.Credentials = awssdk.NewCredentialsCache(
			stscreds.NewAssumeRoleProvider(stsClient, roleARN, func(o *stscreds.AssumeRoleOptions) {
				o.RoleSessionName = "compliancemgr-scan"
			}))
	}

	a := &Adapter{
		region:  region,
		cfg:     cfg,
		retry:   cloud.DefaultRetryConfig(),
		limiter: rate.NewLimiter(rate.Limit(20), 40),
		log:     logger.New("aws-adapter"),

		iam:        iam.NewFromConfig(cfg),
		s3:         s3.NewFromConfig(cfg),
		cloudtrail: cloudtrail.NewFromConfig(cfg),
		ec2:        ec2.NewFromConfig(cfg),
		kms:        kms.NewFromConfig(cfg),
		rds:        rds.NewFromConfig(cfg),
		sns:        sns.NewFromConfig(cfg),
		lambda:     lambda.NewFromConfig(cfg),
		elbv2:      elasticloadbalancingv2.NewFromConfig(cfg),
	}

	// Validate credentials up front so a bad binding fails the whole scan
	// with a shared cause instead of failing control by control.
	if err := cloud.Retry(ctx, a.retry, "sts:get-caller-identity", func() error {
		a.wait(ctx)
		_, err := sts.NewFromConfig(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		return err
	}); err != nil {
		return nil, err
	}

	return a, nil
}

// Provider returns the adapter's provider
func (a *Adapter) Provider() models.Provider {
	return models.ProviderAWS
}

func (a *Adapter) wait(ctx context.Context) {
	_ = a.limiter.Wait(ctx)
}

// ListResources returns the complete, auto-paginated collection for a kind.
func (a *Adapter) ListResources(ctx context.Context, kind cloud.ResourceKind) ([]cloud.Resource, error) {
	switch kind {
	case cloud.KindIAMUsers:
		return a.listIAMUsers(ctx)
	case cloud.KindIAMPasswordPolicy:
		res, err := a.describePasswordPolicy(ctx)
		if err != nil {
			return nil, err
		}
		return []cloud.Resource{*res}, nil
	case cloud.KindS3Buckets:
		return a.listS3Buckets(ctx)
	case cloud.KindCloudTrails:
		return a.listTrails(ctx)
	case cloud.KindEC2Instances:
		return a.listInstances(ctx)
	case cloud.KindEBSVolumes:
		return a.listVolumes(ctx)
	case cloud.KindSecurityGroups:
		return a.listSecurityGroups(ctx)
	case cloud.KindKMSKeys:
		return a.listKMSKeys(ctx)
	case cloud.KindRDSInstances:
		return a.listRDSInstances(ctx)
	case cloud.KindSNSTopics:
		return a.listSNSTopics(ctx)
	case cloud.KindLambdaFunctions:
		return a.listLambdaFunctions(ctx)
	case cloud.KindLoadBalancers:
		return a.listLoadBalancers(ctx)
	default:
		return nil, &cloud.AdapterError{
			Class: cloud.ClassPermanent,
			Op:    "aws:list",
			Cause: fmt.Errorf("unknown resource kind %q", kind),
		}
	}
}

// Describe returns one resource by ID, re-listing the collection and
// matching. Collections here are small enough that a filtered list is the
// simplest correct read.
func (a *Adapter) Describe(ctx context.Context, kind cloud.ResourceKind, id string) (*cloud.Resource, error) {
	resources, err := a.ListResources(ctx, kind)
	if err != nil {
		return nil, err
	}
	for i := range resources {
		if resources[i].ID == id || resources[i].Name == id {
			return &resources[i], nil
		}
	}
	return nil, &cloud.AdapterError{
		Class: cloud.ClassNotFound,
		Op:    "aws:describe",
		Cause: fmt.Errorf("%s %q not found", kind, id),
	}
}

func (a *Adapter) listIAMUsers(ctx context.Context) ([]cloud.Resource, error) {
	var resources []cloud.Resource
	paginator := iam.NewListUsersPaginator(a.iam, &iam.ListUsersInput{})
	for paginator.HasMorePages() {
		page, err := cloud.RetryWithResult(ctx, a.retry, "iam:list-users", func() (*iam.ListUsersOutput, error) {
			a.wait(ctx)
			return paginator.NextPage(ctx)
		})
		if err != nil {
			return nil, err
		}
		for _, u := range page.Users {
			userName := awssdk.ToString(u.UserName)
			mfa, err := cloud.RetryWithResult(ctx, a.retry, "iam:list-mfa-devices", func() (*iam.ListMFADevicesOutput, error) {
				a.wait(ctx)
				return a.iam.ListMFADevices(ctx, &iam.ListMFADevicesInput{UserName: u.UserName})
			})
			mfaEnabled := false
			if err == nil {
				mfaEnabled = len(mfa.MFADevices) > 0
			}
			resources = append(resources, cloud.Resource{
				ID:   awssdk.ToString(u.Arn),
				Kind: cloud.KindIAMUsers,
				Name: userName,
				Attributes: map[string]interface{}{
					"user_name":   userName,
					"mfa_enabled": mfaEnabled,
				},
			})
		}
	}
	return resources, nil
}

func (a *Adapter) describePasswordPolicy(ctx context.Context) (*cloud.Resource, error) {
	out, err := cloud.RetryWithResult(ctx, a.retry, "iam:get-account-password-policy", func() (*iam.GetAccountPasswordPolicyOutput, error) {
		a.wait(ctx)
		return a.iam.GetAccountPasswordPolicy(ctx, &iam.GetAccountPasswordPolicyInput{})
	})
	if err != nil {
		return nil, err
	}
	policy := out.PasswordPolicy
	return &cloud.Resource{
		ID:   "iam:password-policy",
		Kind: cloud.KindIAMPasswordPolicy,
		Name: "account-password-policy",
		Attributes: map[string]interface{}{
			"require_uppercase": policy.RequireUppercaseCharacters,
			"require_symbols":   policy.RequireSymbols,
			"minimum_length":    int(awssdk.ToInt32(policy.MinimumPasswordLength)),
		},
	}, nil
}

func (a *Adapter) listS3Buckets(ctx context.Context) ([]cloud.Resource, error) {
	out, err := cloud.RetryWithResult(ctx, a.retry, "s3:list-buckets", func() (*s3.ListBucketsOutput, error) {
		a.wait(ctx)
		return a.s3.ListBuckets(ctx, &s3.ListBucketsInput{})
	})
	if err != nil {
		return nil, err
	}

	resources := make([]cloud.Resource, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		name := awssdk.ToString(b.Name)
		attrs := map[string]interface{}{"bucket": name}
		a.enrichBucketPublicAccess(ctx, name, attrs)
		a.enrichBucketEncryption(ctx, name, attrs)
		a.enrichBucketVersioning(ctx, name, attrs)
		a.enrichBucketLogging(ctx, name, attrs)
		resources = append(resources, cloud.Resource{
			ID:         fmt.Sprintf("arn:aws:s3:::%s", name),
			Kind:       cloud.KindS3Buckets,
			Name:       name,
			Attributes: attrs,
		})
	}
	return resources, nil
}

// Missing bucket sub-configurations classify as notFound and read as the
// insecure default rather than failing the whole listing.
func (a *Adapter) enrichBucketPublicAccess(ctx context.Context, name string, attrs map[string]interface{}) {
	out, err := cloud.RetryWithResult(ctx, a.retry, "s3:get-public-access-block", func() (*s3.GetPublicAccessBlockOutput, error) {
		a.wait(ctx)
		return a.s3.GetPublicAccessBlock(ctx, &s3.GetPublicAccessBlockInput{Bucket: awssdk.String(name)})
	})
	if err != nil {
		if class, _ := cloud.ClassOf(err); class == cloud.ClassNotFound {
			attrs["public_access_block_configured"] = false
			attrs["block_public_acls"] = false
			attrs["block_public_policy"] = false
			attrs["ignore_public_acls"] = false
			attrs["restrict_public_buckets"] = false
			return
		}
		a.log.Warn("public access block lookup failed", logger.String("bucket", name), logger.Error(err))
		return
	}
	c := out.PublicAccessBlockConfiguration
	attrs["public_access_block_configured"] = true
	attrs["block_public_acls"] = awssdk.ToBool(c.BlockPublicAcls)
	attrs["block_public_policy"] = awssdk.ToBool(c.BlockPublicPolicy)
	attrs["ignore_public_acls"] = awssdk.ToBool(c.IgnorePublicAcls)
	attrs["restrict_public_buckets"] = awssdk.ToBool(c.RestrictPublicBuckets)
}

func (a *Adapter) enrichBucketEncryption(ctx context.Context, name string, attrs map[string]interface{}) {
	out, err := cloud.RetryWithResult(ctx, a.retry, "s3:get-bucket-encryption", func() (*s3.GetBucketEncryptionOutput, error) {
		a.wait(ctx)
		return a.s3.GetBucketEncryption(ctx, &s3.GetBucketEncryptionInput{Bucket: awssdk.String(name)})
	})
	if err != nil {
		if class, _ := cloud.ClassOf(err); class == cloud.ClassNotFound {
			attrs["encryption_algorithm"] = ""
			return
		}
		a.log.Warn("encryption lookup failed", logger.String("bucket", name), logger.Error(err))
		return
	}
	algorithm := ""
	if cfg := out.ServerSideEncryptionConfiguration; cfg != nil && len(cfg.Rules) > 0 {
		if def := cfg.Rules[0].ApplyServerSideEncryptionByDefault; def != nil {
			algorithm = string(def.SSEAlgorithm)
		}
	}
	attrs["encryption_algorithm"] = algorithm
}

func (a *Adapter) enrichBucketVersioning(ctx context.Context, name string, attrs map[string]interface{}) {
	out, err := cloud.RetryWithResult(ctx, a.retry, "s3:get-bucket-versioning", func() (*s3.GetBucketVersioningOutput, error) {
		a.wait(ctx)
		return a.s3.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{Bucket: awssdk.String(name)})
	})
	if err != nil {
		a.log.Warn("versioning lookup failed", logger.String("bucket", name), logger.Error(err))
		attrs["versioning_status"] = ""
		return
	}
	attrs["versioning_status"] = string(out.Status)
}

func (a *Adapter) enrichBucketLogging(ctx context.Context, name string, attrs map[string]interface{}) {
	out, err := cloud.RetryWithResult(ctx, a.retry, "s3:get-bucket-logging", func() (*s3.GetBucketLoggingOutput, error) {
		a.wait(ctx)
		return a.s3.GetBucketLogging(ctx, &s3.GetBucketLoggingInput{Bucket: awssdk.String(name)})
	})
	if err != nil {
		a.log.Warn("logging lookup failed", logger.String("bucket", name), logger.Error(err))
		attrs["logging_enabled"] = false
		return
	}
	attrs["logging_enabled"] = out.LoggingEnabled != nil
}

func (a *Adapter) listTrails(ctx context.Context) ([]cloud.Resource, error) {
	out, err := cloud.RetryWithResult(ctx, a.retry, "cloudtrail:describe-trails", func() (*cloudtrail.DescribeTrailsOutput, error) {
		a.wait(ctx)
		return a.cloudtrail.DescribeTrails(ctx, &cloudtrail.DescribeTrailsInput{})
	})
	if err != nil {
		return nil, err
	}

	resources := make([]cloud.Resource, 0, len(out.TrailList))
	for _, t := range out.TrailList {
		arn := awssdk.ToString(t.TrailARN)
		isLogging := false
		status, err := cloud.RetryWithResult(ctx, a.retry, "cloudtrail:get-trail-status", func() (*cloudtrail.GetTrailStatusOutput, error) {
			a.wait(ctx)
			return a.cloudtrail.GetTrailStatus(ctx, &cloudtrail.GetTrailStatusInput{Name: t.TrailARN})
		})
		if err == nil {
			isLogging = awssdk.ToBool(status.IsLogging)
		}
		resources = append(resources, cloud.Resource{
			ID:   arn,
			Kind: cloud.KindCloudTrails,
			Name: awssdk.ToString(t.Name),
			Attributes: map[string]interface{}{
				"trail":      awssdk.ToString(t.Name),
				"is_logging": isLogging,
			},
		})
	}
	return resources, nil
}

func (a *Adapter) listInstances(ctx context.Context) ([]cloud.Resource, error) {
	var resources []cloud.Resource
	paginator := ec2.NewDescribeInstancesPaginator(a.ec2, &ec2.DescribeInstancesInput{})
	for paginator.HasMorePages() {
		page, err := cloud.RetryWithResult(ctx, a.retry, "ec2:describe-instances", func() (*ec2.DescribeInstancesOutput, error) {
			a.wait(ctx)
			return paginator.NextPage(ctx)
		})
		if err != nil {
			return nil, err
		}
		for _, reservation := range page.Reservations {
			for _, inst := range reservation.Instances {
				resources = append(resources, cloud.Resource{
					ID:     awssdk.ToString(inst.InstanceId),
					Kind:   cloud.KindEC2Instances,
					Name:   awssdk.ToString(inst.InstanceId),
					Region: a.region,
					Attributes: map[string]interface{}{
						"instance":  awssdk.ToString(inst.InstanceId),
						"public_ip": awssdk.ToString(inst.PublicIpAddress),
					},
				})
			}
		}
	}
	return resources, nil
}

func (a *Adapter) listVolumes(ctx context.Context) ([]cloud.Resource, error) {
	var resources []cloud.Resource
	paginator := ec2.NewDescribeVolumesPaginator(a.ec2, &ec2.DescribeVolumesInput{})
	for paginator.HasMorePages() {
		page, err := cloud.RetryWithResult(ctx, a.retry, "ec2:describe-volumes", func() (*ec2.DescribeVolumesOutput, error) {
			a.wait(ctx)
			return paginator.NextPage(ctx)
		})
		if err != nil {
			return nil, err
		}
		for _, v := range page.Volumes {
			resources = append(resources, cloud.Resource{
				ID:     awssdk.ToString(v.VolumeId),
				Kind:   cloud.KindEBSVolumes,
				Name:   awssdk.ToString(v.VolumeId),
				Region: a.region,
				Attributes: map[string]interface{}{
					"volume":    awssdk.ToString(v.VolumeId),
					"encrypted": awssdk.ToBool(v.Encrypted),
				},
			})
		}
	}
	return resources, nil
}

func (a *Adapter) listSecurityGroups(ctx context.Context) ([]cloud.Resource, error) {
	var resources []cloud.Resource
	paginator := ec2.NewDescribeSecurityGroupsPaginator(a.ec2, &ec2.DescribeSecurityGroupsInput{})
	for paginator.HasMorePages() {
		page, err := cloud.RetryWithResult(ctx, a.retry, "ec2:describe-security-groups", func() (*ec2.DescribeSecurityGroupsOutput, error) {
			a.wait(ctx)
			return paginator.NextPage(ctx)
		})
		if err != nil {
			return nil, err
		}
		for _, sg := range page.SecurityGroups {
			worldOpen := false
			for _, perm := range sg.IpPermissions {
				for _, ipRange := range perm.IpRanges {
					if awssdk.ToString(ipRange.CidrIp) == "0.0.0.0/0" {
						worldOpen = true
					}
				}
			}
			resources = append(resources, cloud.Resource{
				ID:     awssdk.ToString(sg.GroupId),
				Kind:   cloud.KindSecurityGroups,
				Name:   awssdk.ToString(sg.GroupName),
				Region: a.region,
				Attributes: map[string]interface{}{
					"group":      awssdk.ToString(sg.GroupId),
					"world_open": worldOpen,
				},
			})
		}
	}
	return resources, nil
}

func (a *Adapter) listKMSKeys(ctx context.Context) ([]cloud.Resource, error) {
	var resources []cloud.Resource
	paginator := kms.NewListKeysPaginator(a.kms, &kms.ListKeysInput{})
	for paginator.HasMorePages() {
		page, err := cloud.RetryWithResult(ctx, a.retry, "kms:list-keys", func() (*kms.ListKeysOutput, error) {
			a.wait(ctx)
			return paginator.NextPage(ctx)
		})
		if err != nil {
			return nil, err
		}
		for _, k := range page.Keys {
			meta, err := cloud.RetryWithResult(ctx, a.retry, "kms:describe-key", func() (*kms.DescribeKeyOutput, error) {
				a.wait(ctx)
				return a.kms.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: k.KeyId})
			})
			if err != nil {
				continue
			}
			rotation := false
			if meta.KeyMetadata.KeyManager == kmstypes.KeyManagerTypeCustomer {
				out, err := cloud.RetryWithResult(ctx, a.retry, "kms:get-key-rotation-status", func() (*kms.GetKeyRotationStatusOutput, error) {
					a.wait(ctx)
					return a.kms.GetKeyRotationStatus(ctx, &kms.GetKeyRotationStatusInput{KeyId: k.KeyId})
				})
				if err == nil {
					rotation = out.KeyRotationEnabled
				}
			}
			resources = append(resources, cloud.Resource{
				ID:   awssdk.ToString(meta.KeyMetadata.Arn),
				Kind: cloud.KindKMSKeys,
				Name: awssdk.ToString(k.KeyId),
				Attributes: map[string]interface{}{
					"key":              awssdk.ToString(k.KeyId),
					"key_manager":      string(meta.KeyMetadata.KeyManager),
					"rotation_enabled": rotation,
				},
			})
		}
	}
	return resources, nil
}

func (a *Adapter) listRDSInstances(ctx context.Context) ([]cloud.Resource, error) {
	var resources []cloud.Resource
	paginator := rds.NewDescribeDBInstancesPaginator(a.rds, &rds.DescribeDBInstancesInput{})
	for paginator.HasMorePages() {
		page, err := cloud.RetryWithResult(ctx, a.retry, "rds:describe-db-instances", func() (*rds.DescribeDBInstancesOutput, error) {
			a.wait(ctx)
			return paginator.NextPage(ctx)
		})
		if err != nil {
			return nil, err
		}
		for _, db := range page.DBInstances {
			resources = append(resources, cloud.Resource{
				ID:     awssdk.ToString(db.DBInstanceArn),
				Kind:   cloud.KindRDSInstances,
				Name:   awssdk.ToString(db.DBInstanceIdentifier),
				Region: a.region,
				Attributes: map[string]interface{}{
					"db":                      awssdk.ToString(db.DBInstanceIdentifier),
					"storage_encrypted":       awssdk.ToBool(db.StorageEncrypted),
					"publicly_accessible":     awssdk.ToBool(db.PubliclyAccessible),
					"backup_retention_period": int(awssdk.ToInt32(db.BackupRetentionPeriod)),
				},
			})
		}
	}
	return resources, nil
}

func (a *Adapter) listSNSTopics(ctx context.Context) ([]cloud.Resource, error) {
	var resources []cloud.Resource
	paginator := sns.NewListTopicsPaginator(a.sns, &sns.ListTopicsInput{})
	for paginator.HasMorePages() {
		page, err := cloud.RetryWithResult(ctx, a.retry, "sns:list-topics", func() (*sns.ListTopicsOutput, error) {
			a.wait(ctx)
			return paginator.NextPage(ctx)
		})
		if err != nil {
			return nil, err
		}
		for _, t := range page.Topics {
			arn := awssdk.ToString(t.TopicArn)
			kmsKey := ""
			attrs, err := cloud.RetryWithResult(ctx, a.retry, "sns:get-topic-attributes", func() (*sns.GetTopicAttributesOutput, error) {
				a.wait(ctx)
				return a.sns.GetTopicAttributes(ctx, &sns.GetTopicAttributesInput{TopicArn: t.TopicArn})
			})
			if err == nil {
				kmsKey = attrs.Attributes["KmsMasterKeyId"]
			}
			resources = append(resources, cloud.Resource{
				ID:   arn,
				Kind: cloud.KindSNSTopics,
				Name: arn,
				Attributes: map[string]interface{}{
					"kms_master_key_id": kmsKey,
				},
			})
		}
	}
	return resources, nil
}

func (a *Adapter) listLambdaFunctions(ctx context.Context) ([]cloud.Resource, error) {
	var resources []cloud.Resource
	paginator := lambda.NewListFunctionsPaginator(a.lambda, &lambda.ListFunctionsInput{})
	for paginator.HasMorePages() {
		page, err := cloud.RetryWithResult(ctx, a.retry, "lambda:list-functions", func() (*lambda.ListFunctionsOutput, error) {
			a.wait(ctx)
			return paginator.NextPage(ctx)
		})
		if err != nil {
			return nil, err
		}
		for _, f := range page.Functions {
			vpcID := ""
			if f.VpcConfig != nil {
				vpcID = awssdk.ToString(f.VpcConfig.VpcId)
			}
			resources = append(resources, cloud.Resource{
				ID:     awssdk.ToString(f.FunctionArn),
				Kind:   cloud.KindLambdaFunctions,
				Name:   awssdk.ToString(f.FunctionName),
				Region: a.region,
				Attributes: map[string]interface{}{
					"func":   awssdk.ToString(f.FunctionName),
					"vpc_id": vpcID,
				},
			})
		}
	}
	return resources, nil
}

func (a *Adapter) listLoadBalancers(ctx context.Context) ([]cloud.Resource, error) {
	var resources []cloud.Resource
	paginator := elasticloadbalancingv2.NewDescribeLoadBalancersPaginator(a.elbv2, &elasticloadbalancingv2.DescribeLoadBalancersInput{})
	for paginator.HasMorePages() {
		page, err := cloud.RetryWithResult(ctx, a.retry, "elbv2:describe-load-balancers", func() (*elasticloadbalancingv2.DescribeLoadBalancersOutput, error) {
			a.wait(ctx)
			return paginator.NextPage(ctx)
		})
		if err != nil {
			return nil, err
		}
		for _, lb := range page.LoadBalancers {
			logsEnabled := false
			attrs, err := cloud.RetryWithResult(ctx, a.retry, "elbv2:describe-load-balancer-attributes", func() (*elasticloadbalancingv2.DescribeLoadBalancerAttributesOutput, error) {
				a.wait(ctx)
				return a.elbv2.DescribeLoadBalancerAttributes(ctx, &elasticloadbalancingv2.DescribeLoadBalancerAttributesInput{
					LoadBalancerArn: lb.LoadBalancerArn,
				})
			})
			if err == nil {
				for _, attr := range attrs.Attributes {
					if awssdk.ToString(attr.Key) == "access_logs.s3.enabled" && awssdk.ToString(attr.Value) == "true" {
						logsEnabled = true
					}
				}
			}
			resources = append(resources, cloud.Resource{
				ID:     awssdk.ToString(lb.LoadBalancerArn),
				Kind:   cloud.KindLoadBalancers,
				Name:   awssdk.ToString(lb.LoadBalancerName),
				Region: a.region,
				Attributes: map[string]interface{}{
					"lb":                  awssdk.ToString(lb.LoadBalancerName),
					"access_logs_enabled": logsEnabled,
				},
			})
		}
	}
	return resources, nil
}

// Apply performs a mutation against the provider.
func (a *Adapter) Apply(ctx context.Context, m cloud.Mutation) error {
	switch m.Kind {
	case cloud.MutationS3PutPublicAccessBlock:
		return cloud.Retry(ctx, a.retry, string(m.Kind), func() error {
			a.wait(ctx)
			_, err := a.s3.PutPublicAccessBlock(ctx, &s3.PutPublicAccessBlockInput{
				Bucket: awssdk.String(paramString(m, "bucket")),
				PublicAccessBlockConfiguration: &s3types.PublicAccessBlockConfiguration{
					BlockPublicAcls:       awssdk.Bool(paramBool(m, "block_public_acls")),
					BlockPublicPolicy:     awssdk.Bool(paramBool(m, "block_public_policy")),
					IgnorePublicAcls:      awssdk.Bool(paramBool(m, "ignore_public_acls")),
					RestrictPublicBuckets: awssdk.Bool(paramBool(m, "restrict_public_buckets")),
				},
			})
			return err
		})
	case cloud.MutationS3DeletePublicAccessBlock:
		return cloud.Retry(ctx, a.retry, string(m.Kind), func() error {
			a.wait(ctx)
			_, err := a.s3.DeletePublicAccessBlock(ctx, &s3.DeletePublicAccessBlockInput{
				Bucket: awssdk.String(paramString(m, "bucket")),
			})
			return err
		})
	case cloud.MutationS3PutBucketEncryption:
		return cloud.Retry(ctx, a.retry, string(m.Kind), func() error {
			a.wait(ctx)
			_, err := a.s3.PutBucketEncryption(ctx, &s3.PutBucketEncryptionInput{
				Bucket: awssdk.String(paramString(m, "bucket")),
				ServerSideEncryptionConfiguration: &s3types.ServerSideEncryptionConfiguration{
					Rules: []s3types.ServerSideEncryptionRule{{
						ApplyServerSideEncryptionByDefault: &s3types.ServerSideEncryptionByDefault{
							SSEAlgorithm: s3types.ServerSideEncryption(paramString(m, "sse_algorithm")),
						},
					}},
				},
			})
			return err
		})
	case cloud.MutationS3DeleteBucketEncryption:
		return cloud.Retry(ctx, a.retry, string(m.Kind), func() error {
			a.wait(ctx)
			_, err := a.s3.DeleteBucketEncryption(ctx, &s3.DeleteBucketEncryptionInput{
				Bucket: awssdk.String(paramString(m, "bucket")),
			})
			return err
		})
	case cloud.MutationS3PutBucketVersioning:
		return cloud.Retry(ctx, a.retry, string(m.Kind), func() error {
			a.wait(ctx)
			_, err := a.s3.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
				Bucket: awssdk.String(paramString(m, "bucket")),
				VersioningConfiguration: &s3types.VersioningConfiguration{
					Status: s3types.BucketVersioningStatus(paramString(m, "status")),
				},
			})
			return err
		})
	case cloud.MutationKMSSetKeyRotation:
		return cloud.Retry(ctx, a.retry, string(m.Kind), func() error {
			a.wait(ctx)
			keyID := awssdk.String(paramString(m, "key"))
			if paramBool(m, "enabled") {
				_, err := a.kms.EnableKeyRotation(ctx, &kms.EnableKeyRotationInput{KeyId: keyID})
				return err
			}
			_, err := a.kms.DisableKeyRotation(ctx, &kms.DisableKeyRotationInput{KeyId: keyID})
			return err
		})
	default:
		return &cloud.AdapterError{
			Class: cloud.ClassPermanent,
			Op:    "aws:apply",
			Cause: fmt.Errorf("unknown mutation kind %q", m.Kind),
		}
	}
}

func paramString(m cloud.Mutation, key string) string {
	v, _ := m.Parameters[key].(string)
	return v
}

func paramBool(m cloud.Mutation, key string) bool {
	v, _ := m.Parameters[key].(bool)
	return v
}
