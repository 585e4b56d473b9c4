// Package awsboot holds the shared AWS bootstrap used by the kiosk server
// and the retrieval Lambda: SDK config, S3, DynamoDB, SSM parameter fetch
// and EventBridge. Each entry point composes the helpers it needs.
package awsboot

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/photobooth/internal/store"
)

// AWSClients holds the core AWS SDK clients.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// S3Options selects the bucket and, for S3-compatible providers such as
// MinIO or R2, a custom endpoint with path-style addressing.
type S3Options struct {
	Bucket       string
	Endpoint     string
	UsePathStyle bool
}

// S3Clients holds S3 client, presigner, and bucket name.
type S3Clients struct {
	Client    *s3.Client
	Presigner *s3.PresignClient
	Bucket    string
}

// InitAWS loads the default AWS config. An empty region uses the default
// chain (AWS_REGION, shared config, instance metadata).
func InitAWS(ctx context.Context, region string) (AWSClients, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return AWSClients{}, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}, nil
}

// InitS3 creates an S3 client and presigner for the given bucket.
func InitS3(cfg aws.Config, opts S3Options) S3Clients {
	client := s3.NewFromConfig(cfg, s3ClientOptions(opts)...)
	return S3Clients{
		Client:    client,
		Presigner: s3.NewPresignClient(client),
		Bucket:    opts.Bucket,
	}
}

func s3ClientOptions(opts S3Options) []func(*s3.Options) {
	var out []func(*s3.Options)
	if opts.Endpoint != "" {
		endpoint := opts.Endpoint
		out = append(out, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if opts.UsePathStyle {
		out = append(out, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return out
}

// InitDynamo creates a DynamoDB strip store for the given table.
func InitDynamo(cfg aws.Config, tableName string) *store.DynamoStore {
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), tableName)
}

// InitEventBridge creates an EventBridge client.
func InitEventBridge(cfg aws.Config) *eventbridge.Client {
	return eventbridge.NewFromConfig(cfg)
}

// ParameterAPI is the subset of the SSM client used to read parameters.
type ParameterAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ParameterLoader returns a loader that reads SecureString parameters
// with decryption. It matches config.SecretLoader.
func ParameterLoader(client ParameterAPI) func(ctx context.Context, name string) (string, error) {
	return func(ctx context.Context, name string) (string, error) {
		return LoadParameter(ctx, client, name)
	}
}

// LoadParameter fetches a single decrypted parameter from SSM Parameter Store.
func LoadParameter(ctx context.Context, client ParameterAPI, name string) (string, error) {
	ssmStart := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("read SSM parameter %s: %w", name, err)
	}
	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("SSM parameter %s has no value", name)
	}
	log.Debug().Str("param", name).Dur("elapsed", time.Since(ssmStart)).Msg("Parameter loaded from SSM")
	return *result.Parameter.Value, nil
}
