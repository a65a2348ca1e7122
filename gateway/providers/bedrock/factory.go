//go:build bedrock
// +build bedrock

package bedrock

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/itsneelabh/gomind/core"
	"github.com/brainops/orchestrator/gateway"
)

func init() {
	gateway.MustRegister(&Factory{})
}

// Factory creates AWS Bedrock driver instances.
type Factory struct{}

// Name returns the provider name.
func (f *Factory) Name() string {
	return "bedrock"
}

// Description returns provider description.
func (f *Factory) Description() string {
	return "AWS Bedrock unified access to Claude, Llama, Titan and other models"
}

// Priority returns the provider's relative auto-detection priority.
func (f *Factory) Priority() int {
	return 60 // Lower than cloud providers but higher than local
}

// Create builds a new Bedrock Driver from the resolved configuration.
func (f *Factory) Create(config *gateway.ProviderConfig) gateway.Driver {
	ctx := context.Background()

	region := ""
	if v, ok := config.Extra["region"]; ok && v != nil {
		region, _ = v.(string)
	}
	if region == "" {
		region = os.Getenv("AWS_REGION")
		if region == "" {
			region = os.Getenv("AWS_DEFAULT_REGION")
			if region == "" {
				region = "us-east-1"
			}
		}
	}

	var awsCfg aws.Config
	var err error

	if config.Extra["aws_access_key_id"] != nil && config.Extra["aws_secret_access_key"] != nil {
		accessKey := config.Extra["aws_access_key_id"].(string)
		secretKey := config.Extra["aws_secret_access_key"].(string)
		sessionToken := ""
		if config.Extra["aws_session_token"] != nil {
			sessionToken = config.Extra["aws_session_token"].(string)
		}

		credProvider := credentials.NewStaticCredentialsProvider(accessKey, secretKey, sessionToken)
		awsCfg, err = CreateAWSConfig(ctx, region, credProvider)
	} else {
		awsCfg, err = CreateAWSConfig(ctx, region)
	}

	if err != nil {
		// Register anyway; the client errors on first use rather than
		// preventing gomind from starting when AWS isn't configured.
		return &errorClient{err: err}
	}

	logger := config.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	client := NewClient(awsCfg, region, logger)
	client.BaseClient.Telemetry = config.Telemetry

	if config.Timeout > 0 {
		client.BaseClient.HTTPClient.Timeout = config.Timeout
	}

	if config.MaxRetries > 0 {
		client.BaseClient.MaxRetries = config.MaxRetries
	}

	if config.Model != "" {
		client.BaseClient.DefaultModel = config.Model
	}

	if config.Temperature > 0 {
		client.BaseClient.DefaultTemperature = config.Temperature
	}

	if config.MaxTokens > 0 {
		client.BaseClient.DefaultMaxTokens = config.MaxTokens
	}

	return client
}

// DetectEnvironment checks if AWS Bedrock is configured.
func (f *Factory) DetectEnvironment() (priority int, available bool) {
	if os.Getenv("AWS_ACCESS_KEY_ID") != "" && os.Getenv("AWS_SECRET_ACCESS_KEY") != "" {
		return f.Priority(), true
	}

	if os.Getenv("AWS_PROFILE") != "" {
		return f.Priority(), true
	}

	if os.Getenv("AWS_EXECUTION_ENV") != "" || os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		return f.Priority() + 10, true
	}

	if os.Getenv("AWS_CONTAINER_CREDENTIALS_RELATIVE_URI") != "" {
		return f.Priority() + 10, true
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		if _, statErr := os.Stat(homeDir + "/.aws/credentials"); statErr == nil {
			return f.Priority(), true
		}
	}

	return 0, false
}

// errorClient is returned when AWS configuration fails. It lets the
// provider register while still erroring on first use.
type errorClient struct {
	err error
}

func (e *errorClient) Generate(ctx context.Context, prompt string, options *gateway.Options) (*gateway.Result, error) {
	return nil, e.err
}
