// Package bedrock invokes generation models hosted on AWS Bedrock.
// Candidate IDs use the "bedrock/" vendor prefix; the model suffix is
// resolved to the Bedrock model identifier.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/iamade/litinkapp-sub002/internal/domain"
	"github.com/iamade/litinkapp-sub002/internal/provider"
)

// modelIDs maps chain model suffixes to Bedrock model identifiers.
var modelIDs = map[string]string{
	"claude-3-5-sonnet": "anthropic.claude-3-5-sonnet-20241022-v2:0",
	"titan-image-v2":    "amazon.titan-image-generator-v2:0",
}

type Adapter struct {
	client *bedrockruntime.Client
	region string
}

func New(ctx context.Context, region string) (*Adapter, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewWithConfig(cfg), nil
}

func NewWithConfig(cfg aws.Config) *Adapter {
	return &Adapter{
		client: bedrockruntime.NewFromConfig(cfg),
		region: cfg.Region,
	}
}

// bedrockOutput is the subset of model responses this adapter inspects.
// Hosted-artifact models return an output location; inline models return
// content that the payload's output config told Bedrock where to put.
type bedrockOutput struct {
	ArtifactURL string `json:"artifact_url"`
	OutputURI   string `json:"output_uri"`
}

func (a *Adapter) Invoke(ctx context.Context, candidate domain.ProviderCandidate, payload json.RawMessage) (*domain.GenerationResult, error) {
	suffix := provider.Model(candidate.ID)
	modelID, ok := modelIDs[suffix]
	if !ok {
		return nil, domain.Fatal(fmt.Errorf("%w: unknown bedrock model %q", domain.ErrProviderNotFound, suffix))
	}

	input := &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        payload,
	}

	output, err := a.client.InvokeModel(ctx, input)
	if err != nil {
		return nil, classifyBedrockError(err)
	}

	var parsed bedrockOutput
	if err := json.Unmarshal(output.Body, &parsed); err != nil {
		return nil, domain.Retryable(fmt.Errorf("bedrock: decode response: %w", err))
	}

	artifactURL := parsed.ArtifactURL
	if artifactURL == "" {
		artifactURL = parsed.OutputURI
	}

	return &domain.GenerationResult{
		ProviderID:  candidate.ID,
		ArtifactURL: artifactURL,
		Raw:         output.Body,
	}, nil
}

// classifyBedrockError maps the Bedrock error taxonomy onto retryable vs
// fatal: throttling and service unavailability retry, validation and
// access errors do not.
func classifyBedrockError(err error) error {
	var throttle *types.ThrottlingException
	var unavailable *types.ServiceUnavailableException
	var internal *types.InternalServerException
	var timeout *types.ModelTimeoutException
	if errors.As(err, &throttle) || errors.As(err, &unavailable) ||
		errors.As(err, &internal) || errors.As(err, &timeout) {
		return domain.Retryable(fmt.Errorf("bedrock: %w", err))
	}

	var validation *types.ValidationException
	var denied *types.AccessDeniedException
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &validation) || errors.As(err, &denied) || errors.As(err, &notFound) {
		return domain.Fatal(fmt.Errorf("bedrock: %w", err))
	}

	return domain.Retryable(fmt.Errorf("bedrock: %w", err))
}
