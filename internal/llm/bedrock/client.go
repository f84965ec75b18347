package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"aspor-backend/internal/llm"
)

const anthropicVersion = "bedrock-2023-05-31"

// Client invokes an Anthropic model through Amazon Bedrock.
type Client struct {
	API     *bedrockruntime.Client
	ModelID string
}

// New constructs a Bedrock-backed LLM client for the given model ID.
func New(ctx context.Context, region, modelID string) (*Client, error) {
	if modelID == "" {
		return nil, fmt.Errorf("bedrock model id is required")
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Client{
		API:     bedrockruntime.NewFromConfig(cfg),
		ModelID: modelID,
	}, nil
}

type contentPart struct {
	Type   string      `json:"type"`
	Text   string      `json:"text,omitempty"`
	Source *partSource `json:"source,omitempty"`
}

type partSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type message struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type invokeRequest struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	Temperature      float64   `json:"temperature"`
	TopP             float64   `json:"top_p"`
	Messages         []message `json:"messages"`
}

type invokeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Generate sends a single-turn message and returns the model text. Attached
// documents ride along as a document or image content part depending on the
// media type.
func (c *Client) Generate(ctx context.Context, input llm.GenerateInput) (string, error) {
	parts := make([]contentPart, 0, 2)
	if input.Document != nil {
		partType := "document"
		if strings.HasPrefix(input.Document.MediaType, "image/") {
			partType = "image"
		}
		parts = append(parts, contentPart{
			Type: partType,
			Source: &partSource{
				Type:      "base64",
				MediaType: input.Document.MediaType,
				Data:      input.Document.Data,
			},
		})
	}
	parts = append(parts, contentPart{Type: "text", Text: input.Prompt})

	payload, err := json.Marshal(invokeRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        input.MaxTokens,
		Temperature:      input.Temperature,
		TopP:             input.TopP,
		Messages: []message{
			{Role: "user", Content: parts},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	out, err := c.API.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.ModelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return "", fmt.Errorf("invoke model %s: %w", c.ModelID, err)
	}

	var resp invokeResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("empty response from model %s", c.ModelID)
	}
	return resp.Content[0].Text, nil
}

var _ llm.Client = (*Client)(nil)
