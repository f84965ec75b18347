package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
)

// TextractClient implements Client on AWS Textract.
type TextractClient struct {
	API *textract.Client
}

// NewTextractClient constructs a Textract-backed OCR client.
func NewTextractClient(ctx context.Context, region string) (*TextractClient, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &TextractClient{API: textract.NewFromConfig(cfg)}, nil
}

// DetectText runs synchronous text detection against an object in S3.
func (c *TextractClient) DetectText(ctx context.Context, bucket, key string) (string, error) {
	out, err := c.API.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
		Document: s3Document(bucket, key),
	})
	if err != nil {
		return "", translateError(err)
	}
	return joinLines(out.Blocks), nil
}

// StartTextDetection kicks off an asynchronous multi-page text-detection job.
func (c *TextractClient) StartTextDetection(ctx context.Context, bucket, key string) (string, error) {
	out, err := c.API.StartDocumentTextDetection(ctx, &textract.StartDocumentTextDetectionInput{
		DocumentLocation: &types.DocumentLocation{
			S3Object: &types.S3Object{
				Bucket: aws.String(bucket),
				Name:   aws.String(key),
			},
		},
	})
	if err != nil {
		return "", translateError(err)
	}
	return aws.ToString(out.JobId), nil
}

// GetTextDetection polls an asynchronous job, collecting all result pages when
// the job has succeeded.
func (c *TextractClient) GetTextDetection(ctx context.Context, jobID string) (JobResult, error) {
	var (
		text      strings.Builder
		nextToken *string
		result    JobResult
	)
	for {
		out, err := c.API.GetDocumentTextDetection(ctx, &textract.GetDocumentTextDetectionInput{
			JobId:     aws.String(jobID),
			NextToken: nextToken,
		})
		if err != nil {
			return JobResult{}, translateError(err)
		}

		result.Status = string(out.JobStatus)
		result.StatusMessage = aws.ToString(out.StatusMessage)
		if result.Status != JobSucceeded {
			return result, nil
		}

		for _, block := range out.Blocks {
			if block.BlockType == types.BlockTypeLine {
				text.WriteString(aws.ToString(block.Text))
				text.WriteString("\n")
			}
		}
		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}
	result.Text = text.String()
	return result, nil
}

// AnalyzeStructured runs layout analysis with table and form detection. Used
// as a fallback when the plain detector cannot handle the document.
func (c *TextractClient) AnalyzeStructured(ctx context.Context, bucket, key string) (string, error) {
	out, err := c.API.AnalyzeDocument(ctx, &textract.AnalyzeDocumentInput{
		Document:     s3Document(bucket, key),
		FeatureTypes: []types.FeatureType{types.FeatureTypeTables, types.FeatureTypeForms},
	})
	if err != nil {
		return "", translateError(err)
	}
	return joinLines(out.Blocks), nil
}

func s3Document(bucket, key string) *types.Document {
	return &types.Document{
		S3Object: &types.S3Object{
			Bucket: aws.String(bucket),
			Name:   aws.String(key),
		},
	}
}

func joinLines(blocks []types.Block) string {
	var text strings.Builder
	for _, block := range blocks {
		if block.BlockType == types.BlockTypeLine {
			text.WriteString(aws.ToString(block.Text))
			text.WriteString("\n")
		}
	}
	return text.String()
}

// translateError maps the unsupported-format service error onto the package
// sentinel so callers can branch without importing textract types.
func translateError(err error) error {
	var unsupported *types.UnsupportedDocumentException
	if errors.As(err, &unsupported) {
		return fmt.Errorf("%w: %s", ErrUnsupportedDocument, aws.ToString(unsupported.Message))
	}
	return err
}
