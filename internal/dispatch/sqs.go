package dispatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQS dispatches by enqueuing messages for the worker to consume.
type SQS struct {
	API      *sqs.Client
	QueueURL string
}

// NewSQS constructs an SQS dispatcher for the given queue URL.
func NewSQS(ctx context.Context, region, queueURL string) (*SQS, error) {
	if queueURL == "" {
		return nil, fmt.Errorf("sqs queue url is required")
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SQS{
		API:      sqs.NewFromConfig(cfg),
		QueueURL: queueURL,
	}, nil
}

// Dispatch sends the message to the worker queue.
func (d *SQS) Dispatch(ctx context.Context, m Message) error {
	payload, err := Encode(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	_, err = d.API.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.QueueURL),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

var _ Dispatcher = (*SQS)(nil)
