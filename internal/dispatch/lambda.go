package dispatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// Lambda dispatches by asynchronously invoking the worker function.
type Lambda struct {
	API          *lambda.Client
	FunctionName string
}

// NewLambda constructs a Lambda dispatcher for the named worker function.
func NewLambda(ctx context.Context, region, functionName string) (*Lambda, error) {
	if functionName == "" {
		return nil, fmt.Errorf("worker function name is required")
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Lambda{
		API:          lambda.NewFromConfig(cfg),
		FunctionName: functionName,
	}, nil
}

// Dispatch fires an event-type invocation and returns without waiting for the
// worker to finish.
func (d *Lambda) Dispatch(ctx context.Context, m Message) error {
	payload, err := Encode(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	_, err = d.API.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(d.FunctionName),
		InvocationType: types.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("invoke %s: %w", d.FunctionName, err)
	}
	return nil
}

var _ Dispatcher = (*Lambda)(nil)
