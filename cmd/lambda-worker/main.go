package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=amd64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"aspor-backend/internal/bootstrap"
	"aspor-backend/internal/shared/config"
	"aspor-backend/internal/workerproc"
)

var (
	initOnce sync.Once
	initErr  error
	app      *bootstrap.App
)

func initApp() {
	cfg := config.Load()
	built, err := bootstrap.Build(context.Background(), cfg)
	if err != nil {
		initErr = err
		return
	}
	app = built
}

// handler accepts either an SQS event envelope or a direct async
// invocation carrying the message payload itself.
func handler(ctx context.Context, raw json.RawMessage) (events.SQSEventResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		log.Printf("bootstrap error: %v", initErr)
		return events.SQSEventResponse{}, initErr
	}

	var event events.SQSEvent
	if err := json.Unmarshal(raw, &event); err == nil && len(event.Records) > 0 {
		failures := make([]events.SQSBatchItemFailure, 0)
		for _, record := range event.Records {
			if err := workerproc.HandleMessage(ctx, app, record.Body); err != nil {
				log.Printf("worker error: %v", err)
				failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			}
		}
		return events.SQSEventResponse{BatchItemFailures: failures}, nil
	}

	if err := workerproc.HandleMessage(ctx, app, string(raw)); err != nil {
		log.Printf("worker error: %v", err)
		return events.SQSEventResponse{}, err
	}
	return events.SQSEventResponse{}, nil
}

func main() {
	lambda.Start(handler)
}
