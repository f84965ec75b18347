package runs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoRepo implements Repo using a DynamoDB table with a composite primary key
// (pk, sk) and a global secondary index on runId.
type DynamoRepo struct {
	Client   *dynamodb.Client
	Table    string
	RunIndex string
}

// NewDynamoRepo constructs a DynamoDB-backed repo.
func NewDynamoRepo(ctx context.Context, region, table, runIndex string) (*DynamoRepo, error) {
	if table == "" {
		return nil, fmt.Errorf("dynamo table is required")
	}
	if runIndex == "" {
		runIndex = "runId-index"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &DynamoRepo{
		Client:   dynamodb.NewFromConfig(cfg),
		Table:    table,
		RunIndex: runIndex,
	}, nil
}

// Create stores the run record.
func (r *DynamoRepo) Create(ctx context.Context, run Run) error {
	item, err := attributevalue.MarshalMap(run)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", run.RunID, err)
	}
	_, err = r.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.Table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put run %s: %w", run.RunID, err)
	}
	return nil
}

// GetByRunID resolves a run through the runId index.
func (r *DynamoRepo) GetByRunID(ctx context.Context, runID string) (Run, error) {
	out, err := r.Client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.Table),
		IndexName:              aws.String(r.RunIndex),
		KeyConditionExpression: aws.String("runId = :rid"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":rid": &ddbtypes.AttributeValueMemberS{Value: runID},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return Run{}, fmt.Errorf("query run %s: %w", runID, err)
	}
	if len(out.Items) == 0 {
		return Run{}, ErrNotFound
	}
	var run Run
	if err := attributevalue.UnmarshalMap(out.Items[0], &run); err != nil {
		return Run{}, fmt.Errorf("unmarshal run %s: %w", runID, err)
	}
	return run, nil
}

// ListByUser returns runs for a user, newest first, bounded by limit.
func (r *DynamoRepo) ListByUser(ctx context.Context, userID string, limit int) ([]Run, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.Table),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: UserPK(userID)},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}

	out, err := r.Client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("query user %s runs: %w", userID, err)
	}

	list := make([]Run, 0, len(out.Items))
	for _, item := range out.Items {
		var run Run
		if err := attributevalue.UnmarshalMap(item, &run); err != nil {
			return nil, fmt.Errorf("unmarshal user %s run: %w", userID, err)
		}
		list = append(list, run)
	}
	return list, nil
}

// MarkExtracted records a successful extraction.
func (r *DynamoRepo) MarkExtracted(ctx context.Context, runID, textKey, method, textSummary string, at time.Time) error {
	return r.updateByRunID(ctx, runID,
		"SET #status = :status, textKey = :textKey, extractionMethod = :method, textExtracted = :summary, extractedAt = :at",
		map[string]ddbtypes.AttributeValue{
			":status":  &ddbtypes.AttributeValueMemberS{Value: StatusExtracted},
			":textKey": &ddbtypes.AttributeValueMemberS{Value: textKey},
			":method":  &ddbtypes.AttributeValueMemberS{Value: method},
			":summary": &ddbtypes.AttributeValueMemberS{Value: textSummary},
			":at":      timeAttr(at),
		}, nil)
}

// MarkProcessingAsync records the deferred hand-off to background processing.
func (r *DynamoRepo) MarkProcessingAsync(ctx context.Context, runID string, at time.Time) error {
	return r.updateByRunID(ctx, runID,
		"SET #status = :status, asyncInitiated = :at",
		map[string]ddbtypes.AttributeValue{
			":status": &ddbtypes.AttributeValueMemberS{Value: StatusProcessingAsync},
			":at":     timeAttr(at),
		}, nil)
}

// MarkAnalyzing records the start of synchronous analysis.
func (r *DynamoRepo) MarkAnalyzing(ctx context.Context, runID, model string, at time.Time) error {
	return r.updateByRunID(ctx, runID,
		"SET #status = :status, model = :model, analyzingAt = :at",
		map[string]ddbtypes.AttributeValue{
			":status": &ddbtypes.AttributeValueMemberS{Value: StatusAnalyzing},
			":model":  &ddbtypes.AttributeValueMemberS{Value: model},
			":at":     timeAttr(at),
		}, nil)
}

// MarkCompleted records a successful analysis.
func (r *DynamoRepo) MarkCompleted(ctx context.Context, runID, analysisKey, method, resultPreview string, at time.Time) error {
	return r.updateByRunID(ctx, runID,
		"SET #status = :status, analysisKey = :key, analysisMethod = :method, analysisResult = :preview, completedAt = :at REMOVE errorMessage",
		map[string]ddbtypes.AttributeValue{
			":status":  &ddbtypes.AttributeValueMemberS{Value: StatusCompleted},
			":key":     &ddbtypes.AttributeValueMemberS{Value: analysisKey},
			":method":  &ddbtypes.AttributeValueMemberS{Value: method},
			":preview": &ddbtypes.AttributeValueMemberS{Value: resultPreview},
			":at":      timeAttr(at),
		}, nil)
}

// MarkFailed records a terminal failure.
func (r *DynamoRepo) MarkFailed(ctx context.Context, runID, errorMessage string, at time.Time) error {
	return r.updateByRunID(ctx, runID,
		"SET #status = :status, errorMessage = :error, failedAt = :at",
		map[string]ddbtypes.AttributeValue{
			":status": &ddbtypes.AttributeValueMemberS{Value: StatusFailed},
			":error":  &ddbtypes.AttributeValueMemberS{Value: errorMessage},
			":at":     timeAttr(at),
		}, nil)
}

// Claim conditionally transitions the run into toStatus.
func (r *DynamoRepo) Claim(ctx context.Context, runID, toStatus string, at time.Time) (bool, error) {
	tsField := "asyncInitiated"
	if toStatus == StatusAnalyzing {
		tsField = "analyzingAt"
	}

	err := r.updateByRunID(ctx, runID,
		fmt.Sprintf("SET #status = :status, %s = :at", tsField),
		map[string]ddbtypes.AttributeValue{
			":status":    &ddbtypes.AttributeValueMemberS{Value: toStatus},
			":at":        timeAttr(at),
			":extracted": &ddbtypes.AttributeValueMemberS{Value: StatusExtracted},
			":failed":    &ddbtypes.AttributeValueMemberS{Value: StatusFailed},
		},
		aws.String("#status IN (:extracted, :failed)"))
	if err != nil {
		var condErr *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MarkStep records a diagnostic breadcrumb. The parent map is created lazily;
// both writes are best-effort from the caller's perspective.
func (r *DynamoRepo) MarkStep(ctx context.Context, runID, step string, ok bool, details string) error {
	key, err := r.resolveKey(ctx, runID)
	if err != nil {
		return err
	}

	_, err = r.Client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.Table),
		Key:              key,
		UpdateExpression: aws.String("SET #steps = if_not_exists(#steps, :empty)"),
		ExpressionAttributeNames: map[string]string{
			"#steps": "steps",
		},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":empty": &ddbtypes.AttributeValueMemberM{Value: map[string]ddbtypes.AttributeValue{}},
		},
	})
	if err != nil {
		return fmt.Errorf("init steps run %s: %w", runID, err)
	}

	mark, err := attributevalue.Marshal(Step{OK: ok, Details: details, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal step %s run %s: %w", step, runID, err)
	}
	_, err = r.Client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.Table),
		Key:              key,
		UpdateExpression: aws.String("SET #steps.#step = :mark"),
		ExpressionAttributeNames: map[string]string{
			"#steps": "steps",
			"#step":  step,
		},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":mark": mark,
		},
	})
	if err != nil {
		return fmt.Errorf("mark step %s run %s: %w", step, runID, err)
	}
	return nil
}

func (r *DynamoRepo) updateByRunID(ctx context.Context, runID, expr string, values map[string]ddbtypes.AttributeValue, condition *string) error {
	key, err := r.resolveKey(ctx, runID)
	if err != nil {
		return err
	}

	_, err = r.Client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.Table),
		Key:              key,
		UpdateExpression: aws.String(expr),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: values,
		ConditionExpression:       condition,
	})
	if err != nil {
		return fmt.Errorf("update run %s: %w", runID, err)
	}
	return nil
}

func (r *DynamoRepo) resolveKey(ctx context.Context, runID string) (map[string]ddbtypes.AttributeValue, error) {
	run, err := r.GetByRunID(ctx, runID)
	if err != nil {
		return nil, err
	}
	return map[string]ddbtypes.AttributeValue{
		"pk": &ddbtypes.AttributeValueMemberS{Value: run.PK},
		"sk": &ddbtypes.AttributeValueMemberS{Value: run.SK},
	}, nil
}

func timeAttr(t time.Time) ddbtypes.AttributeValue {
	return &ddbtypes.AttributeValueMemberS{Value: t.UTC().Format(time.RFC3339Nano)}
}

var _ Repo = (*DynamoRepo)(nil)
