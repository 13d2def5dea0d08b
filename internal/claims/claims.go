// Package claims records which reconciliation job was created for each
// inventory, so a redelivered manifest notification does not start a second
// job.
package claims

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
)

// ClaimTableId represents a string type identifier for claim table field names
type ClaimTableId string

const (
	ClaimTableKeyId       ClaimTableId = "ClaimKey"
	ClaimTableJobId       ClaimTableId = "JobId"
	ClaimTableClaimedAtId ClaimTableId = "ClaimedAt"

	DefaultTTL = 30 * 24 * time.Hour

	// DefaultLease bounds how long a claim without a job id blocks other
	// claimants. It covers the longest Lambda invocation.
	DefaultLease = 15 * time.Minute
)

type DynamoDBClientInterface interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type ClaimRecord struct {
	ClaimKey     string `dynamodbav:"ClaimKey"`
	ReportSource string `dynamodbav:"ReportSource"`
	CreationTime string `dynamodbav:"CreationTimestamp"`
	JobId        int64  `dynamodbav:"JobId,omitempty"`
	ClaimedAt    string `dynamodbav:"ClaimedAt"`
	TTL          int64  `dynamodbav:"TTL"`
}

// ClaimKey identifies one inventory of one report source.
func ClaimKey(reportSource string, creationTimestamp float64) string {
	return reportSource + "#" + strconv.FormatFloat(creationTimestamp, 'f', -1, 64)
}

type Table struct {
	client  DynamoDBClientInterface
	table   string
	ttl     time.Duration
	lease   time.Duration
	logger  zerolog.Logger
	nowFunc func() time.Time
}

func NewTable(client DynamoDBClientInterface, table string, logger zerolog.Logger) *Table {
	return &Table{
		client:  client,
		table:   table,
		ttl:     DefaultTTL,
		lease:   DefaultLease,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Claim takes the claim for an inventory. When the claim already exists it
// returns the job id recorded on it, which is zero while the first claimant
// is still creating the job. A claim that got no job id within the lease is
// taken over.
func (t *Table) Claim(ctx context.Context, reportSource string, creationTimestamp float64) (int64, bool, error) {
	now := t.nowFunc().UTC()
	record := ClaimRecord{
		ClaimKey:     ClaimKey(reportSource, creationTimestamp),
		ReportSource: reportSource,
		CreationTime: strconv.FormatFloat(creationTimestamp, 'f', -1, 64),
		ClaimedAt:    now.Format(time.RFC3339),
		TTL:          now.Add(t.ttl).Unix(),
	}

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return 0, false, fmt.Errorf("failed to marshal job claim: %w", err)
	}

	_, err = t.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(t.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#key) OR (attribute_not_exists(#job) AND #claimed < :expired)"),
		ExpressionAttributeNames: map[string]string{
			"#key":     string(ClaimTableKeyId),
			"#job":     string(ClaimTableJobId),
			"#claimed": string(ClaimTableClaimedAtId),
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expired": &types.AttributeValueMemberS{Value: now.Add(-t.lease).Format(time.RFC3339)},
		},
	})
	if err == nil {
		t.logger.Debug().Str("claimKey", record.ClaimKey).Msg("Claimed inventory")
		return 0, true, nil
	}

	var conditionFailed *types.ConditionalCheckFailedException
	if !errors.As(err, &conditionFailed) {
		return 0, false, fmt.Errorf("failed to claim %s: %w", record.ClaimKey, err)
	}

	existing, err := t.Get(ctx, record.ClaimKey)
	if err != nil {
		return 0, false, err
	}
	t.logger.Info().Str("claimKey", record.ClaimKey).Int64("jobId", existing.JobId).Msg("Inventory already claimed")
	return existing.JobId, false, nil
}

// Complete records the created job id on the claim.
func (t *Table) Complete(ctx context.Context, reportSource string, creationTimestamp float64, jobID int64) error {
	_, err := t.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(t.table),
		Key: map[string]types.AttributeValue{
			string(ClaimTableKeyId): &types.AttributeValueMemberS{Value: ClaimKey(reportSource, creationTimestamp)},
		},
		UpdateExpression: aws.String("SET #job = :job"),
		ExpressionAttributeNames: map[string]string{
			"#job": string(ClaimTableJobId),
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":job": &types.AttributeValueMemberN{Value: strconv.FormatInt(jobID, 10)},
		},
	})
	return err
}

// Release deletes a claim that has no job id so the inventory can be claimed
// again. A completed claim is left in place.
func (t *Table) Release(ctx context.Context, reportSource string, creationTimestamp float64) error {
	key := ClaimKey(reportSource, creationTimestamp)
	_, err := t.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(t.table),
		Key: map[string]types.AttributeValue{
			string(ClaimTableKeyId): &types.AttributeValueMemberS{Value: key},
		},
		ConditionExpression: aws.String("attribute_not_exists(#job)"),
		ExpressionAttributeNames: map[string]string{
			"#job": string(ClaimTableJobId),
		},
	})
	var conditionFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionFailed) {
		t.logger.Warn().Str("claimKey", key).Msg("Claim already has a job, not releasing it")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to release %s: %w", key, err)
	}
	t.logger.Debug().Str("claimKey", key).Msg("Released inventory claim")
	return nil
}

func (t *Table) Get(ctx context.Context, key string) (ClaimRecord, error) {
	result, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(t.table),
		ConsistentRead: aws.Bool(true),
		Key: map[string]types.AttributeValue{
			string(ClaimTableKeyId): &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return ClaimRecord{}, err
	}
	if result.Item == nil {
		return ClaimRecord{}, ErrorClaimNotFound(key)
	}

	var record ClaimRecord
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return ClaimRecord{}, ErrorUnmarshallingClaim(err)
	}
	return record, nil
}
