package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"schema-mapper/internal/domain"
)

const (
	skPrefixStage = "STAGE#"
	skMeta        = "META#"
	ttlDuration   = 30 * 24 * time.Hour // 30-day TTL
)

// ErrNotFound is returned when a run has no artifact for the requested stage.
var ErrNotFound = errors.New("repository: artifact not found")

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client stores stage artifacts in a single DynamoDB table. Each run is one
// partition holding a META# record and one STAGE# item per produced stage.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// runPK returns the DynamoDB partition key for a run.
func runPK(runID string) string {
	return "RUN#" + runID
}

func stageSK(stage domain.Stage) string {
	return skPrefixStage + string(stage)
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// SaveArtifact writes the stage item and bumps the run metadata in one
// transaction. A later save for the same stage replaces the earlier one.
func (c *Client) SaveArtifact(ctx context.Context, a domain.Artifact) error {
	if strings.TrimSpace(a.RunID) == "" {
		return errors.New("repository: SaveArtifact: run id is required")
	}
	if !a.Stage.Valid() {
		return fmt.Errorf("repository: SaveArtifact: unknown stage %q", a.Stage)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = c.now()
	}
	ttl := c.ttlValue()

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName: aws.String(c.tableName),
					Item:      artifactItem(a, ttl),
				},
			},
			{
				Update: &types.Update{
					TableName: aws.String(c.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: runPK(a.RunID)},
						"SK": &types.AttributeValueMemberS{Value: skMeta},
					},
					UpdateExpression: aws.String("ADD stages :stage SET runId = :run, lastActivity = :ts, #ttl = :ttl"),
					ExpressionAttributeNames: map[string]string{
						"#ttl": "ttl",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":stage": &types.AttributeValueMemberSS{Value: []string{string(a.Stage)}},
						":run":   &types.AttributeValueMemberS{Value: a.RunID},
						":ts":    &types.AttributeValueMemberS{Value: a.CreatedAt.UTC().Format(time.RFC3339)},
						":ttl":   &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveArtifact: %w", err)
	}
	return nil
}

// GetArtifact reads one stage artifact of a run.
func (c *Client) GetArtifact(ctx context.Context, runID string, stage domain.Stage) (domain.Artifact, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: runPK(runID)},
			"SK": &types.AttributeValueMemberS{Value: stageSK(stage)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("repository: GetArtifact get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Artifact{}, ErrNotFound
	}
	a, err := itemToArtifact(out.Item)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("repository: GetArtifact unmarshal: %w", err)
	}
	return a, nil
}

// ListArtifacts returns every stage artifact of a run ordered by stage key.
func (c *Client) ListArtifacts(ctx context.Context, runID string) ([]domain.Artifact, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: runPK(runID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixStage},
		},
	}

	var artifacts []domain.Artifact
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: ListArtifacts query: %w", err)
		}
		for _, item := range out.Items {
			a, err := itemToArtifact(item)
			if err != nil {
				return nil, fmt.Errorf("repository: ListArtifacts unmarshal: %w", err)
			}
			artifacts = append(artifacts, a)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return artifacts, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func artifactItem(a domain.Artifact, ttl int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":          &types.AttributeValueMemberS{Value: runPK(a.RunID)},
		"SK":          &types.AttributeValueMemberS{Value: stageSK(a.Stage)},
		"runId":       &types.AttributeValueMemberS{Value: a.RunID},
		"stage":       &types.AttributeValueMemberS{Value: string(a.Stage)},
		"contentType": &types.AttributeValueMemberS{Value: a.ContentType},
		"body":        &types.AttributeValueMemberB{Value: a.Body},
		"createdAt":   &types.AttributeValueMemberS{Value: a.CreatedAt.UTC().Format(time.RFC3339Nano)},
		"ttl":         &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
}

// itemToArtifact converts a DynamoDB attribute map to an Artifact.
func itemToArtifact(item map[string]types.AttributeValue) (domain.Artifact, error) {
	runID, err := strAttr(item, "runId")
	if err != nil {
		return domain.Artifact{}, err
	}
	stage, err := strAttr(item, "stage")
	if err != nil {
		return domain.Artifact{}, err
	}
	body, err := binaryAttr(item, "body")
	if err != nil {
		return domain.Artifact{}, err
	}
	contentType, _ := strAttr(item, "contentType") // allow empty

	var created time.Time
	if ts, err := strAttr(item, "createdAt"); err == nil {
		created, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return domain.Artifact{}, fmt.Errorf("repository: parse attribute %q: %w", "createdAt", err)
		}
	}

	return domain.Artifact{
		RunID:       runID,
		Stage:       domain.Stage(stage),
		ContentType: contentType,
		Body:        body,
		CreatedAt:   created,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func binaryAttr(item map[string]types.AttributeValue, key string) ([]byte, error) {
	v, ok := item[key]
	if !ok {
		return nil, fmt.Errorf("repository: missing attribute %q", key)
	}
	b, ok := v.(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("repository: attribute %q is not binary", key)
	}
	return b.Value, nil
}
