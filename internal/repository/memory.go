package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"helpdesk-agent/internal/domain"
)

const (
	skPrefixTurn = "TURN#"
	skPrefixPref = "KEY#"
	ttlDuration  = 90 * 24 * time.Hour // 90-day retention
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// MemoryStore defines the conversation memory operations consumed by the
// orchestrator and adapters.
type MemoryStore interface {
	AppendTurn(ctx context.Context, userID, ticketID, role, content string) (string, error)
	GetTurns(ctx context.Context, userID, ticketID string, limit int) ([]domain.Turn, error)
	SetPreference(ctx context.Context, userID, key, value string) error
	GetPreference(ctx context.Context, userID, key string) (string, bool, error)
	GetAllPreferences(ctx context.Context, userID string) (map[string]string, error)
}

// Client wraps a DynamoDB table holding conversation turns and user
// preferences.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new memory Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// convPK returns the partition key for a (user, ticket) conversation.
func convPK(userID, ticketID string) string {
	return "CONV#" + userID + "#" + ticketID
}

// prefPK returns the partition key for a user's preferences.
func prefPK(userID string) string {
	return "PREF#" + userID
}

// turnSK returns the sort key for a turn at the given time. The fixed-width
// fractional seconds keep lexicographic order equal to timestamp order
// (RFC3339Nano trims trailing zeros and would not).
func turnSK(ts time.Time) string {
	return skPrefixTurn + ts.UTC().Format("2006-01-02T15:04:05.000000000Z")
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// AppendTurn persists a single conversation turn. The conditional put makes
// the write atomic: a turn is either fully written or not written at all.
func (c *Client) AppendTurn(ctx context.Context, userID, ticketID, role, content string) (string, error) {
	if userID == "" || ticketID == "" {
		return "", errors.New("repository: AppendTurn: userID and ticketID are required")
	}
	if role != domain.RoleUser && role != domain.RoleAssistant {
		return "", fmt.Errorf("repository: AppendTurn: invalid role %q", role)
	}

	ts := c.now().UTC()
	turn := domain.Turn{
		PK:        convPK(userID, ticketID),
		SK:        turnSK(ts),
		ID:        uuid.NewString(),
		UserID:    userID,
		TicketID:  ticketID,
		Role:      role,
		Content:   content,
		Timestamp: ts,
		TTL:       c.ttlValue(),
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                turnItem(turn),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return "", fmt.Errorf("repository: AppendTurn: %w", err)
	}
	return turn.ID, nil
}

// GetTurns returns up to limit most recent turns for a conversation, oldest
// first.
func (c *Client) GetTurns(ctx context.Context, userID, ticketID string, limit int) ([]domain.Turn, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(userID, ticketID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
		},
		// Read newest first so LIMIT favors the most recent context.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: GetTurns query: %w", err)
	}

	turns := make([]domain.Turn, 0, len(out.Items))
	for _, item := range out.Items {
		turn, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("repository: GetTurns unmarshal: %w", err)
		}
		turns = append(turns, turn)
	}
	// Reverse to chronological order before returning to context assembly.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// SetPreference writes or replaces a user preference. Idempotent for
// identical inputs; a write strictly supersedes the prior value for the key.
func (c *Client) SetPreference(ctx context.Context, userID, key, value string) error {
	if userID == "" || key == "" {
		return errors.New("repository: SetPreference: userID and key are required")
	}

	pref := domain.Preference{
		PK:        prefPK(userID),
		SK:        skPrefixPref + key,
		UserID:    userID,
		Key:       key,
		Value:     value,
		UpdatedAt: c.now().UTC(),
		TTL:       c.ttlValue(),
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      preferenceItem(pref),
	})
	if err != nil {
		return fmt.Errorf("repository: SetPreference: %w", err)
	}
	return nil
}

// GetPreference returns the value for a single preference key. The second
// return is false when the key is absent.
func (c *Client) GetPreference(ctx context.Context, userID, key string) (string, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: prefPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: skPrefixPref + key},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", false, fmt.Errorf("repository: GetPreference: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return "", false, nil
	}
	value, err := strAttr(out.Item, "value")
	if err != nil {
		return "", false, fmt.Errorf("repository: GetPreference decode: %w", err)
	}
	return value, true, nil
}

// GetAllPreferences returns every preference for a user as a key→value map.
func (c *Client) GetAllPreferences(ctx context.Context, userID string) (map[string]string, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: prefPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixPref},
		},
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: GetAllPreferences query: %w", err)
	}

	prefs := make(map[string]string, len(out.Items))
	for _, item := range out.Items {
		key, err := strAttr(item, "key")
		if err != nil {
			return nil, fmt.Errorf("repository: GetAllPreferences unmarshal: %w", err)
		}
		value, err := strAttr(item, "value")
		if err != nil {
			return nil, fmt.Errorf("repository: GetAllPreferences unmarshal: %w", err)
		}
		prefs[key] = value
	}
	return prefs, nil
}

func turnItem(turn domain.Turn) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":       &types.AttributeValueMemberS{Value: turn.PK},
		"SK":       &types.AttributeValueMemberS{Value: turn.SK},
		"id":       &types.AttributeValueMemberS{Value: turn.ID},
		"userId":   &types.AttributeValueMemberS{Value: turn.UserID},
		"ticketId": &types.AttributeValueMemberS{Value: turn.TicketID},
		"role":     &types.AttributeValueMemberS{Value: turn.Role},
		"content":  &types.AttributeValueMemberS{Value: turn.Content},
		"ts":       &types.AttributeValueMemberS{Value: turn.Timestamp.Format(time.RFC3339Nano)},
		"ttl":      &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", turn.TTL)},
	}
}

func preferenceItem(pref domain.Preference) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: pref.PK},
		"SK":        &types.AttributeValueMemberS{Value: pref.SK},
		"userId":    &types.AttributeValueMemberS{Value: pref.UserID},
		"key":       &types.AttributeValueMemberS{Value: pref.Key},
		"value":     &types.AttributeValueMemberS{Value: pref.Value},
		"updatedAt": &types.AttributeValueMemberS{Value: pref.UpdatedAt.Format(time.RFC3339)},
		"ttl":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", pref.TTL)},
	}
}

// itemToTurn converts a DynamoDB attribute map to a Turn.
func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.Turn{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.Turn{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Turn{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Turn{}, err
	}
	id, _ := strAttr(item, "id")             // allow empty
	userID, _ := strAttr(item, "userId")     // allow empty
	ticketID, _ := strAttr(item, "ticketId") // allow empty

	var ts time.Time
	if raw, err := strAttr(item, "ts"); err == nil {
		ts, _ = time.Parse(time.RFC3339Nano, raw)
	}

	return domain.Turn{
		PK:        pk,
		SK:        sk,
		ID:        id,
		UserID:    userID,
		TicketID:  ticketID,
		Role:      role,
		Content:   content,
		Timestamp: ts,
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
