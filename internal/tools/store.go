package tools

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
	"github.com/google/uuid"

	"helpdesk-agent/internal/domain"
)

// ErrNotFound marks expected absence of a record (unknown user, ticket or
// experience). Callers treat it as a typed result, not a failure.
var ErrNotFound = errors.New("tools: not found")

const (
	pkExperiences = "EXPERIENCE"

	skProfile    = "PROFILE"
	skTicketMeta = "META"

	skPrefixExperience = "EXP#"
	skPrefixRes        = "RES#"
	skPrefixMsg        = "MSG#"
	skPrefixArticle    = "ART#"
	skPrefixTicketRef  = "TICKET#"

	statusReserved = "reserved"
)

// dynamodbAPI is the minimal DynamoDB interface required by Store.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Store wraps the single DynamoDB table backing the support data tools:
// experiences, reservations, user records, tickets and knowledge articles.
type Store struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
	newID     func() string
}

// NewStore creates a Store over the given table.
func NewStore(api dynamodbAPI, tableName string) (*Store, error) {
	if api == nil {
		return nil, errors.New("tools: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("tools: table name must not be empty")
	}
	return &Store{api: api, tableName: tableName, now: time.Now, newID: uuid.NewString}, nil
}

func userPK(userID string) string       { return "USER#" + userID }
func ticketPK(ticketID string) string   { return "TICKET#" + ticketID }
func resPK(experienceID string) string  { return "RES#" + experienceID }
func kbPK(accountID string) string      { return "KB#" + accountID }
func userTicketsPK(accountID, externalUserID string) string {
	return "USERTICKETS#" + accountID + "#" + externalUserID
}

// SearchExperiences returns up to limit experiences whose title or
// description contains the query (case-insensitive). An empty query lists
// experiences unfiltered.
func (s *Store) SearchExperiences(ctx context.Context, query string, limit int) ([]domain.Experience, error) {
	if limit <= 0 {
		limit = 10
	}
	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pkExperiences},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tools: SearchExperiences query: %w", err)
	}

	needle := strings.ToLower(strings.TrimSpace(query))
	experiences := make([]domain.Experience, 0, limit)
	for _, item := range out.Items {
		exp, err := itemToExperience(item)
		if err != nil {
			return nil, fmt.Errorf("tools: SearchExperiences unmarshal: %w", err)
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(exp.Title), needle) &&
			!strings.Contains(strings.ToLower(exp.Description), needle) {
			continue
		}
		experiences = append(experiences, exp)
		if len(experiences) >= limit {
			break
		}
	}
	return experiences, nil
}

// GetUserInfo returns the external user record, or ErrNotFound.
func (s *Store) GetUserInfo(ctx context.Context, userID string) (*domain.UserRecord, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: skProfile},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tools: GetUserInfo: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	user, err := itemToUser(out.Item)
	if err != nil {
		return nil, fmt.Errorf("tools: GetUserInfo unmarshal: %w", err)
	}
	return user, nil
}

// CheckAvailability reports slot usage for an experience. An unknown
// experience yields Available=false with a reason rather than an error.
func (s *Store) CheckAvailability(ctx context.Context, experienceID string) (domain.Availability, error) {
	exp, err := s.getExperience(ctx, experienceID)
	if errors.Is(err, ErrNotFound) {
		return domain.Availability{Available: false, Reason: "Experience not found"}, nil
	}
	if err != nil {
		return domain.Availability{}, err
	}

	taken, err := s.countReservations(ctx, experienceID)
	if err != nil {
		return domain.Availability{}, err
	}

	return domain.Availability{
		Available:      taken < exp.SlotsAvailable,
		SlotsAvailable: exp.SlotsAvailable,
		SlotsTaken:     taken,
	}, nil
}

// CreateReservation books an experience for a user. Expected failures
// (unknown user or experience, fully booked) are structured results.
func (s *Store) CreateReservation(ctx context.Context, userID, experienceID string) (domain.ReservationResult, error) {
	if _, err := s.GetUserInfo(ctx, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.ReservationResult{Success: false, Reason: "User not found"}, nil
		}
		return domain.ReservationResult{}, err
	}

	availability, err := s.CheckAvailability(ctx, experienceID)
	if err != nil {
		return domain.ReservationResult{}, err
	}
	if availability.Reason == "Experience not found" {
		return domain.ReservationResult{Success: false, Reason: "Experience not found"}, nil
	}
	if !availability.Available {
		return domain.ReservationResult{Success: false, Reason: "Experience is fully booked"}, nil
	}

	reservationID := shortID(s.newID())
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: resPK(experienceID)},
			"SK":        &types.AttributeValueMemberS{Value: skPrefixRes + reservationID},
			"userId":    &types.AttributeValueMemberS{Value: userID},
			"expId":     &types.AttributeValueMemberS{Value: experienceID},
			"status":    &types.AttributeValueMemberS{Value: statusReserved},
			"createdAt": &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return domain.ReservationResult{}, fmt.Errorf("tools: CreateReservation: %w", err)
	}

	return domain.ReservationResult{Success: true, ReservationID: reservationID}, nil
}

// GetTicketInfo returns a ticket with its message history, or ErrNotFound.
func (s *Store) GetTicketInfo(ctx context.Context, ticketID string) (*domain.TicketRecord, error) {
	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: ticketPK(ticketID)},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("tools: GetTicketInfo query: %w", err)
	}

	var ticket *domain.TicketRecord
	var messages []domain.TicketMessage
	for _, item := range out.Items {
		sk, err := strAttr(item, "SK")
		if err != nil {
			return nil, fmt.Errorf("tools: GetTicketInfo unmarshal: %w", err)
		}
		switch {
		case sk == skTicketMeta:
			t, err := itemToTicket(item, ticketID)
			if err != nil {
				return nil, fmt.Errorf("tools: GetTicketInfo unmarshal: %w", err)
			}
			ticket = t
		case strings.HasPrefix(sk, skPrefixMsg):
			msg, err := itemToTicketMessage(item)
			if err != nil {
				return nil, fmt.Errorf("tools: GetTicketInfo unmarshal: %w", err)
			}
			messages = append(messages, msg)
		}
	}
	if ticket == nil {
		return nil, ErrNotFound
	}
	ticket.Messages = messages
	return ticket, nil
}

// CreateTicketMessage appends a message to an existing ticket. Unknown
// tickets and invalid roles are structured failures.
func (s *Store) CreateTicketMessage(ctx context.Context, ticketID, role, content string) (domain.MessageResult, error) {
	switch role {
	case "user", "agent", "ai", "system":
	default:
		return domain.MessageResult{Success: false, Reason: "Invalid role. Must be one of: user, agent, ai, system"}, nil
	}

	if !s.ticketExists(ctx, ticketID) {
		return domain.MessageResult{Success: false, Reason: "Ticket not found"}, nil
	}

	messageID := s.newID()
	createdAt := s.now().UTC()
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: ticketPK(ticketID)},
			"SK":        &types.AttributeValueMemberS{Value: skPrefixMsg + createdAt.Format(time.RFC3339Nano)},
			"messageId": &types.AttributeValueMemberS{Value: messageID},
			"role":      &types.AttributeValueMemberS{Value: role},
			"content":   &types.AttributeValueMemberS{Value: content},
			"createdAt": &types.AttributeValueMemberS{Value: createdAt.Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return domain.MessageResult{}, fmt.Errorf("tools: CreateTicketMessage: %w", err)
	}

	return domain.MessageResult{Success: true, MessageID: messageID}, nil
}

// UpdateTicketStatus sets a ticket's status and, when non-empty, its tags.
func (s *Store) UpdateTicketStatus(ctx context.Context, ticketID, status, tags string) (domain.UpdateResult, error) {
	if !s.ticketExists(ctx, ticketID) {
		return domain.UpdateResult{Success: false, Reason: "Ticket not found"}, nil
	}

	update := "SET #status = :status, updatedAt = :updatedAt"
	names := map[string]string{"#status": "status"}
	values := map[string]types.AttributeValue{
		":status":    &types.AttributeValueMemberS{Value: status},
		":updatedAt": &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339)},
	}
	if tags != "" {
		update += ", tags = :tags"
		values[":tags"] = &types.AttributeValueMemberS{Value: tags}
	}

	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: ticketPK(ticketID)},
			"SK": &types.AttributeValueMemberS{Value: skTicketMeta},
		},
		UpdateExpression:          aws.String(update),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return domain.UpdateResult{}, fmt.Errorf("tools: UpdateTicketStatus: %w", err)
	}

	return domain.UpdateResult{Success: true}, nil
}

// GetUserTickets lists every ticket belonging to a user within an account.
// Unknown users simply have no tickets.
func (s *Store) GetUserTickets(ctx context.Context, accountID, externalUserID string) ([]domain.TicketSummary, error) {
	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userTicketsPK(accountID, externalUserID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixTicketRef},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tools: GetUserTickets query: %w", err)
	}

	summaries := make([]domain.TicketSummary, 0, len(out.Items))
	for _, item := range out.Items {
		sk, err := strAttr(item, "SK")
		if err != nil {
			return nil, fmt.Errorf("tools: GetUserTickets unmarshal: %w", err)
		}
		ticketID := strings.TrimPrefix(sk, skPrefixTicketRef)
		ticket, err := s.GetTicketInfo(ctx, ticketID)
		if errors.Is(err, ErrNotFound) {
			continue // dangling reference
		}
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, domain.TicketSummary{
			TicketID:     ticket.TicketID,
			Channel:      ticket.Channel,
			Status:       ticket.Status,
			Tags:         ticket.Tags,
			CreatedAt:    ticket.CreatedAt,
			MessageCount: len(ticket.Messages),
		})
	}
	return summaries, nil
}

// listArticles loads every knowledge article for an account. Scoring happens
// in SearchKnowledge.
func (s *Store) listArticles(ctx context.Context, accountID string) ([]domain.KnowledgeArticle, error) {
	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: kbPK(accountID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixArticle},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tools: listArticles query: %w", err)
	}

	articles := make([]domain.KnowledgeArticle, 0, len(out.Items))
	for _, item := range out.Items {
		article, err := itemToArticle(item)
		if err != nil {
			return nil, fmt.Errorf("tools: listArticles unmarshal: %w", err)
		}
		articles = append(articles, article)
	}
	return articles, nil
}

func (s *Store) getExperience(ctx context.Context, experienceID string) (*domain.Experience, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pkExperiences},
			"SK": &types.AttributeValueMemberS{Value: skPrefixExperience + experienceID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tools: getExperience: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	exp, err := itemToExperience(out.Item)
	if err != nil {
		return nil, fmt.Errorf("tools: getExperience unmarshal: %w", err)
	}
	return &exp, nil
}

func (s *Store) countReservations(ctx context.Context, experienceID string) (int, error) {
	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		FilterExpression:       aws.String("#status = :status"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: resPK(experienceID)},
			":status": &types.AttributeValueMemberS{Value: statusReserved},
		},
		Select: types.SelectCount,
	})
	if err != nil {
		return 0, fmt.Errorf("tools: countReservations: %w", err)
	}
	return int(out.Count), nil
}

func (s *Store) ticketExists(ctx context.Context, ticketID string) bool {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: ticketPK(ticketID)},
			"SK": &types.AttributeValueMemberS{Value: skTicketMeta},
		},
	})
	return err == nil && out != nil && len(out.Item) > 0
}

// shortID keeps reservation IDs human-quotable.
func shortID(id string) string {
	if len(id) > 6 {
		return id[:6]
	}
	return id
}

func itemToExperience(item map[string]types.AttributeValue) (domain.Experience, error) {
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.Experience{}, err
	}
	title, err := strAttr(item, "title")
	if err != nil {
		return domain.Experience{}, err
	}
	description, _ := strAttr(item, "description") // allow empty
	location, _ := strAttr(item, "location")       // allow empty
	when, _ := strAttr(item, "when")               // allow empty
	slots, err := intAttr(item, "slotsAvailable")
	if err != nil {
		return domain.Experience{}, err
	}
	premium := boolAttr(item, "isPremium")

	return domain.Experience{
		ExperienceID:   strings.TrimPrefix(sk, skPrefixExperience),
		Title:          title,
		Description:    description,
		Location:       location,
		When:           when,
		SlotsAvailable: slots,
		IsPremium:      premium,
	}, nil
}

func itemToUser(item map[string]types.AttributeValue) (*domain.UserRecord, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return nil, err
	}
	fullName, err := strAttr(item, "fullName")
	if err != nil {
		return nil, err
	}
	email, _ := strAttr(item, "email") // allow empty

	user := &domain.UserRecord{
		UserID:    strings.TrimPrefix(pk, "USER#"),
		FullName:  fullName,
		Email:     email,
		IsBlocked: boolAttr(item, "isBlocked"),
	}
	if subID, err := strAttr(item, "subscriptionId"); err == nil && subID != "" {
		quota, _ := intAttr(item, "subscriptionQuota")
		subStatus, _ := strAttr(item, "subscriptionStatus")
		subTier, _ := strAttr(item, "subscriptionTier")
		user.Subscription = &domain.Subscription{
			SubscriptionID: subID,
			Status:         subStatus,
			Tier:           subTier,
			MonthlyQuota:   quota,
		}
	}
	return user, nil
}

func itemToTicket(item map[string]types.AttributeValue, ticketID string) (*domain.TicketRecord, error) {
	accountID, _ := strAttr(item, "accountId")
	userID, _ := strAttr(item, "userId")
	channel, _ := strAttr(item, "channel")
	status, _ := strAttr(item, "status")
	tags, _ := strAttr(item, "tags")
	createdAt, _ := strAttr(item, "createdAt")
	return &domain.TicketRecord{
		TicketID:  ticketID,
		AccountID: accountID,
		UserID:    userID,
		Channel:   channel,
		Status:    status,
		Tags:      tags,
		CreatedAt: createdAt,
	}, nil
}

func itemToTicketMessage(item map[string]types.AttributeValue) (domain.TicketMessage, error) {
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.TicketMessage{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.TicketMessage{}, err
	}
	messageID, _ := strAttr(item, "messageId")
	createdAt, _ := strAttr(item, "createdAt")
	return domain.TicketMessage{
		MessageID: messageID,
		Role:      role,
		Content:   content,
		CreatedAt: createdAt,
	}, nil
}

func itemToArticle(item map[string]types.AttributeValue) (domain.KnowledgeArticle, error) {
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.KnowledgeArticle{}, err
	}
	title, err := strAttr(item, "title")
	if err != nil {
		return domain.KnowledgeArticle{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.KnowledgeArticle{}, err
	}
	tags, _ := strAttr(item, "tags") // allow empty
	return domain.KnowledgeArticle{
		ArticleID: strings.TrimPrefix(sk, skPrefixArticle),
		Title:     title,
		Content:   content,
		Tags:      tags,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("tools: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("tools: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("tools: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("tools: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("tools: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func boolAttr(item map[string]types.AttributeValue, key string) bool {
	v, ok := item[key]
	if !ok {
		return false
	}
	b, ok := v.(*types.AttributeValueMemberBOOL)
	if !ok {
		return false
	}
	return b.Value
}
