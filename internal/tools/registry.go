package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"helpdesk-agent/internal/domain"
)

// Registry dispatches named tool calls from the response capability to the
// typed Store methods. Results are JSON-encoded for the model; expected
// absence comes back as a structured {"success":false,...} payload, never as
// an error.
type Registry struct {
	store *Store
}

// NewRegistry creates a Registry over the given Store.
func NewRegistry(store *Store) (*Registry, error) {
	if store == nil {
		return nil, errors.New("tools: store must not be nil")
	}
	return &Registry{store: store}, nil
}

// KnowledgeDefinitions lists the tools available to the knowledge adapter.
func (r *Registry) KnowledgeDefinitions() []domain.ToolDefinition {
	return []domain.ToolDefinition{
		{
			Name:        "search_knowledge",
			Description: "Search the knowledge base for articles about services, accounts and policies.",
			Parameters: objectSchema(map[string]any{
				"query": stringProperty("Search term for title, content or tags"),
				"limit": integerProperty("Maximum number of results (default 3)"),
			}, "query"),
		},
	}
}

// ActionDefinitions lists the tools available to the action and escalation
// adapters.
func (r *Registry) ActionDefinitions() []domain.ToolDefinition {
	return []domain.ToolDefinition{
		{
			Name:        "search_experiences",
			Description: "Search for bookable experiences by title or description.",
			Parameters: objectSchema(map[string]any{
				"query": stringProperty("Search term; empty lists all experiences"),
				"limit": integerProperty("Maximum number of results (default 10)"),
			}),
		},
		{
			Name:        "get_user_info",
			Description: "Look up an external user record including subscription details.",
			Parameters: objectSchema(map[string]any{
				"user_id": stringProperty("The user ID to look up"),
			}, "user_id"),
		},
		{
			Name:        "check_reservation_availability",
			Description: "Check whether an experience has open slots.",
			Parameters: objectSchema(map[string]any{
				"experience_id": stringProperty("The experience ID to check"),
			}, "experience_id"),
		},
		{
			Name:        "create_reservation",
			Description: "Create a reservation for a user on an experience.",
			Parameters: objectSchema(map[string]any{
				"user_id":       stringProperty("The user making the reservation"),
				"experience_id": stringProperty("The experience to reserve"),
			}, "user_id", "experience_id"),
		},
		{
			Name:        "get_ticket_info",
			Description: "Fetch a support ticket with its message history.",
			Parameters: objectSchema(map[string]any{
				"ticket_id": stringProperty("The ticket ID to look up"),
			}, "ticket_id"),
		},
		{
			Name:        "create_ticket_message",
			Description: "Append a message to an existing support ticket.",
			Parameters: objectSchema(map[string]any{
				"ticket_id": stringProperty("The ticket to add the message to"),
				"role":      stringEnumProperty("Message author role", "user", "agent", "ai", "system"),
				"content":   stringProperty("Message content"),
			}, "ticket_id", "role", "content"),
		},
		{
			Name:        "update_ticket_status",
			Description: "Update a ticket's status and optionally its tags.",
			Parameters: objectSchema(map[string]any{
				"ticket_id": stringProperty("The ticket to update"),
				"status":    stringProperty("New status, e.g. open, escalated, resolved, closed"),
				"tags":      stringProperty("Optional comma-separated tags"),
			}, "ticket_id", "status"),
		},
		{
			Name:        "get_user_tickets",
			Description: "List all tickets for a user within an account.",
			Parameters: objectSchema(map[string]any{
				"external_user_id": stringProperty("The external user ID"),
			}, "external_user_id"),
		},
	}
}

// Dispatch executes a named tool with JSON arguments and returns the
// JSON-encoded result. Unknown tool names are an error; so are malformed
// arguments. AccountID scopes account-bound tools (knowledge search, ticket
// listing).
func (r *Registry) Dispatch(ctx context.Context, accountID, name string, args json.RawMessage) (string, error) {
	switch name {
	case "search_knowledge":
		var in struct {
			Query string `json:"query"`
			Limit int    `json:"limit"`
		}
		if err := unmarshalArgs(args, &in); err != nil {
			return "", err
		}
		result, err := r.store.SearchKnowledge(ctx, accountID, in.Query, in.Limit)
		if err != nil {
			return "", err
		}
		return encode(result)

	case "search_experiences":
		var in struct {
			Query string `json:"query"`
			Limit int    `json:"limit"`
		}
		if err := unmarshalArgs(args, &in); err != nil {
			return "", err
		}
		experiences, err := r.store.SearchExperiences(ctx, in.Query, in.Limit)
		if err != nil {
			return "", err
		}
		return encode(experiences)

	case "get_user_info":
		var in struct {
			UserID string `json:"user_id"`
		}
		if err := unmarshalArgs(args, &in); err != nil {
			return "", err
		}
		user, err := r.store.GetUserInfo(ctx, in.UserID)
		if errors.Is(err, ErrNotFound) {
			return encode(map[string]any{"success": false, "reason": "User not found"})
		}
		if err != nil {
			return "", err
		}
		return encode(user)

	case "check_reservation_availability":
		var in struct {
			ExperienceID string `json:"experience_id"`
		}
		if err := unmarshalArgs(args, &in); err != nil {
			return "", err
		}
		availability, err := r.store.CheckAvailability(ctx, in.ExperienceID)
		if err != nil {
			return "", err
		}
		return encode(availability)

	case "create_reservation":
		var in struct {
			UserID       string `json:"user_id"`
			ExperienceID string `json:"experience_id"`
		}
		if err := unmarshalArgs(args, &in); err != nil {
			return "", err
		}
		result, err := r.store.CreateReservation(ctx, in.UserID, in.ExperienceID)
		if err != nil {
			return "", err
		}
		return encode(result)

	case "get_ticket_info":
		var in struct {
			TicketID string `json:"ticket_id"`
		}
		if err := unmarshalArgs(args, &in); err != nil {
			return "", err
		}
		ticket, err := r.store.GetTicketInfo(ctx, in.TicketID)
		if errors.Is(err, ErrNotFound) {
			return encode(map[string]any{"success": false, "reason": "Ticket not found"})
		}
		if err != nil {
			return "", err
		}
		return encode(ticket)

	case "create_ticket_message":
		var in struct {
			TicketID string `json:"ticket_id"`
			Role     string `json:"role"`
			Content  string `json:"content"`
		}
		if err := unmarshalArgs(args, &in); err != nil {
			return "", err
		}
		result, err := r.store.CreateTicketMessage(ctx, in.TicketID, in.Role, in.Content)
		if err != nil {
			return "", err
		}
		return encode(result)

	case "update_ticket_status":
		var in struct {
			TicketID string `json:"ticket_id"`
			Status   string `json:"status"`
			Tags     string `json:"tags"`
		}
		if err := unmarshalArgs(args, &in); err != nil {
			return "", err
		}
		result, err := r.store.UpdateTicketStatus(ctx, in.TicketID, in.Status, in.Tags)
		if err != nil {
			return "", err
		}
		return encode(result)

	case "get_user_tickets":
		var in struct {
			ExternalUserID string `json:"external_user_id"`
		}
		if err := unmarshalArgs(args, &in); err != nil {
			return "", err
		}
		tickets, err := r.store.GetUserTickets(ctx, accountID, in.ExternalUserID)
		if err != nil {
			return "", err
		}
		return encode(tickets)

	default:
		return "", fmt.Errorf("tools: unknown tool %q", name)
	}
}

func unmarshalArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("tools: decode arguments: %w", err)
	}
	return nil
}

func encode(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("tools: encode result: %w", err)
	}
	return string(raw), nil
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProperty(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func stringEnumProperty(description string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": description, "enum": values}
}

func integerProperty(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}
