package domain

// Category is the routing classification of a support request.
type Category string

const (
	CategoryKnowledge  Category = "knowledge"
	CategoryAction     Category = "action"
	CategoryEscalation Category = "escalation"
)

// RoutingDecision is the transient output of the classifier. It is consumed
// immediately by the orchestrator and never persisted.
type RoutingDecision struct {
	Category Category
	Reason   string
}

// ConversationState is the working state threaded through one orchestration
// run. It is owned exclusively by the in-flight request and discarded on
// completion. Messages is never empty when an adapter is invoked: at minimum
// the triggering user turn is present.
type ConversationState struct {
	Messages        []ChatMessage
	CurrentCategory Category
	UserID          string
	Preferences     map[string]string
	TicketID        string
	AccountID       string
}

// LatestUserMessage returns the content of the most recent user message, or
// an empty string if none exists.
func (s *ConversationState) LatestUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}
