package domain

// Experience is a bookable event in the external catalog.
type Experience struct {
	ExperienceID   string `json:"experience_id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Location       string `json:"location"`
	When           string `json:"when"`
	SlotsAvailable int    `json:"slots_available"`
	IsPremium      bool   `json:"is_premium"`
}

// UserRecord is an external account holder.
type UserRecord struct {
	UserID       string        `json:"user_id"`
	FullName     string        `json:"full_name"`
	Email        string        `json:"email"`
	IsBlocked    bool          `json:"is_blocked"`
	Subscription *Subscription `json:"subscription,omitempty"`
}

// Subscription describes a user's plan.
type Subscription struct {
	SubscriptionID string `json:"subscription_id"`
	Status         string `json:"status"`
	Tier           string `json:"tier"`
	MonthlyQuota   int    `json:"monthly_quota"`
}

// Availability reports slot usage for an experience.
type Availability struct {
	Available      bool   `json:"available"`
	SlotsAvailable int    `json:"slots_available"`
	SlotsTaken     int    `json:"slots_taken"`
	Reason         string `json:"reason,omitempty"`
}

// ReservationResult is the structured outcome of a reservation attempt.
// Expected failures (unknown user, fully booked) set Success=false with a
// Reason instead of surfacing an error.
type ReservationResult struct {
	Success       bool   `json:"success"`
	ReservationID string `json:"reservation_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// TicketRecord is a support ticket with its message history.
type TicketRecord struct {
	TicketID  string          `json:"ticket_id"`
	AccountID string          `json:"account_id"`
	UserID    string          `json:"user_id"`
	Channel   string          `json:"channel"`
	Status    string          `json:"status"`
	Tags      string          `json:"tags"`
	CreatedAt string          `json:"created_at"`
	Messages  []TicketMessage `json:"messages"`
}

// TicketMessage is one entry in a ticket's history. Role is one of
// user, agent, ai, system.
type TicketMessage struct {
	MessageID string `json:"message_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// TicketSummary is the compact ticket listing returned per user.
type TicketSummary struct {
	TicketID     string `json:"ticket_id"`
	Channel      string `json:"channel"`
	Status       string `json:"status"`
	Tags         string `json:"tags"`
	CreatedAt    string `json:"created_at"`
	MessageCount int    `json:"message_count"`
}

// MessageResult is the structured outcome of appending a ticket message.
type MessageResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// UpdateResult is the structured outcome of a ticket status update.
type UpdateResult struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// KnowledgeArticle is a knowledge-base entry with its search relevance.
type KnowledgeArticle struct {
	ArticleID      string `json:"article_id"`
	Title          string `json:"title"`
	Content        string `json:"content"`
	Tags           string `json:"tags"`
	RelevanceScore int    `json:"relevance_score"`
}

// KnowledgeResult bundles ranked articles with a derived confidence score
// and a pre-formatted text block for prompt injection.
type KnowledgeResult struct {
	Response   string             `json:"response"`
	Confidence float64            `json:"confidence"`
	Found      bool               `json:"found_results"`
	TopScore   int                `json:"top_score,omitempty"`
	Articles   []KnowledgeArticle `json:"articles,omitempty"`
}
