package domain

import "time"

// Turn is a single persisted conversation message. Turns are append-only and
// ordered by Timestamp within a (UserID, TicketID) partition.
type Turn struct {
	PK        string
	SK        string
	ID        string
	UserID    string
	TicketID  string
	Role      string
	Content   string
	Timestamp time.Time
	TTL       int64
}

// Preference is a durable user preference. (UserID, Key) is unique; writes
// have upsert semantics.
type Preference struct {
	PK        string
	SK        string
	UserID    string
	Key       string
	Value     string
	UpdatedAt time.Time
	TTL       int64
}
