package core

import "time"

const (
	EventUserJoined    EventType = "user_joined"
	EventUserRemoved   EventType = "user_removed"
	EventPaymentMarked EventType = "payment_marked"
)

const (
	ActorSelf  Actor = "self"
	ActorAdmin Actor = "admin"
)

type (
	EventType string

	// Actor tells who triggered a mutation.
	Actor string

	// Event describes a completed ledger mutation for downstream consumers.
	Event struct {
		ID        string    `json:"id"`
		Type      EventType `json:"type"`
		UserID    UserID    `json:"user_id"`
		Name      string    `json:"name"`
		Month     Month     `json:"month,omitempty"`
		Actor     Actor     `json:"actor"`
		Timestamp time.Time `json:"timestamp"`
	}
)
