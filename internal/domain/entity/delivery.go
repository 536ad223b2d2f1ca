package entity

import "time"

// DeliveryRecord is the persisted outcome of one channel attempt
type DeliveryRecord struct {
	ID            int64      `json:"id"`
	EventID       string     `json:"event_id"`
	EventType     string     `json:"event_type"`
	DocumentID    string     `json:"document_id"`
	TargetRole    string     `json:"target_role"`
	OwnerID       string     `json:"owner_id"`
	Channel       string     `json:"channel"`
	Endpoint      string     `json:"endpoint"`
	Status        string     `json:"status"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	Attempts      int        `json:"attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
