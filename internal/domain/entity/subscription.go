package entity

import "time"

// Subscription is one delivery endpoint registered by a user.
// There is at most one subscription per owner and channel.
type Subscription struct {
	OwnerID   string    `json:"owner_id"`
	Channel   string    `json:"channel"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh,omitempty"`
	Auth      string    `json:"auth,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the registry key of the subscription
func (s *Subscription) Key() string {
	return s.OwnerID + "/" + s.Channel
}
