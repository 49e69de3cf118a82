package chat

import "time"

// MemoryRecord is an approved user memory. Route holds the exact agent slash,
// ProjectRoute the top segment of a hierarchical slash.
type MemoryRecord struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"ownerId"`
	Route        string    `json:"route,omitempty"`
	ProjectRoute string    `json:"projectRoute,omitempty"`
	RawText      string    `json:"rawText"`
	ApprovedAt   time.Time `json:"approvedAt"`
	CreatedAt    time.Time `json:"createdAt"`
}

// HomeLocation is a user's saved home location for one route.
type HomeLocation struct {
	OwnerID string `json:"ownerId"`
	Route   string `json:"route"`
	Text    string `json:"text"`
}
