package ledger

import "time"

// Record tracks a single Stripe event delivery. ProcessedAt stays NULL until a
// handler completes successfully.
type Record struct {
	EventID     string     `json:"eventId" gorm:"primaryKey"`
	EventType   string     `json:"eventType"`
	ProcessedAt *time.Time `json:"processedAt"`
	LastError   *string    `json:"lastError"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (Record) TableName() string {
	return "webhook_events"
}
