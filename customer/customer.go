package customer

import "time"

// Customer is the local owner of subscriptions
type Customer struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	Email            string    `json:"email" gorm:"uniqueIndex;not null"`
	StripeCustomerID *string   `json:"stripeCustomerId" gorm:"uniqueIndex"` // Filled in once checkout completes
	CreatedAt        time.Time `json:"createdAt"`
}
