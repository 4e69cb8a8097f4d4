package outbox

import (
	"time"

	"gorm.io/datatypes"
)

// Type names the side effect a job performs
type Type string

const (
	TypeEmailReceipt        Type = "EMAIL_RECEIPT"
	TypeFulfillSubscription Type = "FULFILL_SUBSCRIPTION"
)

// Status is the position of a job in PENDING -> PROCESSING -> DONE.
// A failed job goes from PROCESSING back to PENDING.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusDone       Status = "DONE"
)

// Job is a durable side effect waiting to be executed by a Worker
type Job struct {
	ID        string         `json:"id" gorm:"primaryKey;size:36"`
	Type      Type           `json:"type" gorm:"not null;index"`
	Payload   datatypes.JSON `json:"payload"`
	Status    Status         `json:"status" gorm:"not null;default:PENDING;index:idx_outbox_jobs_eligible,priority:1"`
	Attempts  int            `json:"attempts" gorm:"not null;default:0"`
	NextRunAt time.Time      `json:"nextRunAt" gorm:"not null;index:idx_outbox_jobs_eligible,priority:2"`
	LastError *string        `json:"lastError"`
	DedupeKey *string        `json:"dedupeKey" gorm:"uniqueIndex"`
	LockedAt  *time.Time     `json:"lockedAt"`
	CreatedAt time.Time      `json:"createdAt" gorm:"index"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func (Job) TableName() string {
	return "outbox_jobs"
}

// ReceiptPayload is the payload of an EMAIL_RECEIPT job
type ReceiptPayload struct {
	CustomerID uint   `json:"customerId"`
	EmailType  string `json:"emailType"`
	InvoiceID  string `json:"invoiceId"`
	AmountPaid int64  `json:"amountPaid"`
	Currency   string `json:"currency"`
}

// FulfillmentPayload is the payload of a FULFILL_SUBSCRIPTION job
type FulfillmentPayload struct {
	CustomerID           uint   `json:"customerId"`
	SubscriptionID       uint   `json:"subscriptionId"`
	StripeSubscriptionID string `json:"stripeSubscriptionId"`
	InvoiceID            string `json:"invoiceId"`
}

const EmailSubscriptionReceipt = "SUBSCRIPTION_RECEIPT"

// DedupeKey is the key under which a job type is enqueued at most once per business id
func DedupeKey(t Type, id string) string {
	return string(t) + ":" + id
}
