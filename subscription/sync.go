package subscription

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a local subscription does not exist
	ErrNotFound = errors.New("subscription not found")
	// ErrNotLinked is returned when a local subscription has no Stripe subscription yet
	ErrNotLinked = errors.New("subscription is not linked to Stripe")
)

// SyncResult is the outcome of re-reading a subscription from Stripe
type SyncResult struct {
	Subscription   *Subscription `json:"subscription"`
	ProviderStatus string        `json:"providerStatus"`
}

// Syncer re-synchronizes a local subscription with Stripe on demand
type Syncer interface {
	SyncLocal(ctx context.Context, id uint) (*SyncResult, error)
}
