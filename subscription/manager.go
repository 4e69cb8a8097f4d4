package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ManagerOptions struct {
	DB     *gorm.DB
	Logger *zap.Logger
	Now    func() time.Time
}

// Manager owns the Stripe-derived columns of local subscriptions
type Manager struct {
	ManagerOptions
}

func NewManager(option ManagerOptions) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Now == nil {
		option.Now = time.Now
	}
	if err := option.DB.AutoMigrate(&Subscription{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize subscription.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// WithTx returns a Manager whose writes join the transaction
func (m *Manager) WithTx(tx *gorm.DB) *Manager {
	c := *m
	c.DB = tx
	return &c
}

func (m *Manager) Create(ctx context.Context, sub *Subscription) error {
	result := m.DB.WithContext(ctx).Create(sub)
	if result.Error != nil {
		m.Logger.Error("Unable to create new subscription in database",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot create subscription")
	}
	return nil
}

func (m *Manager) GetByID(ctx context.Context, id uint) (*Subscription, error) {
	return m.first(ctx, "id = ?", id)
}

func (m *Manager) GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*Subscription, error) {
	return m.first(ctx, "stripe_subscription_id = ?", stripeSubscriptionID)
}

func (m *Manager) first(ctx context.Context, query string, arg interface{}) (*Subscription, error) {
	var sub Subscription
	result := m.DB.WithContext(ctx).Where(query, arg).First(&sub)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get subscription")
	}

	return &sub, nil
}

// Synchronize applies Stripe state and references to the subscription linked to
// stripeSubscriptionID. A nil state leaves status and period untouched; when state
// carries no period end the current time is stored instead. Returns nil if no local
// subscription is linked.
func (m *Manager) Synchronize(ctx context.Context, stripeSubscriptionID string, state *State, refs References) (*Subscription, error) {
	updates := refs.columns()
	if state != nil {
		periodEnd := m.Now().UTC()
		if state.CurrentPeriodEnd != nil {
			periodEnd = state.CurrentPeriodEnd.UTC()
		}
		updates["status"] = MapProviderStatus(state.ProviderStatus)
		updates["current_period_end"] = periodEnd
	}

	logger := m.Logger.With(zap.String("StripeSubscriptionID", stripeSubscriptionID))

	if len(updates) > 0 {
		result := m.DB.WithContext(ctx).
			Model(&Subscription{}).
			Where("stripe_subscription_id = ?", stripeSubscriptionID).
			Updates(updates)
		if result.Error != nil {
			logger.Error("Database returned error",
				zap.Error(result.Error),
			)
			return nil, extErrors.Wrap(result.Error, "Cannot synchronize subscription")
		}
	}

	return m.GetByStripeID(ctx, stripeSubscriptionID)
}

// LinkCheckout attaches the Stripe subscription and checkout session to a local subscription.
// Returns false if the local subscription does not exist.
func (m *Manager) LinkCheckout(ctx context.Context, id uint, stripeSubscriptionID, checkoutSessionID string) (bool, error) {
	result := m.DB.WithContext(ctx).
		Model(&Subscription{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"stripe_subscription_id":     stripeSubscriptionID,
			"stripe_checkout_session_id": checkoutSessionID,
		})
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return false, extErrors.Wrap(result.Error, "Cannot link checkout session")
	}
	return result.RowsAffected > 0, nil
}

// MarkCanceled sets the subscription linked to stripeSubscriptionID to CANCELED
func (m *Manager) MarkCanceled(ctx context.Context, stripeSubscriptionID string) (bool, error) {
	result := m.DB.WithContext(ctx).
		Model(&Subscription{}).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		Update("status", StatusCanceled)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return false, extErrors.Wrap(result.Error, "Cannot mark subscription as canceled")
	}
	return result.RowsAffected > 0, nil
}

// LatestByStripeCustomer returns the most recently created subscription owned by
// the customer linked to the Stripe customer id
func (m *Manager) LatestByStripeCustomer(ctx context.Context, stripeCustomerID string) (*Subscription, error) {
	var sub Subscription
	result := m.DB.WithContext(ctx).
		Table("subscriptions AS s").
		Select("s.*").
		Joins("JOIN customers AS c ON c.id = s.customer_id").
		Where("c.stripe_customer_id = ?", stripeCustomerID).
		Order("s.created_at desc").
		Order("s.id desc").
		Limit(1).
		Scan(&sub)

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get subscription by Stripe customer")
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &sub, nil
}
