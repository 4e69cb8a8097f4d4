package customer

import (
	"context"
	"errors"
	"fmt"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ManagerOptions struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// Manager handles the database operations relating to Customers
type Manager struct {
	ManagerOptions
}

// NewManager returns a new Manager for customers
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if err := option.DB.AutoMigrate(&Customer{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize customer.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// WithTx returns a Manager bound to the transaction
func (m *Manager) WithTx(tx *gorm.DB) *Manager {
	c := *m
	c.DB = tx
	return &c
}

// Create will insert a new customer profile with the given email
func (m *Manager) Create(ctx context.Context, email string) (*Customer, error) {
	cust := &Customer{
		Email: email,
	}
	result := m.DB.WithContext(ctx).Create(cust)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot create a new Customer")
	}
	return cust, nil
}

// GetByID will try to return the customer in the database by id
func (m *Manager) GetByID(ctx context.Context, id uint) (*Customer, error) {
	var cust Customer

	result := m.DB.WithContext(ctx).First(&cust, "id = ?", id)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get customer by id")
	}

	return &cust, nil
}

// GetByStripeCustomerID will try to return the customer linked to the Stripe customer
func (m *Manager) GetByStripeCustomerID(ctx context.Context, stripeID string) (*Customer, error) {
	var cust Customer

	result := m.DB.WithContext(ctx).First(&cust, "stripe_customer_id = ?", stripeID)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get customer by Stripe customer id")
	}

	return &cust, nil
}

// LinkStripeCustomer records the Stripe customer id if the customer has none yet.
// An existing link is never replaced.
func (m *Manager) LinkStripeCustomer(ctx context.Context, id uint, stripeID string) error {
	result := m.DB.WithContext(ctx).
		Model(&Customer{}).
		Where("id = ? AND stripe_customer_id IS NULL", id).
		Update("stripe_customer_id", stripeID)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot link Stripe customer")
	}
	return nil
}
