package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/zllovesuki/billsync/customer"
	"github.com/zllovesuki/billsync/internal/testdb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func str(s string) *string {
	return &s
}

func newManager(t *testing.T) (*Manager, *gorm.DB) {
	db := testdb.New(t)
	m, err := NewManager(ManagerOptions{
		DB:     db,
		Logger: zap.NewNop(),
		Now: func() time.Time {
			return fixedNow
		},
	})
	require.NoError(t, err)
	return m, db
}

func TestMapProviderStatus(t *testing.T) {
	cases := map[string]Status{
		"active":             StatusActive,
		"trialing":           StatusActive,
		"past_due":           StatusPastDue,
		"unpaid":             StatusPastDue,
		"canceled":           StatusCanceled,
		"incomplete":         StatusIncomplete,
		"incomplete_expired": StatusIncomplete,
		"paused":             StatusIncomplete,
		"":                   StatusIncomplete,
	}
	for provider, expected := range cases {
		assert.Equal(t, expected, MapProviderStatus(provider), provider)
	}
}

func TestSynchronizeCoalescesReferences(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	require.NoError(t, m.Create(ctx, &Subscription{
		CustomerID:           1,
		StripeSubscriptionID: str("sub_1"),
	}))

	periodEnd := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	sub, err := m.Synchronize(ctx, "sub_1", &State{
		ProviderStatus:   "active",
		CurrentPeriodEnd: &periodEnd,
	}, References{
		InvoiceID:       str("in_1"),
		PaymentIntentID: str("pi_1"),
		ChargeID:        str("ch_1"),
	})
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, StatusActive, sub.Status)
	assert.True(t, periodEnd.Equal(*sub.CurrentPeriodEnd))

	// a later event without references must not erase them
	sub, err = m.Synchronize(ctx, "sub_1", &State{ProviderStatus: "past_due", CurrentPeriodEnd: &periodEnd}, References{})
	require.NoError(t, err)
	assert.Equal(t, StatusPastDue, sub.Status)
	assert.Equal(t, "in_1", *sub.StripeInvoiceID)
	assert.Equal(t, "pi_1", *sub.StripePaymentIntentID)
	assert.Equal(t, "ch_1", *sub.StripeChargeID)

	// partial references only replace what they carry
	sub, err = m.Synchronize(ctx, "sub_1", nil, References{InvoiceID: str("in_2")})
	require.NoError(t, err)
	assert.Equal(t, StatusPastDue, sub.Status)
	assert.Equal(t, "in_2", *sub.StripeInvoiceID)
	assert.Equal(t, "pi_1", *sub.StripePaymentIntentID)
	assert.Equal(t, "ch_1", *sub.StripeChargeID)
}

func TestSynchronizePeriodPlaceholder(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	require.NoError(t, m.Create(ctx, &Subscription{
		CustomerID:           1,
		StripeSubscriptionID: str("sub_1"),
	}))

	sub, err := m.Synchronize(ctx, "sub_1", &State{ProviderStatus: "incomplete"}, References{})
	require.NoError(t, err)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.True(t, fixedNow.Equal(*sub.CurrentPeriodEnd))
	assert.Equal(t, StatusIncomplete, sub.Status)
}

func TestSynchronizeUnlinked(t *testing.T) {
	m, _ := newManager(t)

	sub, err := m.Synchronize(context.Background(), "sub_missing", &State{ProviderStatus: "active"}, References{})
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestLinkCheckoutAndCancel(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	local := &Subscription{CustomerID: 1}
	require.NoError(t, m.Create(ctx, local))
	assert.Equal(t, StatusIncomplete, local.Status)

	linked, err := m.LinkCheckout(ctx, local.ID, "sub_9", "cs_9")
	require.NoError(t, err)
	assert.True(t, linked)

	linked, err = m.LinkCheckout(ctx, local.ID+100, "sub_10", "cs_10")
	require.NoError(t, err)
	assert.False(t, linked)

	canceled, err := m.MarkCanceled(ctx, "sub_9")
	require.NoError(t, err)
	assert.True(t, canceled)

	sub, err := m.GetByID(ctx, local.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, sub.Status)
	assert.Equal(t, "cs_9", *sub.StripeCheckoutSessionID)

	canceled, err = m.MarkCanceled(ctx, "sub_unknown")
	require.NoError(t, err)
	assert.False(t, canceled)
}

func TestLatestByStripeCustomer(t *testing.T) {
	ctx := context.Background()
	m, db := newManager(t)

	customers, err := customer.NewManager(customer.ManagerOptions{DB: db, Logger: zap.NewNop()})
	require.NoError(t, err)

	owner, err := customers.Create(ctx, "owner@example.com")
	require.NoError(t, err)
	require.NoError(t, customers.LinkStripeCustomer(ctx, owner.ID, "cus_1"))

	older := &Subscription{CustomerID: owner.ID, CreatedAt: fixedNow.Add(-time.Hour)}
	newer := &Subscription{CustomerID: owner.ID, CreatedAt: fixedNow}
	require.NoError(t, m.Create(ctx, older))
	require.NoError(t, m.Create(ctx, newer))

	found, err := m.LatestByStripeCustomer(ctx, "cus_1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, newer.ID, found.ID)

	missing, err := m.LatestByStripeCustomer(ctx, "cus_2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
