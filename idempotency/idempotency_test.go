package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/zllovesuki/billsync/internal/testdb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newManager(t *testing.T) *Manager {
	m, err := NewManager(ManagerOptions{
		DB:     testdb.New(t),
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	return m
}

func TestClaimOnce(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	won, err := m.Claim(ctx, "FULFILLMENT:in_1", "FULFILLMENT")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = m.Claim(ctx, "FULFILLMENT:in_1", "FULFILLMENT")
	require.NoError(t, err)
	assert.False(t, won)

	// same key in another scope is a separate ticket
	won, err = m.Claim(ctx, "FULFILLMENT:in_1", "RECEIPT")
	require.NoError(t, err)
	assert.True(t, won)
}

func TestClaimConcurrent(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := m.Claim(ctx, "FULFILLMENT:in_2", "FULFILLMENT")
			assert.NoError(t, err)
			if won {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners)
}
