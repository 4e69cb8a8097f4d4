package subscription

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type syncerFunc func(ctx context.Context, id uint) (*SyncResult, error)

func (f syncerFunc) SyncLocal(ctx context.Context, id uint) (*SyncResult, error) {
	return f(ctx, id)
}

func serve(t *testing.T, syncer Syncer, path string) *httptest.ResponseRecorder {
	s, err := NewService(ServiceOptions{
		Syncer: syncer,
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestSyncEndpoint(t *testing.T) {
	syncer := syncerFunc(func(ctx context.Context, id uint) (*SyncResult, error) {
		switch id {
		case 1:
			return &SyncResult{
				Subscription: &Subscription{
					ID:                   1,
					Status:               StatusActive,
					StripeSubscriptionID: str("sub_1"),
				},
				ProviderStatus: "active",
			}, nil
		case 2:
			return nil, ErrNotLinked
		case 3:
			return nil, errors.New("stripe unavailable")
		default:
			return nil, ErrNotFound
		}
	})

	w := serve(t, syncer, "/1/sync")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"providerStatus":"active"`)
	assert.Contains(t, w.Body.String(), `"stripeSubscriptionId":"sub_1"`)

	assert.Equal(t, http.StatusBadRequest, serve(t, syncer, "/2/sync").Code)
	assert.Equal(t, http.StatusInternalServerError, serve(t, syncer, "/3/sync").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, syncer, "/9/sync").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, syncer, "/abc/sync").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, syncer, "/0/sync").Code)
}
