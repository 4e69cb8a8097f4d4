package subscription

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	resp "github.com/zllovesuki/billsync/response"

	"github.com/go-chi/chi"
	"go.uber.org/zap"
)

type ServiceOptions struct {
	Syncer Syncer
	Logger *zap.Logger
}

type Service struct {
	ServiceOptions
}

func NewService(option ServiceOptions) (*Service, error) {
	if option.Syncer == nil {
		return nil, fmt.Errorf("nil Syncer is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

func (s *Service) syncSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid subscription id"))
		return
	}

	logger := s.Logger.With(zap.Uint64("SubscriptionID", id))

	result, err := s.Syncer.SyncLocal(r.Context(), uint(id))
	switch {
	case errors.Is(err, ErrNotFound):
		resp.WriteError(w, r, resp.ErrNotFound())
	case errors.Is(err, ErrNotLinked):
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Subscription is not linked to Stripe"))
	case err != nil:
		logger.Error("Unable to synchronize subscription",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to synchronize subscription"))
	default:
		resp.WriteResponse(w, r, result)
	}
}

func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/{id}/sync", s.syncSubscription)

	return r
}
