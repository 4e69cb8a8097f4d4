package reconcile

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	resp "github.com/zllovesuki/billsync/response"

	"github.com/go-chi/chi"
	"go.uber.org/zap"
)

// MaxBodyBytes bounds the size of a webhook delivery
const MaxBodyBytes = 1 << 20

type ServiceOptions struct {
	Dispatcher *Dispatcher
	Logger     *zap.Logger
}

type Service struct {
	ServiceOptions
}

func NewService(option ServiceOptions) (*Service, error) {
	if option.Dispatcher == nil {
		return nil, fmt.Errorf("nil Dispatcher is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

func (s *Service) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			resp.WriteError(w, r, resp.ErrBodyTooLarge())
			return
		}
		resp.WriteError(w, r, resp.ErrBadRequest())
		return
	}

	ack, err := s.Dispatcher.Dispatch(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, ErrInvalidSignature):
		s.Logger.Warn("Rejected webhook with invalid signature",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrInvalidSignature())
	case err != nil:
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to process webhook"))
	default:
		resp.WriteResponse(w, r, ack)
	}
}

func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/stripe", s.stripeWebhook)

	return r
}
