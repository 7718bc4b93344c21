package handler

import (
	"errors"
	"io"
	"net/http"

	"wallet-service/internal/usecase/settlement"
	"wallet-service/internal/xerrors"
	"wallet-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// PaymentWebhookHandler receives aggregator callbacks. It always answers
// quickly: settlement failures that are safe to replay return 200 so the
// aggregator does not hammer us, only transient errors return 5xx.
func PaymentWebhookHandler(uc *settlement.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "unreadable body")
			return
		}

		err = uc.HandleWebhook(r.Context(), provider, payload,
			r.Header.Get("x-token"), clientIP(r), r.UserAgent())
		if err != nil {
			if errors.Is(err, xerrors.ErrInvalidWebhook) {
				response.Error(w, http.StatusBadRequest, "invalid webhook")
				return
			}
			logger.Error("webhook settlement failed", zap.String("provider", provider), zap.Error(err))
			response.Error(w, http.StatusInternalServerError, "settlement failed")
			return
		}
		response.JSONMessage(w, http.StatusOK, "webhook processed", nil)
	}
}

func PaymentStatusHandler(uc *settlement.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := authedUser(w, r); !ok {
			return
		}
		payment, err := uc.PollStatus(r.Context(), chi.URLParam(r, "transactionId"))
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, payment)
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
