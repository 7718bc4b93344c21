package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"wallet-service/internal/domain"
	"wallet-service/internal/middleware"
	"wallet-service/internal/usecase/wallet"
	"wallet-service/internal/xerrors"
	"wallet-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

func writeError(w http.ResponseWriter, err error) {
	var le *xerrors.LimitError
	switch {
	case errors.As(err, &le),
		errors.Is(err, xerrors.ErrInvalidAmount),
		errors.Is(err, xerrors.ErrInsufficientFunds),
		errors.Is(err, xerrors.ErrSelfTransfer),
		errors.Is(err, xerrors.ErrInvalidRequest),
		errors.Is(err, xerrors.ErrBalanceCapExceeded):
		response.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, xerrors.ErrWalletNotFound),
		errors.Is(err, xerrors.ErrTransactionNotFound),
		errors.Is(err, xerrors.ErrPaymentNotFound),
		errors.Is(err, xerrors.ErrUserNotFound):
		response.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, xerrors.ErrWalletInactiveOrBlocked):
		response.Error(w, http.StatusForbidden, err.Error())
	case errors.Is(err, xerrors.ErrUnauthorized):
		response.Error(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, xerrors.ErrGatewayRejected):
		response.Error(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, xerrors.ErrGatewayUnreachable):
		response.Error(w, http.StatusServiceUnavailable, err.Error())
	default:
		response.Error(w, http.StatusInternalServerError, "internal server error")
	}
}

func authedUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "unauthorized")
	}
	return userID, ok
}

func BalanceHandler(uc *wallet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := authedUser(w, r)
		if !ok {
			return
		}
		summary, err := uc.GetBalance(r.Context(), userID, r.URL.Query().Get("currency"))
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, summary)
	}
}

func DetailsHandler(uc *wallet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := authedUser(w, r)
		if !ok {
			return
		}
		details, err := uc.GetDetails(r.Context(), userID, r.URL.Query().Get("currency"))
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, details)
	}
}

type settingsRequest struct {
	DailyLimit   *decimal.Decimal `json:"dailyLimit"`
	MonthlyLimit *decimal.Decimal `json:"monthlyLimit"`
	MaxBalance   *decimal.Decimal `json:"maxBalance"`
	IsActive     *bool            `json:"isActive"`
	Currency     string           `json:"currency"`
}

func UpdateSettingsHandler(uc *wallet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := authedUser(w, r)
		if !ok {
			return
		}
		var req settingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
		for _, limit := range []*decimal.Decimal{req.DailyLimit, req.MonthlyLimit, req.MaxBalance} {
			if limit != nil && limit.LessThanOrEqual(decimal.Zero) {
				response.Error(w, http.StatusBadRequest, "limits must be positive")
				return
			}
		}

		updated, err := uc.UpdateSettings(r.Context(), userID, req.Currency, &domain.UpdateWalletSettings{
			DailyLimit:   req.DailyLimit,
			MonthlyLimit: req.MonthlyLimit,
			MaxBalance:   req.MaxBalance,
			IsActive:     req.IsActive,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSONMessage(w, http.StatusOK, "wallet settings updated", updated)
	}
}

type rechargeRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"paymentMethod" validate:"required"`
	Provider      string          `json:"provider" validate:"required"`
	Description   string          `json:"description"`
	ReturnURL     string          `json:"returnUrl" validate:"omitempty,url"`
}

func RechargeHandler(uc *wallet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := authedUser(w, r)
		if !ok {
			return
		}
		var req rechargeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := validate.Struct(&req); err != nil {
			response.Error(w, http.StatusBadRequest, err.Error())
			return
		}

		result, err := uc.Recharge(r.Context(), userID, &domain.RechargeRequest{
			Amount:        req.Amount,
			Currency:      req.Currency,
			PaymentMethod: req.PaymentMethod,
			Provider:      req.Provider,
			Description:   req.Description,
			ReturnURL:     req.ReturnURL,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSONMessage(w, http.StatusCreated, "recharge initiated", result)
	}
}

type transferRequest struct {
	RecipientUserID int64           `json:"recipientUserId" validate:"required,gt=0"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Description     string          `json:"description"`
}

func TransferHandler(uc *wallet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := authedUser(w, r)
		if !ok {
			return
		}
		var req transferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := validate.Struct(&req); err != nil {
			response.Error(w, http.StatusBadRequest, err.Error())
			return
		}

		result, err := uc.Transfer(r.Context(), &domain.TransferRequest{
			SenderUserID:    userID,
			RecipientUserID: req.RecipientUserID,
			Amount:          req.Amount,
			Currency:        req.Currency,
			Description:     req.Description,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSONMessage(w, http.StatusOK, "transfer completed", result)
	}
}

func parseTransactionQuery(r *http.Request) *domain.TransactionQuery {
	q := r.URL.Query()
	query := &domain.TransactionQuery{
		Category:   q.Get("category"),
		SourceType: q.Get("sourceType"),
		SortBy:     q.Get("sortBy"),
		SortOrder:  q.Get("sortOrder"),
		Limit:      20,
	}
	if v := q.Get("type"); v != "" {
		t := domain.TransactionType(v)
		query.Type = &t
	}
	if v := q.Get("status"); v != "" {
		s := domain.TransactionStatus(v)
		query.Status = &s
	}
	if v := q.Get("startDate"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			query.StartDate = &ts
		}
	}
	if v := q.Get("endDate"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			query.EndDate = &ts
		}
	}
	if v := q.Get("minAmount"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			query.MinAmount = &d
		}
	}
	if v := q.Get("maxAmount"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			query.MaxAmount = &d
		}
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 && v <= 100 {
		query.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 1 {
		query.Offset = (v - 1) * query.Limit
	}
	return query
}

func ListTransactionsHandler(uc *wallet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := authedUser(w, r)
		if !ok {
			return
		}
		page, err := uc.ListTransactions(r.Context(), userID, r.URL.Query().Get("currency"), parseTransactionQuery(r))
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, page)
	}
}

func GetTransactionHandler(uc *wallet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := authedUser(w, r)
		if !ok {
			return
		}
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "invalid transaction id")
			return
		}
		record, err := uc.GetTransaction(r.Context(), userID, r.URL.Query().Get("currency"), id)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, record)
	}
}

func StatsHandler(uc *wallet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := authedUser(w, r)
		if !ok {
			return
		}
		stats, err := uc.GetStats(r.Context(), userID, r.URL.Query().Get("currency"))
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, stats)
	}
}
