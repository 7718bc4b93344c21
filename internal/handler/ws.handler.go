package handler

import (
	"net/http"

	"wallet-service/internal/usecase/wallet"
	"wallet-service/pkg/response"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WalletWSHandler streams balance updates to the authenticated user.
func WalletWSHandler(uc *wallet.Service, notifier *wallet.Notifier, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := authedUser(w, r)
		if !ok {
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "upgrade failed")
			return
		}

		notifier.RegisterConnection(userID, conn)
		defer notifier.UnregisterConnection(userID, conn)

		if details, err := uc.GetDetails(r.Context(), userID, r.URL.Query().Get("currency")); err == nil {
			notifier.NotifyInitial(userID, details)
		}

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				logger.Debug("websocket closed", zap.Int64("user_id", userID), zap.Error(err))
				return
			}
		}
	}
}
