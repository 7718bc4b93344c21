package wallet

import (
	"encoding/json"
	"sync"

	"wallet-service/internal/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type WSMessage struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Notifier pushes balance updates to a user's open websocket connections.
// Delivery is best effort; a dead connection is dropped on write failure.
type Notifier struct {
	clients map[int64]map[*websocket.Conn]bool
	mu      sync.Mutex
	logger  *zap.Logger
}

func NewNotifier(logger *zap.Logger) *Notifier {
	return &Notifier{
		clients: make(map[int64]map[*websocket.Conn]bool),
		logger:  logger,
	}
}

func (n *Notifier) RegisterConnection(userID int64, conn *websocket.Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.clients[userID] == nil {
		n.clients[userID] = make(map[*websocket.Conn]bool)
	}
	n.clients[userID][conn] = true
}

func (n *Notifier) UnregisterConnection(userID int64, conn *websocket.Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if conns, ok := n.clients[userID]; ok {
		delete(conns, conn)
		conn.Close()
		if len(conns) == 0 {
			delete(n.clients, userID)
		}
	}
}

func (n *Notifier) NotifyBalance(userID int64, wallet *domain.Wallet, tx *domain.WalletTransaction) {
	n.mu.Lock()
	defer n.mu.Unlock()

	message := WSMessage{
		Type: "balance_update",
		Data: map[string]any{
			"user_id": userID,
			"balance": tx.BalanceAfter,
			"wallet": map[string]any{
				"id":       wallet.ID,
				"currency": wallet.Currency,
			},
			"transaction": map[string]any{
				"transaction_id": tx.TransactionID,
				"type":           tx.Type,
				"amount":         tx.Amount,
				"category":       tx.Category,
			},
		},
	}

	payload, _ := json.Marshal(message)

	for conn := range n.clients[userID] {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			n.logger.Warn("dropping dead websocket connection",
				zap.Int64("user_id", userID), zap.Error(err))
			conn.Close()
			delete(n.clients[userID], conn)
		}
	}
}

func (n *Notifier) NotifyInitial(userID int64, wallet *domain.Wallet) {
	n.mu.Lock()
	defer n.mu.Unlock()

	message := WSMessage{
		Type: "initial_data",
		Data: map[string]any{
			"wallet": wallet,
		},
	}

	payload, _ := json.Marshal(message)

	for conn := range n.clients[userID] {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			n.logger.Warn("dropping dead websocket connection",
				zap.Int64("user_id", userID), zap.Error(err))
			conn.Close()
			delete(n.clients[userID], conn)
		}
	}
}
