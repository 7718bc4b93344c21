package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// NotificationSender delivers user-facing notifications. Fire and forget:
// callers never block a money movement on notification delivery.
type NotificationSender interface {
	Notify(ctx context.Context, userID int64, event string, data map[string]any)
}

type NotificationClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewNotificationClient(baseURL string, logger *zap.Logger) *NotificationClient {
	return &NotificationClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

func (c *NotificationClient) Notify(ctx context.Context, userID int64, event string, data map[string]any) {
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		payload, err := json.Marshal(map[string]any{
			"userId": userID,
			"event":  event,
			"data":   data,
		})
		if err != nil {
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/notifications", bytes.NewReader(payload))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("notification delivery failed",
				zap.Int64("user_id", userID), zap.String("event", event), zap.Error(err))
			return
		}
		resp.Body.Close()
	}()
}
