package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// BookingService confirms a booking once its payment settles. Confirmation
// is best effort on the settlement path: failures are logged and retried
// out of band, never allowed to roll back a credited wallet.
type BookingService interface {
	ConfirmPayment(ctx context.Context, bookingID, transactionID string) error
}

type BookingClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewBookingClient(baseURL string, logger *zap.Logger) *BookingClient {
	return &BookingClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

func (c *BookingClient) ConfirmPayment(ctx context.Context, bookingID, transactionID string) error {
	payload, err := json.Marshal(map[string]string{
		"transactionId": transactionID,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/internal/bookings/%s/confirm-payment", c.baseURL, bookingID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("booking confirmation failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("booking confirmation failed: status %d", resp.StatusCode)
	}

	c.logger.Info("booking payment confirmed",
		zap.String("booking_id", bookingID),
		zap.String("transaction_id", transactionID))
	return nil
}
