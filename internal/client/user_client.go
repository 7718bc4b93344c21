package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"wallet-service/internal/domain"
	"wallet-service/internal/xerrors"

	"go.uber.org/zap"
)

// UserDirectory resolves user ids to profile data. The wallet engine uses
// it to name transfer counterparties and fill payment customer fields.
type UserDirectory interface {
	FindUser(ctx context.Context, userID int64) (*domain.UserRef, error)
}

type UserClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewUserClient(baseURL string, logger *zap.Logger) *UserClient {
	return &UserClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

type userResponse struct {
	Status string          `json:"status"`
	Data   *domain.UserRef `json:"data"`
}

func (c *UserClient) FindUser(ctx context.Context, userID int64) (*domain.UserRef, error) {
	url := fmt.Sprintf("%s/internal/users/%d", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("user directory unreachable",
			zap.Int64("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, xerrors.ErrUserNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user lookup failed: status %d", resp.StatusCode)
	}

	var body userResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode user response: %w", err)
	}
	if body.Data == nil {
		return nil, xerrors.ErrUserNotFound
	}
	return body.Data, nil
}
