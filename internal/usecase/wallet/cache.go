package wallet

import (
	"encoding/json"

	"wallet-service/internal/domain"
)

func marshalStats(stats *domain.WalletStats) (string, error) {
	payload, err := json.Marshal(stats)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func unmarshalStats(payload string, stats *domain.WalletStats) error {
	return json.Unmarshal([]byte(payload), stats)
}
