// Package orchclient is a thin HTTP client back to the orchestrator,
// used only to re-validate a payment's current state before a manual
// review decision is allowed to take effect.
package orchclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

type paymentStatus struct {
	Payment struct {
		PaymentID string `json:"payment_id"`
		Status    string `json:"status"`
	} `json:"payment"`
}

// CurrentStatus fetches the orchestrator's live view of a payment. A
// manual decision is only honored when the payment is still in
// RISK_REVIEW by the time a human acts on it — it may have timed out
// or been reversed in the interim.
func (c *Client) CurrentStatus(ctx context.Context, paymentID string) (string, error) {
	url := fmt.Sprintf("%s/payments/%s", c.baseURL, paymentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach orchestrator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("orchestrator returned status %d for payment %s", resp.StatusCode, paymentID)
	}

	var ps paymentStatus
	if err := json.NewDecoder(resp.Body).Decode(&ps); err != nil {
		return "", fmt.Errorf("failed to decode orchestrator response: %w", err)
	}
	return ps.Payment.Status, nil
}
