package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/yourorg/booking-payments/internal/domain"
)

// Client talks to the booking service over its JSON API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{baseURL: baseURL, httpClient: client}
}

func (c *Client) Get(ctx context.Context, orderID string) (Order, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/internal/orders/"+orderID, nil)
	if err != nil {
		return Order{}, fmt.Errorf("orders: building get request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Order{}, fmt.Errorf("orders: fetching %s: %w", orderID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Order{}, fmt.Errorf("orders: %s: %w", orderID, domain.ErrOrderNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return Order{}, fmt.Errorf("orders: booking service returned HTTP %d for %s", resp.StatusCode, orderID)
	}

	var order Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return Order{}, fmt.Errorf("orders: decoding %s: %w", orderID, err)
	}
	return order, nil
}

func (c *Client) MarkPaid(ctx context.Context, orderID, providerRef string) error {
	body, err := json.Marshal(map[string]string{"providerRef": providerRef})
	if err != nil {
		return fmt.Errorf("orders: encoding confirmation: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/internal/orders/"+orderID+"/confirm-payment", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("orders: building confirm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("orders: confirming %s: %w", orderID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("orders: %s: %w", orderID, domain.ErrOrderNotFound)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("orders: booking service returned HTTP %d confirming %s", resp.StatusCode, orderID)
	}
	return nil
}
