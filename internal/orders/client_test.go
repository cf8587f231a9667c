package orders

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/booking-payments/internal/domain"
)

func TestClient_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/internal/orders/O1":
			json.NewEncoder(w).Encode(Order{ID: "O1", OwnerID: "u1", Amount: 250000, Currency: "VND", PaymentStatus: PaymentStatusUnpaid})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	order, err := c.Get(context.Background(), "O1")
	require.NoError(t, err)
	assert.Equal(t, "u1", order.OwnerID)
	assert.Equal(t, int64(250000), order.Amount)

	_, err = c.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestClient_MarkPaid(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/internal/orders/O1/confirm-payment", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotBody))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	require.NoError(t, c.MarkPaid(context.Background(), "O1", "VNPAY_123"))
	assert.Equal(t, "VNPAY_123", gotBody["providerRef"])
}

func TestClient_MarkPaid_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	assert.Error(t, c.MarkPaid(context.Background(), "O1", "VNPAY_123"))
}
