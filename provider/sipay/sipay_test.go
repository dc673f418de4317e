package sipay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odemehub/odemehub/provider"
)

func validConfig(baseURL string) map[string]string {
	return map[string]string{
		"appId":       "test-app-id-12345",
		"appSecret":   "test-app-secret-12345",
		"merchantKey": "test-merchant-key-12345",
		"environment": "sandbox",
		"baseURL":     baseURL,
	}
}

func testRequest() provider.PaymentRequest {
	return provider.PaymentRequest{
		OrderID:  "invoice-1",
		Amount:   100.00,
		Currency: "TRY",
		Card: provider.CardInfo{
			CardHolderName: "John Doe",
			CardNumber:     "4508034508034509",
			ExpireMonth:    "12",
			ExpireYear:     "2030",
			CVV:            "000",
		},
		Buyer: provider.Customer{
			Name:    "John",
			Surname: "Doe",
			Email:   "john@example.com",
		},
	}
}

// tokenHandler answers the token endpoint and counts fetches
func tokenHandler(fetches *atomic.Int64) func(w http.ResponseWriter, r *http.Request) bool {
	return func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path != endpointToken {
			return false
		}
		fetches.Add(1)

		var creds map[string]string
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds["app_id"] == "" || creds["app_secret"] == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return true
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status_code": 100,
			"data": map[string]any{
				"token":      "bearer-token-1",
				"expires_at": time.Now().Add(2 * time.Hour).Format("2006-01-02 15:04:05"),
			},
		})
		return true
	}
}

func newTestProvider(t *testing.T, fetches *atomic.Int64, handler http.HandlerFunc) *Provider {
	t.Helper()
	tokens := tokenHandler(fetches)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tokens(w, r) {
			return
		}
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	p := NewProvider().(*Provider)
	require.NoError(t, p.Initialize(validConfig(server.URL)))
	return p
}

func TestInitialize(t *testing.T) {
	p := NewProvider().(*Provider)
	require.NoError(t, p.Initialize(validConfig("")))
	assert.NotNil(t, p.client)
	assert.NotNil(t, p.tokens)

	p = NewProvider().(*Provider)
	err := p.Initialize(map[string]string{"appId": "x"})
	require.Error(t, err)
	assert.True(t, provider.IsKind(err, provider.ErrorKindConfig))
}

func TestTokenCaching(t *testing.T) {
	var fetches atomic.Int64
	p := newTestProvider(t, &fetches, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer bearer-token-1", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status_code": 100,
			"data":        map[string]any{"order_no": "1"},
		})
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := p.GetPaymentStatus(ctx, "invoice-1")
		require.NoError(t, err)
	}

	assert.Equal(t, int64(1), fetches.Load(), "token must be fetched once and cached")
}

func TestTokenRefreshBeforeExpiry(t *testing.T) {
	var fetches atomic.Int64
	p := newTestProvider(t, &fetches, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status_code": 100})
	})

	ctx := context.Background()
	_, err := p.tokens.Token(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), fetches.Load())

	// Move the clock inside the refresh window; the next call must fetch
	// a fresh token even though the old one has not yet lapsed.
	expiresAt := p.tokens.expiresAt
	p.tokens.now = func() time.Time { return expiresAt.Add(-30 * time.Second) }

	_, err = p.tokens.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), fetches.Load())
}

func TestCreatePayment_Success(t *testing.T) {
	var fetches atomic.Int64
	p := newTestProvider(t, &fetches, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, endpointPay2D, r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "100.00", payload["total"])
		assert.Equal(t, "invoice-1", payload["invoice_id"])
		assert.Equal(t, "test-merchant-key-12345", payload["merchant_key"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"status_code": 100,
			"data": map[string]any{
				"order_no": "sip-1",
				"amount":   "100.00",
			},
		})
	})

	resp, err := p.CreatePayment(context.Background(), testRequest())
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, provider.StatusSuccessful, resp.Status)
	assert.Equal(t, "sip-1", resp.PaymentID)
	assert.Equal(t, "invoice-1", resp.TransactionID)
	assert.Equal(t, 100.00, resp.Amount)
}

func TestCreatePayment_InsufficientFunds(t *testing.T) {
	var fetches atomic.Int64
	p := newTestProvider(t, &fetches, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status_code":        44,
			"status_description": "Insufficient limit",
		})
	})

	resp, err := p.CreatePayment(context.Background(), testRequest())
	require.NoError(t, err)

	assert.False(t, resp.Success)
	assert.Equal(t, provider.ErrorKindInsufficientFunds, resp.ErrorKind)
	assert.Equal(t, "44", resp.ErrorCode)
	assert.Equal(t, "Insufficient limit", resp.Message)
}

func TestCreate3DPayment(t *testing.T) {
	var fetches atomic.Int64
	p := newTestProvider(t, &fetches, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, endpointPay3D, r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "https://merchant.example.com/callback", payload["return_url"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"status_code": 100,
			"data": map[string]any{
				"redirect_url": "https://acs.sipay.test/3d/abc",
			},
		})
	})

	request := testRequest()
	request.CallbackURL = "https://merchant.example.com/callback"

	resp, err := p.Create3DPayment(context.Background(), request)
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, provider.StatusPending, resp.Status)
	assert.Equal(t, "https://acs.sipay.test/3d/abc", resp.RedirectURL)
}

func TestCreate3DPayment_RequiresCallbackURL(t *testing.T) {
	p := NewProvider().(*Provider)
	require.NoError(t, p.Initialize(validConfig("")))

	_, err := p.Create3DPayment(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, provider.IsKind(err, provider.ErrorKindConfig))
}

func TestComplete3DPayment(t *testing.T) {
	var fetches atomic.Int64
	p := newTestProvider(t, &fetches, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, endpointComplete, r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "invoice-1", payload["invoice_id"])
		assert.Equal(t, "cb-hash", payload["hash_key"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"status_code": 100,
			"data":        map[string]any{"order_no": "sip-1"},
		})
	})

	resp, err := p.Complete3DPayment(context.Background(), "invoice-1", map[string]string{
		"hash_key": "cb-hash",
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestRefundPayment(t *testing.T) {
	var fetches atomic.Int64
	p := newTestProvider(t, &fetches, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, endpointRefund, r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "25.50", payload["amount"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"status_code": 100,
			"data":        map[string]any{"order_no": "refund-1"},
		})
	})

	resp, err := p.RefundPayment(context.Background(), provider.RefundRequest{
		TransactionID: "invoice-1",
		RefundAmount:  25.50,
	})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "refund-1", resp.RefundID)
}

func TestGetInstallments(t *testing.T) {
	var fetches atomic.Int64
	p := newTestProvider(t, &fetches, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, endpointGetPos, r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status_code": 100,
			"data": []map[string]any{
				{"installments_number": 1, "amount_to_be_paid": "100.00", "card_type": "CREDIT"},
				{"installments_number": 3, "amount_to_be_paid": "103.50", "card_type": "CREDIT"},
			},
		})
	})

	info, err := p.GetInstallments(context.Background(), provider.InstallmentInquireRequest{
		BinNumber: "450803",
		Amount:    100.00,
	})
	require.NoError(t, err)

	require.Len(t, info.Options, 2)
	assert.Equal(t, 3, info.Options[1].InstallmentNumber)
	assert.Equal(t, 103.50, info.Options[1].TotalPrice)
	assert.InDelta(t, 34.50, info.Options[1].InstallmentPrice, 0.001)
	assert.Equal(t, "CREDIT", info.CardType)
}

func TestExpiredTokenRefetchedOnce(t *testing.T) {
	var fetches, payments atomic.Int64
	p := newTestProvider(t, &fetches, func(w http.ResponseWriter, r *http.Request) {
		if payments.Add(1) == 1 {
			// Gateway rejected the cached token
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"status_code":401}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status_code": 100,
			"data":        map[string]any{"order_no": "sip-1"},
		})
	})

	resp, err := p.GetPaymentStatus(context.Background(), "invoice-1")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, int64(2), fetches.Load(), "rejected token must be dropped and refetched")
	assert.Equal(t, int64(2), payments.Load())
}

func TestNoCardStorage(t *testing.T) {
	var p provider.PaymentProvider = NewProvider()
	_, ok := p.(provider.CardStorage)
	assert.False(t, ok, "sipay must not advertise saved-card support")
}

func TestErrorKindTable(t *testing.T) {
	tests := []struct {
		code int
		want provider.ErrorKind
	}{
		{44, provider.ErrorKindInsufficientFunds},
		{42, provider.ErrorKindExpiredCard},
		{43, provider.ErrorKindInvalidCVV},
		{41, provider.ErrorKindInvalidCard},
		{47, provider.ErrorKindThreeDSFailed},
		{45, provider.ErrorKindDeclined},
		{999, provider.ErrorKindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mapErrorKind(tt.code), "code %d", tt.code)
	}
}
