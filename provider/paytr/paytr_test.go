package paytr

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odemehub/odemehub/provider"
)

const (
	testMerchantID   = "123456"
	testMerchantKey  = "test-merchant-key"
	testMerchantSalt = "test-merchant-salt"
)

func validConfig(baseURL string) map[string]string {
	return map[string]string{
		"merchantId":   testMerchantID,
		"merchantKey":  testMerchantKey,
		"merchantSalt": testMerchantSalt,
		"environment":  "sandbox",
		"baseURL":      baseURL,
	}
}

func testRequest() provider.PaymentRequest {
	return provider.PaymentRequest{
		OrderID:  "order1234567890",
		Amount:   100.00,
		Currency: "TRY",
		ClientIP: "203.0.113.10",
		Card: provider.CardInfo{
			CardHolderName: "John Doe",
			CardNumber:     "4355084355084358",
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

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p := NewProvider().(*Provider)
	require.NoError(t, p.Initialize(validConfig(server.URL)))
	return p
}

func hmacToken(message string) string {
	mac := hmac.New(sha256.New, []byte(testMerchantKey))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestInitialize(t *testing.T) {
	p := NewProvider().(*Provider)
	require.NoError(t, p.Initialize(validConfig("")))
	assert.NotNil(t, p.client)

	p = NewProvider().(*Provider)
	err := p.Initialize(map[string]string{"merchantId": "123456"})
	require.Error(t, err)
	assert.True(t, provider.IsKind(err, provider.ErrorKindConfig))
}

func TestRequestToken_FieldOrder(t *testing.T) {
	p := NewProvider().(*Provider)
	require.NoError(t, p.Initialize(validConfig("")))

	form := map[string]string{
		"merchant_id":     testMerchantID,
		"user_ip":         "203.0.113.10",
		"merchant_oid":    "order1",
		"email":           "john@example.com",
		"payment_amount":  "10000",
		"user_basket":     `[["Payment","100.00","1"]]`,
		"no_installment":  "0",
		"max_installment": "0",
		"currency":        "TL",
		"test_mode":       "1",
	}

	want := hmacToken(testMerchantID + "203.0.113.10" + "order1" + "john@example.com" +
		"10000" + `[["Payment","100.00","1"]]` + "0" + "0" + "TL" + "1" + testMerchantSalt)
	assert.Equal(t, want, p.requestToken(form))
}

func TestCreatePayment_Success(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, endpointDirectPayment, r.URL.Path)
		require.NoError(t, r.ParseForm())

		assert.Equal(t, testMerchantID, r.PostFormValue("merchant_id"))
		assert.Equal(t, "10000", r.PostFormValue("payment_amount"))
		assert.Equal(t, "TL", r.PostFormValue("currency"))
		assert.Equal(t, "1", r.PostFormValue("non_3d"))
		assert.Equal(t, "4355084355084358", r.PostFormValue("card_number"))
		assert.NotEmpty(t, r.PostFormValue("paytr_token"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":         "success",
			"payment_id":     "pt-1",
			"payment_amount": "10000",
		})
	})

	resp, err := p.CreatePayment(context.Background(), testRequest())
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, provider.StatusSuccessful, resp.Status)
	assert.Equal(t, "order1234567890", resp.OrderID)
	assert.Equal(t, 100.00, resp.Amount)
}

func TestCreatePayment_RequiresClientIP(t *testing.T) {
	p := NewProvider().(*Provider)
	require.NoError(t, p.Initialize(validConfig("")))

	request := testRequest()
	request.ClientIP = ""
	_, err := p.CreatePayment(context.Background(), request)
	require.Error(t, err)
	assert.True(t, provider.IsKind(err, provider.ErrorKindConfig))
}

func TestCreate3DPayment(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, endpointIFrameToken, r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "0", r.PostFormValue("non_3d"))
		assert.Empty(t, r.PostFormValue("card_number"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"token":  "iframe-token-abc",
		})
	})

	request := testRequest()
	request.CallbackURL = "https://merchant.example.com/callback"

	resp, err := p.Create3DPayment(context.Background(), request)
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, provider.StatusPending, resp.Status)
	assert.Equal(t, iframeURLPrefix+"iframe-token-abc", resp.RedirectURL)
}

func TestCreate3DPayment_FailureCarriesErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		response map[string]any
		wantCode string
		wantMsg  string
	}{
		{
			name:     "gateway sends err_no",
			response: map[string]any{"status": "failed", "err_no": "017", "err_msg": "Gecersiz istek"},
			wantCode: "017",
			wantMsg:  "Gecersiz istek",
		},
		{
			name:     "reason only",
			response: map[string]any{"status": "failed", "reason": "token service unavailable"},
			wantCode: "TOKEN_SERVICE_UNAVAILABLE",
			wantMsg:  "token service unavailable",
		},
		{
			name:     "empty failure",
			response: map[string]any{"status": "failed"},
			wantCode: "3D_PAYMENT_INITIALIZATION_FAILED",
			wantMsg:  "3D payment initialization failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(tt.response)
			})

			request := testRequest()
			request.CallbackURL = "https://merchant.example.com/callback"

			resp, err := p.Create3DPayment(context.Background(), request)
			require.NoError(t, err)

			assert.False(t, resp.Success)
			assert.Equal(t, provider.StatusFailed, resp.Status)
			assert.Equal(t, tt.wantCode, resp.ErrorCode)
			assert.Equal(t, tt.wantMsg, resp.Message)
		})
	}
}

func TestCreate3DPayment_RequiresCallbackURL(t *testing.T) {
	p := NewProvider().(*Provider)
	require.NoError(t, p.Initialize(validConfig("")))

	_, err := p.Create3DPayment(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, provider.IsKind(err, provider.ErrorKindConfig))
}

func TestComplete3DPayment_ValidHash(t *testing.T) {
	p := NewProvider().(*Provider)
	require.NoError(t, p.Initialize(validConfig("")))

	callbackData := map[string]string{
		"merchant_oid": "order1",
		"status":       "success",
		"total_amount": "10000",
		"payment_id":   "pt-9",
	}
	callbackData["hash"] = hmacToken("order1" + testMerchantSalt + "success" + "10000")

	resp, err := p.Complete3DPayment(context.Background(), "order1", callbackData)
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "pt-9", resp.PaymentID)
	assert.Equal(t, 100.00, resp.Amount)
}

func TestComplete3DPayment_TamperedHash(t *testing.T) {
	p := NewProvider().(*Provider)
	require.NoError(t, p.Initialize(validConfig("")))

	callbackData := map[string]string{
		"merchant_oid": "order1",
		"status":       "success",
		"total_amount": "999999", // amount changed after signing
		"hash":         hmacToken("order1" + testMerchantSalt + "success" + "10000"),
	}

	_, err := p.Complete3DPayment(context.Background(), "order1", callbackData)
	require.Error(t, err)
	assert.True(t, provider.IsKind(err, provider.ErrorKindThreeDSFailed))
}

func TestComplete3DPayment_FailedPayment(t *testing.T) {
	p := NewProvider().(*Provider)
	require.NoError(t, p.Initialize(validConfig("")))

	callbackData := map[string]string{
		"merchant_oid":       "order1",
		"status":             "failed",
		"total_amount":       "10000",
		"failed_reason_code": errorCodeInsufficientFunds,
		"failed_reason_msg":  "Yetersiz bakiye",
	}
	callbackData["hash"] = hmacToken("order1" + testMerchantSalt + "failed" + "10000")

	resp, err := p.Complete3DPayment(context.Background(), "order1", callbackData)
	require.NoError(t, err)

	assert.False(t, resp.Success)
	assert.Equal(t, provider.ErrorKindInsufficientFunds, resp.ErrorKind)
	assert.Equal(t, errorCodeInsufficientFunds, resp.ErrorCode)
}

func TestGetPaymentStatus(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, endpointPaymentStatus, r.URL.Path)
		require.NoError(t, r.ParseForm())

		wantToken := hmacToken(testMerchantID + "order1" + testMerchantSalt)
		assert.Equal(t, wantToken, r.PostFormValue("paytr_token"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":         "success",
			"payment_id":     "pt-1",
			"payment_amount": "10000",
		})
	})

	resp, err := p.GetPaymentStatus(context.Background(), "order1")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 100.00, resp.Amount)
}

func TestRefundPayment(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, endpointRefund, r.URL.Path)
		require.NoError(t, r.ParseForm())

		returnAmount := r.PostFormValue("return_amount")
		assert.Equal(t, "2550", returnAmount)
		wantToken := hmacToken(testMerchantID + "order1" + returnAmount + testMerchantSalt)
		assert.Equal(t, wantToken, r.PostFormValue("paytr_token"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":        "success",
			"return_amount": 2550,
		})
	})

	resp, err := p.RefundPayment(context.Background(), provider.RefundRequest{
		TransactionID: "order1",
		RefundAmount:  25.50,
	})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, 25.50, resp.RefundAmount)
	assert.NotEmpty(t, resp.RefundID)
}

func TestGetInstallments(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, endpointInstallmentRates, r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":    "success",
			"bank_name": "Akbank",
			"rates": map[string]any{
				"2": 1.5,
				"3": 2.5,
			},
		})
	})

	info, err := p.GetInstallments(context.Background(), provider.InstallmentInquireRequest{
		BinNumber: "435508",
		Amount:    100.00,
	})
	require.NoError(t, err)

	assert.Equal(t, "Akbank", info.BankName)
	require.Len(t, info.Options, 2)
	assert.Equal(t, 2, info.Options[0].InstallmentNumber)
	assert.InDelta(t, 101.50, info.Options[0].TotalPrice, 0.001)
	assert.InDelta(t, 50.75, info.Options[0].InstallmentPrice, 0.001)
}

func TestNoCardStorage(t *testing.T) {
	var p provider.PaymentProvider = NewProvider()
	_, ok := p.(provider.CardStorage)
	assert.False(t, ok, "paytr must not advertise saved-card support")
}

func TestAmountConversion(t *testing.T) {
	// strconv round trip for the amounts that go on the wire
	kurus := provider.ToKurus(100.00)
	assert.Equal(t, "10000", strconv.FormatInt(kurus, 10))
	assert.Equal(t, 100.00, provider.FromKurus(kurus))
}

func TestErrorKindTable(t *testing.T) {
	tests := []struct {
		code string
		want provider.ErrorKind
	}{
		{errorCodeInsufficientFunds, provider.ErrorKindInsufficientFunds},
		{errorCodeInvalidCard, provider.ErrorKindInvalidCard},
		{errorCodeExpiredCard, provider.ErrorKindExpiredCard},
		{errorCodeInvalidCVV, provider.ErrorKindInvalidCVV},
		{errorCode3DFailed, provider.ErrorKindThreeDSFailed},
		{errorCodeDeclined, provider.ErrorKindDeclined},
		{errorCodeSystemError, provider.ErrorKindUnknown},
		{"", provider.ErrorKindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mapErrorKind(tt.code), "code %q", tt.code)
	}
}
