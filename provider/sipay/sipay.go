package sipay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/odemehub/odemehub/provider"
)

const (
	providerName = "sipay"

	// API URLs
	apiSandboxURL    = "https://provisioning.sipay.com.tr/ccpayment"
	apiProductionURL = "https://app.sipay.com.tr/ccpayment"

	// API Endpoints
	endpointPay2D       = "/api/paySmart2D"
	endpointPay3D       = "/api/paySmart3D"
	endpointComplete    = "/api/payment/complete"
	endpointCheckStatus = "/api/checkstatus"
	endpointRefund      = "/api/refund"
	endpointGetPos      = "/api/getpos"

	// Sipay answers every call with a numeric status_code; 100 is success
	statusCodeSuccess = 100

	defaultTimeout = 30 * time.Second
)

// errorKinds maps sipay status codes onto the normalized taxonomy
var errorKinds = map[int]provider.ErrorKind{
	41: provider.ErrorKindInvalidCard,       // invalid card number
	42: provider.ErrorKindExpiredCard,       // card expired
	43: provider.ErrorKindInvalidCVV,        // invalid cvv
	44: provider.ErrorKindInsufficientFunds, // insufficient limit
	45: provider.ErrorKindDeclined,          // issuer declined
	46: provider.ErrorKindDeclined,          // fraud suspicion
	47: provider.ErrorKindThreeDSFailed,     // 3D verification failed
	68: provider.ErrorKindDeclined,          // transaction not permitted
}

func mapErrorKind(statusCode int) provider.ErrorKind {
	if kind, ok := errorKinds[statusCode]; ok {
		return kind
	}
	return provider.ErrorKindUnknown
}

// Provider implements provider.PaymentProvider for the sipay gateway.
// Every call carries a short-lived bearer token obtained from the token
// endpoint and cached by tokenSource. Saved cards are not offered.
type Provider struct {
	merchantKey  string
	isProduction bool
	client       *provider.ProviderHTTPClient
	tokens       *tokenSource
}

// NewProvider creates a new sipay payment provider
func NewProvider() provider.PaymentProvider {
	return &Provider{}
}

// GetRequiredConfig returns the configuration fields required for sipay
func (p *Provider) GetRequiredConfig(environment string) []provider.ConfigField {
	return []provider.ConfigField{
		{
			Key:         "appId",
			Required:    true,
			Type:        "string",
			Description: "Sipay application ID (merchant panel, API credentials)",
			Example:     "6d4a7e9374a76c15260fcc75e315b0b9",
			MinLength:   8,
			MaxLength:   64,
		},
		{
			Key:         "appSecret",
			Required:    true,
			Type:        "string",
			Description: "Sipay application secret (merchant panel, API credentials)",
			Example:     "b46a67571aa1e7ef5641dc3fa6f1712a",
			MinLength:   8,
			MaxLength:   64,
		},
		{
			Key:         "merchantKey",
			Required:    true,
			Type:        "string",
			Description: "Sipay merchant key (merchant panel, API credentials)",
			Example:     "$2y$10$w8iIf.xIr3fDjvMrPxTy3u...",
			MinLength:   8,
			MaxLength:   128,
		},
		{
			Key:         "environment",
			Required:    true,
			Type:        "string",
			Description: "Environment setting (sandbox or production)",
			Example:     "sandbox",
			Pattern:     "^(sandbox|production)$",
		},
	}
}

// ValidateConfig validates the provided configuration against sipay requirements
func (p *Provider) ValidateConfig(config map[string]string) error {
	return provider.ValidateConfigFields(providerName, config, p.GetRequiredConfig(config["environment"]))
}

// Initialize sets up the sipay provider and its token source
func (p *Provider) Initialize(conf map[string]string) error {
	appID := conf["appId"]
	appSecret := conf["appSecret"]
	p.merchantKey = conf["merchantKey"]
	if appID == "" || appSecret == "" || p.merchantKey == "" {
		return provider.NewConfigError(providerName, "appId, appSecret and merchantKey are required")
	}

	p.isProduction = conf["environment"] == "production"
	baseURL := apiSandboxURL
	if p.isProduction {
		baseURL = apiProductionURL
	}
	if conf["baseURL"] != "" {
		baseURL = conf["baseURL"]
	}

	p.client = provider.NewProviderHTTPClient(provider.CreateHTTPClientConfig(baseURL, p.isProduction, defaultTimeout))
	p.tokens = newTokenSource(appID, appSecret, p.client)
	return nil
}

// CreatePayment makes a non-3D payment request
func (p *Provider) CreatePayment(ctx context.Context, request provider.PaymentRequest) (*provider.PaymentResponse, error) {
	payload, err := p.mapPaymentRequest(request)
	if err != nil {
		return nil, err
	}
	return p.sendPaymentRequest(ctx, endpointPay2D, payload, request)
}

// Create3DPayment starts a 3D secure payment; the buyer is redirected to
// the issuer page the gateway returns.
func (p *Provider) Create3DPayment(ctx context.Context, request provider.PaymentRequest) (*provider.PaymentResponse, error) {
	if request.CallbackURL == "" {
		return nil, provider.NewConfigError(providerName, "callback URL is required for 3D secure payments")
	}
	payload, err := p.mapPaymentRequest(request)
	if err != nil {
		return nil, err
	}
	payload["return_url"] = request.CallbackURL
	payload["cancel_url"] = request.CallbackURL
	return p.sendPaymentRequest(ctx, endpointPay3D, payload, request)
}

// Complete3DPayment confirms a 3D payment after the issuer redirect
func (p *Provider) Complete3DPayment(ctx context.Context, transactionID string, callbackData map[string]string) (*provider.PaymentResponse, error) {
	if transactionID == "" {
		return nil, provider.NewConfigError(providerName, "transaction ID is required for 3D completion")
	}

	payload := map[string]any{
		"merchant_key": p.merchantKey,
		"invoice_id":   transactionID,
		"status":       "complete",
	}
	if hashKey := callbackData["hash_key"]; hashKey != "" {
		payload["hash_key"] = hashKey
	}

	resp, err := p.send(ctx, endpointComplete, payload)
	if err != nil {
		return nil, err
	}
	return p.mapResponse(resp, transactionID), nil
}

// GetPaymentStatus retrieves the current status of a payment by invoice id
func (p *Provider) GetPaymentStatus(ctx context.Context, transactionID string) (*provider.PaymentResponse, error) {
	if transactionID == "" {
		return nil, provider.NewConfigError(providerName, "transaction ID is required")
	}

	payload := map[string]any{
		"merchant_key":           p.merchantKey,
		"invoice_id":             transactionID,
		"include_pending_status": "true",
	}
	resp, err := p.send(ctx, endpointCheckStatus, payload)
	if err != nil {
		return nil, err
	}
	return p.mapResponse(resp, transactionID), nil
}

// RefundPayment refunds a payment fully or partially
func (p *Provider) RefundPayment(ctx context.Context, request provider.RefundRequest) (*provider.RefundResponse, error) {
	if request.TransactionID == "" {
		return nil, provider.NewConfigError(providerName, "transaction ID is required for refund")
	}
	if request.RefundAmount <= 0 {
		return nil, provider.NewConfigError(providerName, "refund amount must be greater than 0")
	}

	payload := map[string]any{
		"merchant_key":          p.merchantKey,
		"invoice_id":            request.TransactionID,
		"amount":                provider.FormatAmount(request.RefundAmount),
		"app_id":                p.tokens.appID,
		"refund_transaction_id": uuid.New().String(),
	}
	resp, err := p.send(ctx, endpointRefund, payload)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	refundResp := &provider.RefundResponse{
		Success:       resp.StatusCode == statusCodeSuccess,
		TransactionID: request.TransactionID,
		RefundAmount:  request.RefundAmount,
		SystemTime:    &now,
		RawResponse:   resp.Raw,
	}
	if refundResp.Success {
		data, _ := resp.Data.(map[string]any)
		refundResp.RefundID = stringData(data, "order_no")
		refundResp.Message = "Refund successful"
	} else {
		refundResp.ErrorCode = strconv.Itoa(resp.StatusCode)
		refundResp.Message = resp.StatusDescription
		refundResp.ErrorKind = mapErrorKind(resp.StatusCode)
	}
	return refundResp, nil
}

// GetInstallments queries the POS options for a BIN, one entry per
// available installment plan.
func (p *Provider) GetInstallments(ctx context.Context, request provider.InstallmentInquireRequest) (*provider.InstallmentInfo, error) {
	payload := map[string]any{
		"merchant_key":  p.merchantKey,
		"credit_card":   request.BinNumber,
		"amount":        provider.FormatAmount(request.Amount),
		"currency_code": "TRY",
	}
	resp, err := p.send(ctx, endpointGetPos, payload)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != statusCodeSuccess {
		return nil, provider.NewPaymentError(providerName, mapErrorKind(resp.StatusCode),
			strconv.Itoa(resp.StatusCode), resp.StatusDescription)
	}

	info := &provider.InstallmentInfo{BinNumber: request.BinNumber}
	entries, _ := resp.Data.([]any)
	for _, raw := range entries {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if info.CardType == "" {
			info.CardType = stringData(entry, "card_type")
		}
		if info.CardAssociation == "" {
			info.CardAssociation = stringData(entry, "card_program")
		}

		count := 1
		if v, ok := entry["installments_number"].(float64); ok {
			count = int(v)
		}
		total := request.Amount
		if v, err := provider.ParseAmount(stringData(entry, "amount_to_be_paid")); err == nil && v > 0 {
			total = v
		}
		info.Options = append(info.Options, provider.InstallmentOption{
			InstallmentNumber: count,
			InstallmentPrice:  total / float64(count),
			TotalPrice:        total,
		})
	}
	return info, nil
}

// mapPaymentRequest builds the shared payment payload
func (p *Provider) mapPaymentRequest(request provider.PaymentRequest) (map[string]any, error) {
	if request.Amount <= 0 {
		return nil, provider.NewConfigError(providerName, "amount must be greater than 0")
	}

	invoiceID := request.OrderID
	if invoiceID == "" {
		invoiceID = uuid.New().String()
	}

	items := request.Items
	if len(items) == 0 {
		items = []provider.Item{{Name: "Payment", Price: request.Amount}}
	}
	basket := make([]map[string]any, len(items))
	for i, item := range items {
		basket[i] = map[string]any{
			"name":     item.Name,
			"price":    provider.FormatAmount(item.Price),
			"quantity": 1,
		}
	}
	basketJSON, _ := json.Marshal(basket)

	payload := map[string]any{
		"merchant_key":        p.merchantKey,
		"invoice_id":          invoiceID,
		"invoice_description": request.Description,
		"total":               provider.FormatAmount(request.Amount),
		"currency_code":       provider.MapCurrency(request.Currency),
		"installments_number": max(request.InstallmentCount, 1),
		"cc_holder_name":      request.Card.CardHolderName,
		"cc_no":               request.Card.CardNumber,
		"expiry_month":        request.Card.ExpireMonth,
		"expiry_year":         request.Card.ExpireYear,
		"cvv":                 request.Card.CVV,
		"name":                request.Buyer.Name,
		"surname":             request.Buyer.Surname,
		"bill_email":          request.Buyer.Email,
		"bill_phone":          request.Buyer.PhoneNumber,
		"items":               string(basketJSON),
		"ip":                  request.ClientIP,
	}
	return payload, nil
}

// sendPaymentRequest posts a payment and maps the answer
func (p *Provider) sendPaymentRequest(ctx context.Context, endpoint string, payload map[string]any, request provider.PaymentRequest) (*provider.PaymentResponse, error) {
	resp, err := p.send(ctx, endpoint, payload)
	if err != nil {
		return nil, err
	}

	invoiceID, _ := payload["invoice_id"].(string)
	paymentResp := p.mapResponse(resp, invoiceID)
	if paymentResp.Amount == 0 {
		paymentResp.Amount = request.Amount
	}
	if paymentResp.Currency == "" {
		paymentResp.Currency = provider.MapCurrency(request.Currency)
	}
	return paymentResp, nil
}

// sipayResponse is the decoded answer shared by all endpoints
type sipayResponse struct {
	StatusCode        int
	StatusDescription string
	Data              any
	Raw               map[string]any
}

// send attaches a bearer token and posts a JSON payload. A rejected token
// is dropped from the cache and fetched once more before giving up.
func (p *Provider) send(ctx context.Context, endpoint string, payload map[string]any) (*sipayResponse, error) {
	resp, err := p.post(ctx, endpoint, payload)
	if err == nil || !isAuthRejection(err) {
		return resp, err
	}

	p.tokens.invalidate()
	return p.post(ctx, endpoint, payload)
}

func (p *Provider) post(ctx context.Context, endpoint string, payload map[string]any) (*sipayResponse, error) {
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.SendJSON(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: endpoint,
		Headers:  map[string]string{"Authorization": "Bearer " + token},
		Body:     payload,
	})
	if err != nil {
		return nil, provider.NewNetworkError(providerName, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return nil, provider.NewParseError(providerName, string(resp.Body), err)
	}

	parsed := &sipayResponse{Raw: raw, Data: raw["data"]}
	if code, ok := raw["status_code"].(float64); ok {
		parsed.StatusCode = int(code)
	}
	parsed.StatusDescription = stringData(raw, "status_description")
	return parsed, nil
}

// isAuthRejection reports whether the error is an HTTP 401 from the gateway
func isAuthRejection(err error) bool {
	var httpErr *provider.HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized
}

// mapResponse maps a sipay answer onto the canonical payment response
func (p *Provider) mapResponse(resp *sipayResponse, transactionID string) *provider.PaymentResponse {
	now := time.Now()
	paymentResp := &provider.PaymentResponse{
		Success:          resp.StatusCode == statusCodeSuccess,
		SystemTime:       &now,
		OrderID:          transactionID,
		TransactionID:    transactionID,
		ProviderResponse: resp.Raw,
	}

	data, _ := resp.Data.(map[string]any)
	if paymentResp.Success {
		paymentResp.Status = provider.StatusSuccessful
		paymentResp.Message = "Payment successful"
		if data != nil {
			paymentResp.PaymentID = stringData(data, "order_no")
			if v := stringData(data, "order_id"); v != "" && paymentResp.PaymentID == "" {
				paymentResp.PaymentID = v
			}
			if amount, err := provider.ParseAmount(stringData(data, "amount")); err == nil && amount > 0 {
				paymentResp.Amount = amount
			}
			paymentResp.CardType = stringData(data, "card_type")

			// A 3D answer carries the issuer redirect instead of a result
			if redirect := stringData(data, "redirect_url"); redirect != "" {
				paymentResp.Status = provider.StatusPending
				paymentResp.RedirectURL = redirect
				paymentResp.Message = "3D Secure authentication required"
			}
		}
	} else {
		paymentResp.Status = provider.StatusFailed
		paymentResp.ErrorCode = strconv.Itoa(resp.StatusCode)
		paymentResp.Message = resp.StatusDescription
		if paymentResp.Message == "" {
			paymentResp.Message = "Payment failed"
		}
		paymentResp.ErrorKind = mapErrorKind(resp.StatusCode)
	}
	return paymentResp
}

func stringData(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	switch v := data[key].(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return ""
	}
}
