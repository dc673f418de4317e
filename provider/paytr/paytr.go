package paytr

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odemehub/odemehub/provider"
)

const (
	providerName = "paytr"

	// PayTR serves sandbox and production from the same host; test_mode
	// in the signed payload selects the environment.
	apiBaseURL = "https://www.paytr.com"

	// API Endpoints
	endpointIFrameToken      = "/odeme/api/get-token"
	endpointDirectPayment    = "/odeme"
	endpointPaymentStatus    = "/odeme/durum-sorgu"
	endpointRefund           = "/odeme/iade"
	endpointInstallmentRates = "/odeme/api/installment-rates"

	// iFrame URL prefix the buyer is redirected to with the issued token
	iframeURLPrefix = "https://www.paytr.com/odeme/guvenli/"

	// PayTR status values
	statusSuccess = "success"

	// PayTR failure reason codes
	errorCodeInsufficientFunds = "YETERSIZ_BAKIYE"
	errorCodeInvalidCard       = "GECERSIZ_KART"
	errorCodeExpiredCard       = "SURESI_GECMIS_KART"
	errorCodeInvalidCVV        = "GECERSIZ_CVV"
	errorCodeFraudSuspect      = "SAHTEKARLIK_SUPHESI"
	errorCodeDeclined          = "KART_REDDEDILDI"
	errorCode3DFailed          = "3D_DOGRULAMA_HATASI"
	errorCodeSystemError       = "SISTEM_HATASI"

	defaultTimeout = 30 * time.Second
)

// errorKinds maps PayTR failure reason codes onto the normalized taxonomy
var errorKinds = map[string]provider.ErrorKind{
	errorCodeInsufficientFunds: provider.ErrorKindInsufficientFunds,
	errorCodeInvalidCard:       provider.ErrorKindInvalidCard,
	errorCodeExpiredCard:       provider.ErrorKindExpiredCard,
	errorCodeInvalidCVV:        provider.ErrorKindInvalidCVV,
	errorCodeFraudSuspect:      provider.ErrorKindDeclined,
	errorCodeDeclined:          provider.ErrorKindDeclined,
	errorCode3DFailed:          provider.ErrorKindThreeDSFailed,
}

func mapErrorKind(code string) provider.ErrorKind {
	if kind, ok := errorKinds[code]; ok {
		return kind
	}
	return provider.ErrorKindUnknown
}

// Provider implements provider.PaymentProvider for the PayTR gateway.
// PayTR takes form-encoded requests authenticated with an HMAC token and
// answers in JSON. Saved cards are not offered.
type Provider struct {
	merchantID   string
	merchantKey  string
	merchantSalt string
	isProduction bool
	client       *provider.ProviderHTTPClient
}

// NewProvider creates a new PayTR payment provider
func NewProvider() provider.PaymentProvider {
	return &Provider{}
}

// GetRequiredConfig returns the configuration fields required for PayTR
func (p *Provider) GetRequiredConfig(environment string) []provider.ConfigField {
	return []provider.ConfigField{
		{
			Key:         "merchantId",
			Required:    true,
			Type:        "number",
			Description: "PayTR Merchant ID (merchant panel, information page)",
			Example:     "123456",
			MinLength:   1,
			MaxLength:   20,
		},
		{
			Key:         "merchantKey",
			Required:    true,
			Type:        "string",
			Description: "PayTR Merchant Key (merchant panel, information page)",
			Example:     "xxxxxxxxxxxxxxxx",
			MinLength:   8,
			MaxLength:   64,
		},
		{
			Key:         "merchantSalt",
			Required:    true,
			Type:        "string",
			Description: "PayTR Merchant Salt (merchant panel, information page)",
			Example:     "yyyyyyyyyyyyyyyy",
			MinLength:   8,
			MaxLength:   64,
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

// ValidateConfig validates the provided configuration against PayTR requirements
func (p *Provider) ValidateConfig(config map[string]string) error {
	return provider.ValidateConfigFields(providerName, config, p.GetRequiredConfig(config["environment"]))
}

// Initialize sets up the PayTR payment provider with merchant credentials
func (p *Provider) Initialize(conf map[string]string) error {
	p.merchantID = conf["merchantId"]
	p.merchantKey = conf["merchantKey"]
	p.merchantSalt = conf["merchantSalt"]
	if p.merchantID == "" || p.merchantKey == "" || p.merchantSalt == "" {
		return provider.NewConfigError(providerName, "merchantId, merchantKey and merchantSalt are required")
	}

	p.isProduction = conf["environment"] == "production"
	baseURL := apiBaseURL
	if conf["baseURL"] != "" {
		baseURL = conf["baseURL"]
	}
	p.client = provider.NewProviderHTTPClient(provider.CreateHTTPClientConfig(baseURL, p.isProduction, defaultTimeout))
	return nil
}

// CreatePayment makes a non-3D payment through the direct API
func (p *Provider) CreatePayment(ctx context.Context, request provider.PaymentRequest) (*provider.PaymentResponse, error) {
	form, err := p.buildPaymentForm(request, false)
	if err != nil {
		return nil, err
	}

	resp, err := p.sendForm(ctx, endpointDirectPayment, form)
	if err != nil {
		return nil, err
	}
	return p.mapPaymentResponse(resp, form["merchant_oid"]), nil
}

// Create3DPayment requests an iFrame token; the buyer finishes the payment
// on PayTR's hosted page and the gateway posts the outcome to the callback
// URL.
func (p *Provider) Create3DPayment(ctx context.Context, request provider.PaymentRequest) (*provider.PaymentResponse, error) {
	if request.CallbackURL == "" {
		return nil, provider.NewConfigError(providerName, "callback URL is required for 3D payments")
	}

	form, err := p.buildPaymentForm(request, true)
	if err != nil {
		return nil, err
	}

	resp, err := p.sendForm(ctx, endpointIFrameToken, form)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	paymentResp := &provider.PaymentResponse{
		SystemTime:       &now,
		OrderID:          form["merchant_oid"],
		TransactionID:    form["merchant_oid"],
		Amount:           request.Amount,
		Currency:         provider.MapCurrency(request.Currency),
		ProviderResponse: resp,
	}

	if resp["status"] == statusSuccess {
		token, _ := resp["token"].(string)
		if token == "" {
			return nil, provider.NewParseError(providerName, fmt.Sprintf("%v", resp), nil)
		}
		paymentResp.Success = true
		paymentResp.Status = provider.StatusPending
		paymentResp.RedirectURL = iframeURLPrefix + token
		paymentResp.Message = "3D Secure authentication required"
	} else {
		paymentResp.Status = provider.StatusFailed
		paymentResp.ErrorCode = stringField(resp, "err_no")
		if paymentResp.ErrorCode == "" {
			paymentResp.ErrorCode = stringField(resp, "failed_reason_code")
		}
		paymentResp.Message = stringField(resp, "reason")
		if paymentResp.Message == "" {
			paymentResp.Message = stringField(resp, "err_msg")
		}
		if paymentResp.Message == "" {
			paymentResp.Message = "3D payment initialization failed"
		}
		if paymentResp.ErrorCode == "" {
			paymentResp.ErrorCode = reasonCode(paymentResp.Message)
		}
		paymentResp.ErrorKind = mapErrorKind(paymentResp.ErrorCode)
	}
	return paymentResp, nil
}

// Complete3DPayment verifies the callback PayTR posted after the hosted 3D
// flow. The callback hash must match before any field is trusted; no
// network call is made.
func (p *Provider) Complete3DPayment(ctx context.Context, transactionID string, callbackData map[string]string) (*provider.PaymentResponse, error) {
	merchantOid := callbackData["merchant_oid"]
	if merchantOid == "" {
		merchantOid = transactionID
	}
	if merchantOid == "" {
		return nil, provider.NewConfigError(providerName, "merchant_oid is required for 3D completion")
	}

	status := callbackData["status"]
	totalAmount := callbackData["total_amount"]
	hash := callbackData["hash"]
	if hash == "" || status == "" {
		return nil, provider.NewConfigError(providerName, "callback data is missing status or hash")
	}
	if hash != p.callbackHash(merchantOid, status, totalAmount) {
		return nil, provider.NewPaymentError(providerName, provider.ErrorKindThreeDSFailed, "", "callback hash verification failed")
	}

	now := time.Now()
	paymentResp := &provider.PaymentResponse{
		SystemTime:       &now,
		OrderID:          merchantOid,
		TransactionID:    merchantOid,
		ProviderResponse: callbackData,
	}
	if paymentID := callbackData["payment_id"]; paymentID != "" {
		paymentResp.PaymentID = paymentID
	}
	if totalAmount != "" {
		if kurus, err := strconv.ParseInt(totalAmount, 10, 64); err == nil {
			paymentResp.Amount = provider.FromKurus(kurus)
		}
	}

	if status == statusSuccess {
		paymentResp.Success = true
		paymentResp.Status = provider.StatusSuccessful
		paymentResp.Message = "Payment successful"
	} else {
		paymentResp.Status = provider.StatusFailed
		paymentResp.ErrorCode = callbackData["failed_reason_code"]
		paymentResp.Message = callbackData["failed_reason_msg"]
		if paymentResp.Message == "" {
			paymentResp.Message = "Payment failed"
		}
		paymentResp.ErrorKind = mapErrorKind(paymentResp.ErrorCode)
	}
	return paymentResp, nil
}

// GetPaymentStatus queries the current status of a payment by merchant
// order id.
func (p *Provider) GetPaymentStatus(ctx context.Context, transactionID string) (*provider.PaymentResponse, error) {
	if transactionID == "" {
		return nil, provider.NewConfigError(providerName, "transaction ID is required")
	}

	form := map[string]string{
		"merchant_id":  p.merchantID,
		"merchant_oid": transactionID,
	}
	form["paytr_token"] = p.signToken(p.merchantID + transactionID)

	resp, err := p.sendForm(ctx, endpointPaymentStatus, form)
	if err != nil {
		return nil, err
	}
	return p.mapPaymentResponse(resp, transactionID), nil
}

// RefundPayment refunds a payment fully or partially in kuruş
func (p *Provider) RefundPayment(ctx context.Context, request provider.RefundRequest) (*provider.RefundResponse, error) {
	if request.TransactionID == "" {
		return nil, provider.NewConfigError(providerName, "transaction ID is required for refund")
	}
	if request.RefundAmount <= 0 {
		return nil, provider.NewConfigError(providerName, "refund amount must be greater than 0")
	}

	returnAmount := strconv.FormatInt(provider.ToKurus(request.RefundAmount), 10)
	form := map[string]string{
		"merchant_id":   p.merchantID,
		"merchant_oid":  request.TransactionID,
		"return_amount": returnAmount,
		"reference_no":  uuid.New().String(),
	}
	form["paytr_token"] = p.signToken(p.merchantID + request.TransactionID + returnAmount)

	resp, err := p.sendForm(ctx, endpointRefund, form)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	refundResp := &provider.RefundResponse{
		Success:       resp["status"] == statusSuccess,
		TransactionID: request.TransactionID,
		RefundAmount:  request.RefundAmount,
		SystemTime:    &now,
		RawResponse:   resp,
	}
	if refundResp.Success {
		refundResp.RefundID = form["reference_no"]
		if returned, ok := resp["return_amount"].(float64); ok {
			refundResp.RefundAmount = provider.FromKurus(int64(returned))
		}
		refundResp.Message = "Refund successful"
	} else {
		refundResp.ErrorCode = stringField(resp, "err_no")
		refundResp.Message = stringField(resp, "err_msg")
		refundResp.ErrorKind = mapErrorKind(refundResp.ErrorCode)
	}
	return refundResp, nil
}

// GetInstallments queries the installment rates PayTR applies for a BIN
func (p *Provider) GetInstallments(ctx context.Context, request provider.InstallmentInquireRequest) (*provider.InstallmentInfo, error) {
	form := map[string]string{
		"merchant_id":     p.merchantID,
		"bin_number":      request.BinNumber,
		"request_id":      uuid.New().String(),
		"payment_amount":  strconv.FormatInt(provider.ToKurus(request.Amount), 10),
		"installment_all": "1",
	}
	form["paytr_token"] = p.signToken(p.merchantID + request.BinNumber + form["request_id"])

	resp, err := p.sendForm(ctx, endpointInstallmentRates, form)
	if err != nil {
		return nil, err
	}
	if resp["status"] != statusSuccess {
		code := stringField(resp, "err_no")
		return nil, provider.NewPaymentError(providerName, mapErrorKind(code), code, stringField(resp, "err_msg"))
	}

	info := &provider.InstallmentInfo{BinNumber: request.BinNumber}
	info.BankName = stringField(resp, "bank_name")
	info.CardType = stringField(resp, "card_type")
	info.CardAssociation = stringField(resp, "card_brand")

	rates, _ := resp["rates"].(map[string]any)
	for count := 2; count <= 12; count++ {
		rate, ok := rates[strconv.Itoa(count)].(float64)
		if !ok {
			continue
		}
		total := request.Amount * (1 + rate/100)
		info.Options = append(info.Options, provider.InstallmentOption{
			InstallmentNumber: count,
			InstallmentPrice:  total / float64(count),
			TotalPrice:        total,
		})
	}
	return info, nil
}

// buildPaymentForm assembles the signed form payload shared by the direct
// and iFrame APIs. Signing happens after every signed field is final, so a
// partially built payload can never leave the process.
func (p *Provider) buildPaymentForm(request provider.PaymentRequest, is3D bool) (map[string]string, error) {
	if request.Amount <= 0 {
		return nil, provider.NewConfigError(providerName, "amount must be greater than 0")
	}
	if request.ClientIP == "" {
		return nil, provider.NewConfigError(providerName, "client IP is required")
	}

	merchantOid := request.OrderID
	if merchantOid == "" {
		merchantOid = strings.ReplaceAll(uuid.New().String(), "-", "")
	}

	form := map[string]string{
		"merchant_id":       p.merchantID,
		"user_ip":           request.ClientIP,
		"merchant_oid":      merchantOid,
		"email":             request.Buyer.Email,
		"payment_amount":    strconv.FormatInt(provider.ToKurus(request.Amount), 10),
		"currency":          mapCurrency(request.Currency),
		"test_mode":         p.testMode(),
		"no_installment":    "0",
		"max_installment":   "0",
		"user_name":         strings.TrimSpace(request.Buyer.Name + " " + request.Buyer.Surname),
		"user_phone":        request.Buyer.PhoneNumber,
		"merchant_ok_url":   request.CallbackURL,
		"merchant_fail_url": request.CallbackURL,
		"user_basket":       buildUserBasket(request.Items, request.Amount),
		"lang":              "tr",
	}

	if request.InstallmentCount > 1 {
		form["max_installment"] = strconv.Itoa(request.InstallmentCount)
	}
	if request.Buyer.Address != nil {
		form["user_address"] = strings.Join([]string{
			request.Buyer.Address.Address,
			request.Buyer.Address.City,
			request.Buyer.Address.Country,
		}, ", ")
	}

	if is3D {
		form["non_3d"] = "0"
	} else {
		form["non_3d"] = "1"
		form["cc_owner"] = request.Card.CardHolderName
		form["card_number"] = request.Card.CardNumber
		form["expiry_month"] = request.Card.ExpireMonth
		form["expiry_year"] = request.Card.ExpireYear
		form["cvv"] = request.Card.CVV
	}

	form["paytr_token"] = p.requestToken(form)
	return form, nil
}

// mapPaymentResponse maps a PayTR JSON answer onto the canonical response
func (p *Provider) mapPaymentResponse(resp map[string]any, merchantOid string) *provider.PaymentResponse {
	now := time.Now()
	paymentResp := &provider.PaymentResponse{
		Success:          resp["status"] == statusSuccess,
		SystemTime:       &now,
		OrderID:          merchantOid,
		TransactionID:    merchantOid,
		ProviderResponse: resp,
	}

	if paymentResp.Success {
		paymentResp.Status = provider.StatusSuccessful
		paymentResp.Message = "Payment successful"
		paymentResp.PaymentID = stringField(resp, "payment_id")
		if kurusStr := stringField(resp, "payment_amount"); kurusStr != "" {
			if kurus, err := strconv.ParseInt(kurusStr, 10, 64); err == nil {
				paymentResp.Amount = provider.FromKurus(kurus)
			}
		}
	} else {
		paymentResp.Status = provider.StatusFailed
		paymentResp.ErrorCode = stringField(resp, "err_no")
		if paymentResp.ErrorCode == "" {
			paymentResp.ErrorCode = stringField(resp, "failed_reason_code")
		}
		paymentResp.Message = stringField(resp, "err_msg")
		if paymentResp.Message == "" {
			paymentResp.Message = stringField(resp, "reason")
		}
		if paymentResp.Message == "" {
			paymentResp.Message = "Payment failed"
		}
		if paymentResp.ErrorCode == "" {
			paymentResp.ErrorCode = reasonCode(paymentResp.Message)
		}
		paymentResp.ErrorKind = mapErrorKind(paymentResp.ErrorCode)
	}
	return paymentResp
}

// reasonCode derives a stable code from a failure reason for answers that
// carry no err_no or failed_reason_code, so a failed response never leaves
// without an error code.
func reasonCode(reason string) string {
	code := strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, strings.ToUpper(strings.TrimSpace(reason)))
	code = strings.Trim(code, "_")
	if code == "" {
		return "UNKNOWN"
	}
	if len(code) > 40 {
		code = code[:40]
	}
	return code
}

// sendForm posts a form-encoded request and decodes the JSON answer
func (p *Provider) sendForm(ctx context.Context, endpoint string, form map[string]string) (map[string]any, error) {
	resp, err := p.client.SendForm(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: endpoint,
		FormData: form,
	})
	if err != nil {
		return nil, provider.NewNetworkError(providerName, err)
	}

	var data map[string]any
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		return nil, provider.NewParseError(providerName, string(resp.Body), err)
	}
	return data, nil
}

// requestToken signs the payment form. The concatenation order is fixed by
// the gateway and must match the one PayTR recomputes server-side.
func (p *Provider) requestToken(form map[string]string) string {
	message := form["merchant_id"] + form["user_ip"] + form["merchant_oid"] + form["email"] +
		form["payment_amount"] + form["user_basket"] + form["no_installment"] +
		form["max_installment"] + form["currency"] + form["test_mode"]
	return p.signToken(message)
}

// callbackHash recomputes the hash PayTR attaches to 3D callbacks. Unlike
// request tokens the salt sits between merchant_oid and status here.
func (p *Provider) callbackHash(merchantOid, status, totalAmount string) string {
	return p.hmacBase64(merchantOid + p.merchantSalt + status + totalAmount)
}

// signToken is Base64(HMAC-SHA256(merchantKey, message + merchantSalt))
func (p *Provider) signToken(message string) string {
	return p.hmacBase64(message + p.merchantSalt)
}

func (p *Provider) hmacBase64(message string) string {
	mac := hmac.New(sha256.New, []byte(p.merchantKey))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (p *Provider) testMode() string {
	if p.isProduction {
		return "0"
	}
	return "1"
}

// mapCurrency converts canonical currency codes to PayTR's vocabulary
func mapCurrency(currency string) string {
	switch provider.MapCurrency(currency) {
	case "TRY":
		return "TL"
	case "USD":
		return "USD"
	case "EUR":
		return "EUR"
	case "GBP":
		return "GBP"
	default:
		return "TL"
	}
}

// buildUserBasket renders the basket as the nested JSON array PayTR expects
func buildUserBasket(items []provider.Item, totalAmount float64) string {
	if len(items) == 0 {
		basket := [][]string{{"Payment", provider.FormatAmount(totalAmount), "1"}}
		data, _ := json.Marshal(basket)
		return string(data)
	}

	basket := make([][]string, 0, len(items))
	for _, item := range items {
		basket = append(basket, []string{item.Name, provider.FormatAmount(item.Price), "1"})
	}
	data, _ := json.Marshal(basket)
	return string(data)
}

func stringField(data map[string]any, key string) string {
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
