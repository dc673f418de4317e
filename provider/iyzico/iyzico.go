package iyzico

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/odemehub/odemehub/provider"
)

const (
	providerName = "iyzico"

	// API URLs
	apiSandboxURL    = "https://sandbox-api.iyzipay.com"
	apiProductionURL = "https://api.iyzipay.com"

	// API Endpoints
	endpointPayment      = "/payment/auth"
	endpoint3DInit       = "/payment/3dsecure/initialize"
	endpoint3DComplete   = "/payment/3dsecure/auth"
	endpointRefund       = "/payment/refund"
	endpointRetrieve     = "/payment/detail"
	endpointInstallments = "/payment/iyzipos/installment"
	endpointCardList     = "/cardstorage/cards"
	endpointCardDelete   = "/cardstorage/card"

	// Iyzico status values
	statusSuccess = "success"

	defaultLocale  = "tr"
	defaultTimeout = 30 * time.Second
)

// errorKinds maps iyzico error codes onto the normalized taxonomy. Codes
// missing from the table fall through to ErrorKindUnknown with the original
// code and message preserved.
var errorKinds = map[string]provider.ErrorKind{
	"10005": provider.ErrorKindDeclined,          // do not honour
	"10012": provider.ErrorKindDeclined,          // invalid transaction
	"10041": provider.ErrorKindDeclined,          // lost card
	"10043": provider.ErrorKindDeclined,          // stolen card
	"10051": provider.ErrorKindInsufficientFunds, // insufficient funds
	"10054": provider.ErrorKindExpiredCard,       // expired card
	"10057": provider.ErrorKindDeclined,          // holder cannot do this transaction
	"10058": provider.ErrorKindDeclined,          // terminal cannot do this transaction
	"10084": provider.ErrorKindInvalidCVV,        // wrong CVC
	"10093": provider.ErrorKindDeclined,          // card blocked for online payments
	"10201": provider.ErrorKindDeclined,          // card did not allow the transaction
	"10204": provider.ErrorKindUnknown,           // generic gateway error
	"10206": provider.ErrorKindInvalidCVV,        // CVC length invalid
	"10207": provider.ErrorKindThreeDSFailed,     // 3DS verification declined by issuer
	"12":    provider.ErrorKindInvalidCard,       // invalid card number
	"15":    provider.ErrorKindInvalidCard,       // no such card issuer
}

// mapErrorKind resolves an iyzico error code to a normalized kind
func mapErrorKind(code string) provider.ErrorKind {
	if kind, ok := errorKinds[code]; ok {
		return kind
	}
	return provider.ErrorKindUnknown
}

// Provider implements provider.PaymentProvider for the iyzico gateway.
// It also implements the InstallmentInquirer and CardStorage capabilities.
type Provider struct {
	apiKey       string
	secretKey    string
	isProduction bool
	client       *provider.ProviderHTTPClient
}

// NewProvider creates a new iyzico payment provider
func NewProvider() provider.PaymentProvider {
	return &Provider{}
}

// GetRequiredConfig returns the configuration fields required for iyzico
func (p *Provider) GetRequiredConfig(environment string) []provider.ConfigField {
	return []provider.ConfigField{
		{
			Key:         "apiKey",
			Required:    true,
			Type:        "string",
			Description: "Iyzico API Key (merchant panel, settings > API keys)",
			Example:     "sandbox-BIOoONNaqF8UZZmP3...",
			MinLength:   20,
			MaxLength:   200,
		},
		{
			Key:         "secretKey",
			Required:    true,
			Type:        "string",
			Description: "Iyzico Secret Key (merchant panel, settings > API keys)",
			Example:     "sandbox-NjQwOTRkMDBkZmE1...",
			MinLength:   20,
			MaxLength:   200,
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

// ValidateConfig validates the provided configuration against iyzico requirements
func (p *Provider) ValidateConfig(config map[string]string) error {
	return provider.ValidateConfigFields(providerName, config, p.GetRequiredConfig(config["environment"]))
}

// Initialize sets up the iyzico provider with authentication credentials
func (p *Provider) Initialize(conf map[string]string) error {
	p.apiKey = conf["apiKey"]
	p.secretKey = conf["secretKey"]
	if p.apiKey == "" || p.secretKey == "" {
		return provider.NewConfigError(providerName, "apiKey and secretKey are required")
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
	return nil
}

// CreatePayment makes a non-3D payment request
func (p *Provider) CreatePayment(ctx context.Context, request provider.PaymentRequest) (*provider.PaymentResponse, error) {
	payload, err := p.mapPaymentRequest(request, false)
	if err != nil {
		return nil, err
	}
	return p.sendPaymentRequest(ctx, endpointPayment, payload)
}

// Create3DPayment starts a 3D secure payment process
func (p *Provider) Create3DPayment(ctx context.Context, request provider.PaymentRequest) (*provider.PaymentResponse, error) {
	if request.CallbackURL == "" {
		return nil, provider.NewConfigError(providerName, "callback URL is required for 3D secure payments")
	}
	payload, err := p.mapPaymentRequest(request, true)
	if err != nil {
		return nil, err
	}
	return p.sendPaymentRequest(ctx, endpoint3DInit, payload)
}

// Complete3DPayment completes a 3D secure payment after user authentication
func (p *Provider) Complete3DPayment(ctx context.Context, transactionID string, callbackData map[string]string) (*provider.PaymentResponse, error) {
	if transactionID == "" {
		return nil, provider.NewConfigError(providerName, "transaction ID is required for 3D completion")
	}

	payload := map[string]any{
		"paymentId": transactionID,
		"locale":    defaultLocale,
	}
	if conversationID := callbackData["conversationId"]; conversationID != "" {
		payload["conversationId"] = conversationID
	}
	if conversationData := callbackData["conversationData"]; conversationData != "" {
		payload["conversationData"] = conversationData
	}

	return p.sendPaymentRequest(ctx, endpoint3DComplete, payload)
}

// GetPaymentStatus retrieves the current status of a payment
func (p *Provider) GetPaymentStatus(ctx context.Context, transactionID string) (*provider.PaymentResponse, error) {
	if transactionID == "" {
		return nil, provider.NewConfigError(providerName, "transaction ID is required")
	}

	payload := map[string]any{
		"paymentId":      transactionID,
		"locale":         defaultLocale,
		"conversationId": uuid.New().String(),
	}
	return p.sendPaymentRequest(ctx, endpointRetrieve, payload)
}

// RefundPayment issues a full or partial refund
func (p *Provider) RefundPayment(ctx context.Context, request provider.RefundRequest) (*provider.RefundResponse, error) {
	if request.TransactionID == "" {
		return nil, provider.NewConfigError(providerName, "transaction ID is required for refund")
	}

	conversationID := request.ConversationID
	if conversationID == "" {
		conversationID = uuid.New().String()
	}

	payload := map[string]any{
		"paymentTransactionId": request.TransactionID,
		"locale":               defaultLocale,
		"conversationId":       conversationID,
		"ip":                   "127.0.0.1",
	}
	if request.RefundAmount > 0 {
		payload["price"] = provider.FormatAmount(request.RefundAmount)
	}
	if request.Currency != "" {
		payload["currency"] = provider.MapCurrency(request.Currency)
	}
	if request.Reason != "" {
		payload["reason"] = request.Reason
	}

	resp, err := p.sendRequest(ctx, endpointRefund, payload)
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
		if refundID, ok := resp["paymentTransactionId"].(string); ok {
			refundResp.RefundID = refundID
		}
		if price, ok := resp["price"].(string); ok {
			if amount, err := provider.ParseAmount(price); err == nil {
				refundResp.RefundAmount = amount
			}
		}
		refundResp.Message = "Refund successful"
	} else {
		refundResp.ErrorCode = stringField(resp, "errorCode")
		refundResp.Message = stringField(resp, "errorMessage")
		refundResp.ErrorKind = mapErrorKind(refundResp.ErrorCode)
	}
	return refundResp, nil
}

// GetInstallments queries the installment options iyzico offers for a BIN
func (p *Provider) GetInstallments(ctx context.Context, request provider.InstallmentInquireRequest) (*provider.InstallmentInfo, error) {
	payload := map[string]any{
		"locale":         defaultLocale,
		"conversationId": uuid.New().String(),
		"binNumber":      request.BinNumber,
		"price":          provider.FormatAmount(request.Amount),
	}

	resp, err := p.sendRequest(ctx, endpointInstallments, payload)
	if err != nil {
		return nil, err
	}
	if resp["status"] != statusSuccess {
		code := stringField(resp, "errorCode")
		return nil, provider.NewPaymentError(providerName, mapErrorKind(code), code, stringField(resp, "errorMessage"))
	}

	info := &provider.InstallmentInfo{BinNumber: request.BinNumber}
	details, _ := resp["installmentDetails"].([]any)
	if len(details) == 0 {
		return info, nil
	}

	detail, ok := details[0].(map[string]any)
	if !ok {
		return info, nil
	}
	info.BankName = stringField(detail, "bankName")
	info.BankCode = stringField(detail, "bankCode")
	info.CardType = stringField(detail, "cardType")
	info.CardAssociation = stringField(detail, "cardAssociation")

	prices, _ := detail["installmentPrices"].([]any)
	for _, raw := range prices {
		price, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		option := provider.InstallmentOption{}
		if n, ok := price["installmentNumber"].(float64); ok {
			option.InstallmentNumber = int(n)
		}
		if v, ok := price["installmentPrice"].(float64); ok {
			option.InstallmentPrice = v
		}
		if v, ok := price["totalPrice"].(float64); ok {
			option.TotalPrice = v
		}
		info.Options = append(info.Options, option)
	}
	return info, nil
}

// ListCards lists the saved cards registered under a card user key
func (p *Provider) ListCards(ctx context.Context, cardUserKey string) ([]provider.SavedCard, error) {
	if cardUserKey == "" {
		return nil, provider.NewConfigError(providerName, "card user key is required")
	}

	payload := map[string]any{
		"locale":         defaultLocale,
		"conversationId": uuid.New().String(),
		"cardUserKey":    cardUserKey,
	}
	resp, err := p.sendRequest(ctx, endpointCardList, payload)
	if err != nil {
		return nil, err
	}
	if resp["status"] != statusSuccess {
		code := stringField(resp, "errorCode")
		return nil, provider.NewPaymentError(providerName, mapErrorKind(code), code, stringField(resp, "errorMessage"))
	}

	var cards []provider.SavedCard
	details, _ := resp["cardDetails"].([]any)
	for _, raw := range details {
		detail, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		cards = append(cards, provider.SavedCard{
			CardToken:       stringField(detail, "cardToken"),
			CardUserKey:     cardUserKey,
			CardAlias:       stringField(detail, "cardAlias"),
			BinNumber:       stringField(detail, "binNumber"),
			LastFourDigits:  stringField(detail, "lastFourDigits"),
			CardType:        stringField(detail, "cardType"),
			CardAssociation: stringField(detail, "cardAssociation"),
		})
	}
	return cards, nil
}

// ChargeCard charges a previously saved card by its token
func (p *Provider) ChargeCard(ctx context.Context, request provider.ChargeSavedCardRequest) (*provider.PaymentResponse, error) {
	if request.CardToken == "" || request.CardUserKey == "" {
		return nil, provider.NewConfigError(providerName, "card token and card user key are required")
	}

	paymentReq := provider.PaymentRequest{
		OrderID:  request.OrderID,
		Amount:   request.Amount,
		Currency: request.Currency,
		Buyer:    request.Buyer,
		Items:    request.Items,
	}
	payload, err := p.mapPaymentRequest(paymentReq, false)
	if err != nil {
		return nil, err
	}
	// Replace plain card data with the stored token reference
	payload["paymentCard"] = map[string]any{
		"cardToken":   request.CardToken,
		"cardUserKey": request.CardUserKey,
	}
	return p.sendPaymentRequest(ctx, endpointPayment, payload)
}

// DeleteCard removes a saved card token
func (p *Provider) DeleteCard(ctx context.Context, cardToken, cardUserKey string) error {
	if cardToken == "" || cardUserKey == "" {
		return provider.NewConfigError(providerName, "card token and card user key are required")
	}

	payload := map[string]any{
		"locale":         defaultLocale,
		"conversationId": uuid.New().String(),
		"cardToken":      cardToken,
		"cardUserKey":    cardUserKey,
	}
	resp, err := p.send(ctx, http.MethodDelete, endpointCardDelete, payload)
	if err != nil {
		return err
	}
	if resp["status"] != statusSuccess {
		code := stringField(resp, "errorCode")
		return provider.NewPaymentError(providerName, mapErrorKind(code), code, stringField(resp, "errorMessage"))
	}
	return nil
}

// mapPaymentRequest builds the iyzico payment payload from the canonical
// request. The mapper never signs; signing happens at send time over the
// final serialized body.
func (p *Provider) mapPaymentRequest(request provider.PaymentRequest, is3D bool) (map[string]any, error) {
	if request.Amount <= 0 {
		return nil, provider.NewConfigError(providerName, "amount must be greater than 0")
	}

	conversationID := request.ConversationID
	if conversationID == "" {
		conversationID = uuid.New().String()
	}
	locale := request.Locale
	if locale == "" {
		locale = defaultLocale
	}
	installmentCount := request.InstallmentCount
	if installmentCount < 1 {
		installmentCount = 1
	}

	priceStr := provider.FormatAmount(request.Amount)
	payload := map[string]any{
		"locale":         locale,
		"conversationId": conversationID,
		"basketId":       request.OrderID,
		"price":          priceStr,
		"paidPrice":      priceStr,
		"currency":       provider.MapCurrency(request.Currency),
		"installment":    installmentCount,
		"paymentChannel": "WEB",
		"paymentGroup":   "PRODUCT",
	}

	if request.Card.CardNumber != "" {
		payload["paymentCard"] = map[string]any{
			"cardHolderName": request.Card.CardHolderName,
			"cardNumber":     request.Card.CardNumber,
			"expireMonth":    request.Card.ExpireMonth,
			"expireYear":     request.Card.ExpireYear,
			"cvc":            request.Card.CVV,
			"registerCard":   0,
		}
	}

	buyerIP := request.Buyer.IPAddress
	if buyerIP == "" {
		buyerIP = request.ClientIP
	}
	if buyerIP == "" {
		buyerIP = "127.0.0.1"
	}
	buyerID := request.Buyer.ID
	if buyerID == "" {
		buyerID = uuid.New().String()
	}

	var address, city, country, zipCode string
	if request.Buyer.Address != nil {
		address = request.Buyer.Address.Address
		city = request.Buyer.Address.City
		country = request.Buyer.Address.Country
		zipCode = request.Buyer.Address.ZipCode
	}

	payload["buyer"] = map[string]any{
		"id":                  buyerID,
		"name":                request.Buyer.Name,
		"surname":             request.Buyer.Surname,
		"gsmNumber":           request.Buyer.PhoneNumber,
		"email":               request.Buyer.Email,
		"identityNumber":      request.Buyer.IdentityNumber,
		"registrationAddress": address,
		"ip":                  buyerIP,
		"city":                city,
		"country":             country,
		"zipCode":             zipCode,
	}

	contactName := request.Buyer.Name + " " + request.Buyer.Surname
	addressBlock := map[string]any{
		"contactName": contactName,
		"address":     address,
		"city":        city,
		"country":     country,
		"zipCode":     zipCode,
	}
	payload["shippingAddress"] = addressBlock
	payload["billingAddress"] = addressBlock

	items := request.Items
	if len(items) == 0 {
		// iyzico requires at least one basket item
		items = []provider.Item{{ID: request.OrderID, Name: "Payment", Price: request.Amount}}
	}
	basketItems := make([]map[string]any, len(items))
	for i, item := range items {
		itemType := item.ItemType
		if itemType == "" {
			itemType = "PHYSICAL"
		}
		basketItems[i] = map[string]any{
			"id":        item.ID,
			"name":      item.Name,
			"category1": item.Category,
			"itemType":  itemType,
			"price":     provider.FormatAmount(item.Price),
		}
	}
	payload["basketItems"] = basketItems

	if is3D {
		payload["callbackUrl"] = request.CallbackURL
	}
	return payload, nil
}

// sendPaymentRequest sends a payment request and maps the iyzico response
// onto the canonical payment response.
func (p *Provider) sendPaymentRequest(ctx context.Context, endpoint string, payload map[string]any) (*provider.PaymentResponse, error) {
	now := time.Now()
	resp, err := p.sendRequest(ctx, endpoint, payload)
	if err != nil {
		return nil, err
	}

	paymentResp := &provider.PaymentResponse{
		Success:          resp["status"] == statusSuccess,
		SystemTime:       &now,
		ProviderResponse: resp,
	}

	if paymentResp.Success {
		paymentResp.Status = provider.StatusSuccessful
		paymentResp.Message = "Payment successful"
		paymentResp.PaymentID = stringField(resp, "paymentId")
		paymentResp.TransactionID = firstTransactionID(resp)
		if paymentResp.TransactionID == "" {
			paymentResp.TransactionID = paymentResp.PaymentID
		}
		paymentResp.OrderID = stringField(resp, "basketId")
		paymentResp.CardType = stringField(resp, "cardType")
		paymentResp.CardAssociation = stringField(resp, "cardAssociation")
		paymentResp.BinNumber = stringField(resp, "binNumber")
		paymentResp.LastFourDigits = stringField(resp, "lastFourDigits")
		if installment, ok := resp["installment"].(float64); ok {
			paymentResp.InstallmentCount = int(installment)
		}

		// 3D initialization answers with a challenge form instead of a result
		if html, ok := resp["threeDSHtmlContent"].(string); ok && html != "" {
			paymentResp.Status = provider.StatusPending
			paymentResp.HTML = decodeHTMLContent(html)
			paymentResp.Message = "3D Secure authentication required"
		}
		if redirectURL, ok := resp["redirectUrl"].(string); ok && redirectURL != "" {
			paymentResp.RedirectURL = redirectURL
		}
	} else {
		paymentResp.Status = provider.StatusFailed
		paymentResp.ErrorCode = stringField(resp, "errorCode")
		paymentResp.Message = stringField(resp, "errorMessage")
		if paymentResp.Message == "" {
			paymentResp.Message = "Payment failed"
		}
		paymentResp.ErrorKind = mapErrorKind(paymentResp.ErrorCode)
		// mdStatus travels only on 3D completion failures
		if mdStatus, ok := resp["mdStatus"].(float64); ok && mdStatus != 1 {
			paymentResp.ErrorKind = provider.ErrorKindThreeDSFailed
		}
	}

	if price, ok := resp["price"].(string); ok {
		if amount, err := provider.ParseAmount(price); err == nil {
			paymentResp.Amount = amount
		}
	} else if paidPrice, ok := resp["paidPrice"].(string); ok {
		if amount, err := provider.ParseAmount(paidPrice); err == nil {
			paymentResp.Amount = amount
		}
	}
	paymentResp.Currency = stringField(resp, "currency")

	return paymentResp, nil
}

// sendRequest posts a JSON payload to the iyzico API
func (p *Provider) sendRequest(ctx context.Context, endpoint string, payload map[string]any) (map[string]any, error) {
	return p.send(ctx, http.MethodPost, endpoint, payload)
}

func (p *Provider) send(ctx context.Context, method, endpoint string, payload map[string]any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, provider.NewConfigError(providerName, fmt.Sprintf("failed to marshal request: %v", err))
	}

	nonce := uuid.New().String()
	resp, err := p.client.SendJSON(ctx, &provider.HTTPRequest{
		Method:   method,
		Endpoint: endpoint,
		Headers: map[string]string{
			"Authorization": p.authHeader(nonce, body),
			"x-iyzi-rnd":    nonce,
		},
		Body: json.RawMessage(body),
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

// authHeader computes the request signature: HMAC-SHA256 over the random
// nonce concatenated with the raw JSON body, keyed by the secret key, then
// Base64-encoded.
func (p *Provider) authHeader(nonce string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(p.secretKey))
	mac.Write([]byte(nonce))
	mac.Write(body)
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("IYZWSv2 %s:%s", p.apiKey, signature)
}

// firstTransactionID pulls the transaction id of the first item transaction
func firstTransactionID(resp map[string]any) string {
	transactions, _ := resp["itemTransactions"].([]any)
	if len(transactions) == 0 {
		return ""
	}
	first, ok := transactions[0].(map[string]any)
	if !ok {
		return ""
	}
	return stringField(first, "paymentTransactionId")
}

// decodeHTMLContent unwraps the Base64 wrapping iyzico applies to the 3DS
// challenge form; raw HTML passes through untouched.
func decodeHTMLContent(content string) string {
	if decoded, err := base64.StdEncoding.DecodeString(content); err == nil {
		return string(decoded)
	}
	return content
}

// stringField reads a string value from a decoded JSON object, with numbers
// rendered as their literal form. Absent fields stay empty.
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
