package param

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/odemehub/odemehub/provider"
)

const (
	providerName = "param"

	// API URLs
	apiSandboxURL    = "https://testposws.param.com.tr/turkpos.ws/service_turkpos_test.asmx"
	apiProductionURL = "https://posws.param.com.tr/turkpos.ws/service_turkpos_prod.asmx"

	// Service operations
	opPayment      = "TP_WMD_UCD"
	op3DComplete   = "TP_WMD_Pay"
	opRefund       = "TP_Islem_Iptal_Iade_Kismi"
	opStatus       = "TP_Islem_Sorgulama"
	opInstallments = "TP_Ozel_Oran_SK_Liste"

	// Security modes on the payment operation
	securityNonThreeDS = "NS"
	securityThreeDS    = "3D"

	defaultTimeout = 30 * time.Second
)

// errorKinds maps the gateway's bank result codes (ISO 8583 style) onto
// the normalized taxonomy.
var errorKinds = map[string]provider.ErrorKind{
	"05": provider.ErrorKindDeclined,          // do not honour
	"12": provider.ErrorKindDeclined,          // invalid transaction
	"14": provider.ErrorKindInvalidCard,       // invalid card number
	"41": provider.ErrorKindDeclined,          // lost card
	"43": provider.ErrorKindDeclined,          // stolen card
	"51": provider.ErrorKindInsufficientFunds, // insufficient funds
	"54": provider.ErrorKindExpiredCard,       // expired card
	"57": provider.ErrorKindDeclined,          // transaction not permitted for holder
	"58": provider.ErrorKindDeclined,          // transaction not permitted for terminal
	"82": provider.ErrorKindInvalidCVV,        // wrong CVV
}

func mapErrorKind(code string) provider.ErrorKind {
	if kind, ok := errorKinds[code]; ok {
		return kind
	}
	return provider.ErrorKindUnknown
}

// succeeded evaluates the gateway's result code. "1" and "00" are success;
// a lone "0" and negative codes are failures. This is the gateway's own
// predicate, not a universal rule.
func succeeded(sonuc string) bool {
	return sonuc == "1" || sonuc == "00"
}

// Provider implements provider.PaymentProvider for the Param (TurkPos)
// gateway over SOAP 1.1. Saved cards are not offered.
type Provider struct {
	clientCode     string
	clientUsername string
	clientPassword string
	guid           string
	endpoint       string
	isProduction   bool
	client         *provider.ProviderHTTPClient
}

// NewProvider creates a new Param payment provider
func NewProvider() provider.PaymentProvider {
	return &Provider{}
}

// GetRequiredConfig returns the configuration fields required for Param
func (p *Provider) GetRequiredConfig(environment string) []provider.ConfigField {
	return []provider.ConfigField{
		{
			Key:         "clientCode",
			Required:    true,
			Type:        "string",
			Description: "Param client code (dealer panel)",
			Example:     "10738",
			MinLength:   4,
			MaxLength:   20,
		},
		{
			Key:         "clientUsername",
			Required:    true,
			Type:        "string",
			Description: "Param API username",
			Example:     "Test",
			MinLength:   2,
			MaxLength:   50,
		},
		{
			Key:         "clientPassword",
			Required:    true,
			Type:        "string",
			Description: "Param API password",
			Example:     "Test",
			MinLength:   2,
			MaxLength:   50,
		},
		{
			Key:         "guid",
			Required:    true,
			Type:        "string",
			Description: "Param terminal GUID",
			Example:     "0c13d406-873b-403b-9c09-a5766840d98c",
			MinLength:   36,
			MaxLength:   36,
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

// ValidateConfig validates the provided configuration against Param requirements
func (p *Provider) ValidateConfig(config map[string]string) error {
	return provider.ValidateConfigFields(providerName, config, p.GetRequiredConfig(config["environment"]))
}

// Initialize sets up the Param provider with terminal credentials
func (p *Provider) Initialize(conf map[string]string) error {
	p.clientCode = conf["clientCode"]
	p.clientUsername = conf["clientUsername"]
	p.clientPassword = conf["clientPassword"]
	p.guid = conf["guid"]
	if p.clientCode == "" || p.clientUsername == "" || p.clientPassword == "" || p.guid == "" {
		return provider.NewConfigError(providerName, "clientCode, clientUsername, clientPassword and guid are required")
	}

	p.isProduction = conf["environment"] == "production"
	p.endpoint = apiSandboxURL
	if p.isProduction {
		p.endpoint = apiProductionURL
	}
	if conf["baseURL"] != "" {
		p.endpoint = conf["baseURL"]
	}

	p.client = provider.NewProviderHTTPClient(provider.CreateHTTPClientConfig(p.endpoint, p.isProduction, defaultTimeout))
	return nil
}

// CreatePayment makes a non-3D payment request
func (p *Provider) CreatePayment(ctx context.Context, request provider.PaymentRequest) (*provider.PaymentResponse, error) {
	return p.pay(ctx, request, securityNonThreeDS)
}

// Create3DPayment starts a 3D secure payment; the gateway answers with the
// issuer's challenge form as Base64 HTML.
func (p *Provider) Create3DPayment(ctx context.Context, request provider.PaymentRequest) (*provider.PaymentResponse, error) {
	if request.CallbackURL == "" {
		return nil, provider.NewConfigError(providerName, "callback URL is required for 3D secure payments")
	}
	return p.pay(ctx, request, securityThreeDS)
}

func (p *Provider) pay(ctx context.Context, request provider.PaymentRequest, securityType string) (*provider.PaymentResponse, error) {
	if request.Amount <= 0 {
		return nil, provider.NewConfigError(providerName, "amount must be greater than 0")
	}
	if request.OrderID == "" {
		return nil, provider.NewConfigError(providerName, "order ID is required")
	}

	amount := provider.FormatAmountComma(request.Amount)
	fields := p.credentialFields()
	fields = append(fields,
		soapField{Name: "Islem_Guvenlik_Tip", Value: securityType},
		soapField{Name: "Islem_Hash", Value: p.transactionHash(amount, request.OrderID)},
		soapField{Name: "KK_Sahibi", Value: request.Card.CardHolderName},
		soapField{Name: "KK_No", Value: request.Card.CardNumber},
		soapField{Name: "KK_SK_Ay", Value: request.Card.ExpireMonth},
		soapField{Name: "KK_SK_Yil", Value: request.Card.ExpireYear},
		soapField{Name: "KK_CVC", Value: request.Card.CVV},
		soapField{Name: "KK_Sahibi_GSM", Value: request.Buyer.PhoneNumber},
		soapField{Name: "Hata_URL", Value: request.CallbackURL},
		soapField{Name: "Basarili_URL", Value: request.CallbackURL},
		soapField{Name: "Siparis_ID", Value: request.OrderID},
		soapField{Name: "Siparis_Aciklama", Value: request.Description},
		soapField{Name: "Taksit", Value: fmt.Sprintf("%d", max(request.InstallmentCount, 1))},
		soapField{Name: "Islem_Tutar", Value: amount},
		soapField{Name: "Toplam_Tutar", Value: amount},
		soapField{Name: "IPAdr", Value: request.ClientIP},
	)

	result, err := p.call(ctx, opPayment, fields)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	paymentResp := &provider.PaymentResponse{
		Success:          succeeded(result.Sonuc),
		SystemTime:       &now,
		OrderID:          request.OrderID,
		Amount:           request.Amount,
		Currency:         provider.MapCurrency(request.Currency),
		ProviderResponse: result,
	}

	if !paymentResp.Success {
		paymentResp.Status = provider.StatusFailed
		paymentResp.ErrorCode = failureCode(result)
		paymentResp.Message = result.SonucStr
		paymentResp.ErrorKind = mapErrorKind(result.BankaSonucKod)
		return paymentResp, nil
	}

	paymentResp.TransactionID = result.IslemGUID
	if paymentResp.TransactionID == "" {
		paymentResp.TransactionID = result.IslemID
	}
	paymentResp.PaymentID = result.IslemID

	if securityType == securityThreeDS && result.UCDHTML != "" && result.UCDHTML != "NONSECURE" {
		paymentResp.Status = provider.StatusPending
		paymentResp.HTML = decodeChallengeHTML(result.UCDHTML)
		paymentResp.Message = "3D Secure authentication required"
	} else {
		paymentResp.Status = provider.StatusSuccessful
		paymentResp.Message = "Payment successful"
	}
	return paymentResp, nil
}

// Complete3DPayment finishes a 3D payment with the verification data the
// issuer posted back through the callback.
func (p *Provider) Complete3DPayment(ctx context.Context, transactionID string, callbackData map[string]string) (*provider.PaymentResponse, error) {
	if transactionID == "" {
		return nil, provider.NewConfigError(providerName, "transaction ID is required for 3D completion")
	}
	md := callbackData["md"]
	if md == "" {
		md = callbackData["UCD_MD"]
	}
	if md == "" {
		return nil, provider.NewConfigError(providerName, "verification data (md) is missing from callback")
	}
	orderID := callbackData["orderId"]
	if orderID == "" {
		orderID = callbackData["Siparis_ID"]
	}

	fields := p.credentialFields()
	fields = append(fields,
		soapField{Name: "UCD_MD", Value: md},
		soapField{Name: "Islem_GUID", Value: transactionID},
		soapField{Name: "Siparis_ID", Value: orderID},
	)

	result, err := p.call(ctx, op3DComplete, fields)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	paymentResp := &provider.PaymentResponse{
		Success:          succeeded(result.Sonuc),
		SystemTime:       &now,
		OrderID:          orderID,
		TransactionID:    transactionID,
		ProviderResponse: result,
	}
	if paymentResp.Success {
		paymentResp.Status = provider.StatusSuccessful
		paymentResp.Message = "Payment successful"
		paymentResp.PaymentID = result.DekontID
		if amount, err := provider.ParseAmount(result.OdemeTutari); err == nil && amount > 0 {
			paymentResp.Amount = amount
		}
	} else {
		paymentResp.Status = provider.StatusFailed
		paymentResp.ErrorCode = failureCode(result)
		paymentResp.Message = result.SonucStr
		paymentResp.ErrorKind = provider.ErrorKindThreeDSFailed
		if kind := mapErrorKind(result.BankaSonucKod); kind != provider.ErrorKindUnknown {
			paymentResp.ErrorKind = kind
		}
	}
	return paymentResp, nil
}

// GetPaymentStatus queries a payment by order id
func (p *Provider) GetPaymentStatus(ctx context.Context, transactionID string) (*provider.PaymentResponse, error) {
	if transactionID == "" {
		return nil, provider.NewConfigError(providerName, "transaction ID is required")
	}

	fields := p.credentialFields()
	fields = append(fields, soapField{Name: "Siparis_ID", Value: transactionID})

	result, err := p.call(ctx, opStatus, fields)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	paymentResp := &provider.PaymentResponse{
		Success:          succeeded(result.Sonuc),
		SystemTime:       &now,
		OrderID:          transactionID,
		TransactionID:    transactionID,
		ProviderResponse: result,
	}
	if paymentResp.Success {
		paymentResp.Status = statusFromDurum(result.DurumStr)
		paymentResp.Message = result.SonucStr
		if amount, err := provider.ParseAmount(result.Tutar); err == nil && amount > 0 {
			paymentResp.Amount = amount
		}
	} else {
		paymentResp.Status = provider.StatusFailed
		paymentResp.ErrorCode = failureCode(result)
		paymentResp.Message = result.SonucStr
		paymentResp.ErrorKind = mapErrorKind(result.BankaSonucKod)
	}
	return paymentResp, nil
}

// RefundPayment refunds a payment fully or partially
func (p *Provider) RefundPayment(ctx context.Context, request provider.RefundRequest) (*provider.RefundResponse, error) {
	if request.TransactionID == "" {
		return nil, provider.NewConfigError(providerName, "transaction ID is required for refund")
	}
	if request.RefundAmount <= 0 {
		return nil, provider.NewConfigError(providerName, "refund amount must be greater than 0")
	}

	fields := p.credentialFields()
	fields = append(fields,
		soapField{Name: "Durum", Value: "IADE"},
		soapField{Name: "Siparis_ID", Value: request.TransactionID},
		soapField{Name: "Tutar", Value: provider.FormatAmountComma(request.RefundAmount)},
	)

	result, err := p.call(ctx, opRefund, fields)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	refundResp := &provider.RefundResponse{
		Success:       succeeded(result.Sonuc),
		TransactionID: request.TransactionID,
		RefundAmount:  request.RefundAmount,
		SystemTime:    &now,
		RawResponse:   result,
	}
	if refundResp.Success {
		refundResp.RefundID = result.DekontID
		refundResp.Message = "Refund successful"
	} else {
		refundResp.ErrorCode = failureCode(result)
		refundResp.Message = result.SonucStr
		refundResp.ErrorKind = mapErrorKind(result.BankaSonucKod)
	}
	return refundResp, nil
}

// GetInstallments queries the installment rates configured for the
// terminal. The gateway lists rates per card family rather than per BIN;
// the first family carrying rates prices the requested amount.
func (p *Provider) GetInstallments(ctx context.Context, request provider.InstallmentInquireRequest) (*provider.InstallmentInfo, error) {
	fields := p.credentialFields()

	result, err := p.call(ctx, opInstallments, fields)
	if err != nil {
		return nil, err
	}
	if !succeeded(result.Sonuc) {
		return nil, provider.NewPaymentError(providerName, provider.ErrorKindUnknown, result.Sonuc, result.SonucStr)
	}

	info := &provider.InstallmentInfo{BinNumber: request.BinNumber}
	for _, row := range result.DTBilgi.Rows {
		rates := row.rates()
		if len(rates) == 0 {
			continue
		}
		info.BankName = row.BankName
		for _, rate := range rates {
			total := provider.FromKurus(provider.ToKurus(request.Amount * (1 + rate.percent/100)))
			info.Options = append(info.Options, provider.InstallmentOption{
				InstallmentNumber: rate.count,
				InstallmentPrice:  provider.FromKurus(provider.ToKurus(total / float64(rate.count))),
				TotalPrice:        total,
			})
		}
		break
	}
	if len(info.Options) == 0 {
		return nil, provider.NewParseError(providerName, "", fmt.Errorf("%s answer carries no installment rate table", opInstallments))
	}
	return info, nil
}

// credentialFields builds the credential block every operation carries:
// the <G> element wrapping the client credentials, followed by the
// terminal GUID.
func (p *Provider) credentialFields() []soapField {
	return []soapField{
		{Name: "G", Children: []soapField{
			{Name: "CLIENT_CODE", Value: p.clientCode},
			{Name: "CLIENT_USERNAME", Value: p.clientUsername},
			{Name: "CLIENT_PASSWORD", Value: p.clientPassword},
		}},
		{Name: "GUID", Value: p.guid},
	}
}

// call posts one SOAP operation and parses the shared result shape
func (p *Provider) call(ctx context.Context, operation string, fields []soapField) (*operationResult, error) {
	envelope, err := buildEnvelope(operation, fields)
	if err != nil {
		return nil, provider.NewConfigError(providerName, fmt.Sprintf("failed to build request envelope: %v", err))
	}

	resp, err := p.client.SendSOAP(ctx, p.endpoint, soapActionFor(operation), envelope)
	if err != nil {
		return nil, provider.NewNetworkError(providerName, err)
	}

	result, err := parseResult(resp.Body)
	if err != nil {
		return nil, provider.NewParseError(providerName, string(resp.Body), err)
	}
	return result, nil
}

// transactionHash signs a payment: SHA1 over GUID + client code + amount +
// order id with no delimiter, rendered uppercase hex. This construction is
// the gateway's wire contract; it must not be changed or reused for
// anything else.
func (p *Provider) transactionHash(amount, orderID string) string {
	sum := sha1.Sum([]byte(p.guid + p.clientCode + amount + orderID))
	return strings.ToUpper(fmt.Sprintf("%x", sum))
}

// failureCode prefers the bank result code, falling back to the service
// result code, so the original failure is never dropped.
func failureCode(result *operationResult) string {
	if result.BankaSonucKod != "" {
		return result.BankaSonucKod
	}
	return result.Sonuc
}

// statusFromDurum maps the gateway's status strings onto canonical statuses
func statusFromDurum(durum string) provider.PaymentStatus {
	switch strings.ToUpper(strings.TrimSpace(durum)) {
	case "SUCCESS", "BASARILI", "ODENDI":
		return provider.StatusSuccessful
	case "IADE", "IADE_EDILDI":
		return provider.StatusRefunded
	case "IPTAL", "IPTAL_EDILDI":
		return provider.StatusCancelled
	case "FAIL", "BASARISIZ":
		return provider.StatusFailed
	default:
		return provider.StatusPending
	}
}

// decodeChallengeHTML unwraps the Base64 coating on the issuer challenge
// form; raw HTML passes through untouched.
func decodeChallengeHTML(content string) string {
	if decoded, err := base64.StdEncoding.DecodeString(content); err == nil {
		return string(decoded)
	}
	return content
}
