package provider

import (
	"context"
	"time"
)

// PaymentStatus represents the current status of a payment
type PaymentStatus string

const (
	StatusPending    PaymentStatus = "pending"
	StatusProcessing PaymentStatus = "processing"
	StatusSuccessful PaymentStatus = "successful"
	StatusFailed     PaymentStatus = "failed"
	StatusCancelled  PaymentStatus = "cancelled"
	StatusRefunded   PaymentStatus = "refunded"
)

// ThreeDSStatus represents the outcome of a 3-D Secure initialization
type ThreeDSStatus string

const (
	ThreeDSNotRequired ThreeDSStatus = "not_required"
	ThreeDSPending     ThreeDSStatus = "pending"
	ThreeDSCompleted   ThreeDSStatus = "completed"
	ThreeDSFailed      ThreeDSStatus = "failed"
)

// Address represents a physical address
type Address struct {
	City    string `json:"city"`
	Country string `json:"country"`
	Address string `json:"address"`
	ZipCode string `json:"zipCode,omitempty"`
}

// Customer represents the buyer information
type Customer struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Surname        string   `json:"surname"`
	Email          string   `json:"email"`
	PhoneNumber    string   `json:"phoneNumber,omitempty"`
	IdentityNumber string   `json:"identityNumber,omitempty"`
	IPAddress      string   `json:"ipAddress,omitempty"`
	Address        *Address `json:"address,omitempty"`
}

// CardInfo represents credit card information
type CardInfo struct {
	CardHolderName string `json:"cardHolderName"`
	CardNumber     string `json:"cardNumber"`
	ExpireMonth    string `json:"expireMonth"`
	ExpireYear     string `json:"expireYear"`
	CVV            string `json:"cvv"`
}

// Item represents a product or service item in the payment basket
type Item struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Category string  `json:"category,omitempty"`
	Price    float64 `json:"price"`
	ItemType string  `json:"itemType,omitempty"`
}

// PaymentRequest contains all information required to create a payment.
// It is consumed once per call and never mutated by this package.
type PaymentRequest struct {
	OrderID          string   `json:"orderId"`
	Amount           float64  `json:"amount"`
	Currency         string   `json:"currency"`
	InstallmentCount int      `json:"installmentCount,omitempty"`
	Card             CardInfo `json:"card"`
	Buyer            Customer `json:"buyer"`
	Items            []Item   `json:"basketItems,omitempty"`
	Description      string   `json:"description,omitempty"`
	CallbackURL      string   `json:"callbackUrl,omitempty"`
	ConversationID   string   `json:"conversationId,omitempty"`
	Locale           string   `json:"locale,omitempty"`
	ClientIP         string   `json:"clientIp,omitempty"`
}

// PaymentResponse contains the canonical result of a payment operation.
// A gateway decline is a response with Success=false and a mapped ErrorKind;
// transport and parse failures surface as *PaymentError instead.
type PaymentResponse struct {
	Success          bool          `json:"success"`
	Status           PaymentStatus `json:"status"`
	ErrorKind        ErrorKind     `json:"errorKind,omitempty"`
	ErrorCode        string        `json:"errorCode,omitempty"`
	Message          string        `json:"message,omitempty"`
	TransactionID    string        `json:"transactionId,omitempty"`
	PaymentID        string        `json:"paymentId,omitempty"`
	OrderID          string        `json:"orderId,omitempty"`
	Amount           float64       `json:"amount,omitempty"`
	Currency         string        `json:"currency,omitempty"`
	InstallmentCount int           `json:"installmentCount,omitempty"`
	CardType         string        `json:"cardType,omitempty"`
	CardAssociation  string        `json:"cardAssociation,omitempty"`
	BinNumber        string        `json:"binNumber,omitempty"`
	LastFourDigits   string        `json:"lastFourDigits,omitempty"`
	RedirectURL      string        `json:"redirectUrl,omitempty"`
	HTML             string        `json:"html,omitempty"`
	SystemTime       *time.Time    `json:"systemTime,omitempty"`
	ProviderResponse any           `json:"providerResponse,omitempty"`
}

// ThreeDSInitResult is the canonical outcome of a 3-D Secure initialization
type ThreeDSInitResult struct {
	Status        ThreeDSStatus `json:"status"`
	TransactionID string        `json:"transactionId,omitempty"`
	HTML          string        `json:"html,omitempty"`
	RedirectURL   string        `json:"redirectUrl,omitempty"`
	ErrorKind     ErrorKind     `json:"errorKind,omitempty"`
	ErrorCode     string        `json:"errorCode,omitempty"`
	Message       string        `json:"message,omitempty"`
}

// RefundRequest contains information to request a refund
type RefundRequest struct {
	TransactionID  string  `json:"transactionId"`
	RefundAmount   float64 `json:"refundAmount,omitempty"`
	Currency       string  `json:"currency,omitempty"`
	Reason         string  `json:"reason,omitempty"`
	ConversationID string  `json:"conversationId,omitempty"`
}

// RefundResponse contains the result of a refund request
type RefundResponse struct {
	Success       bool       `json:"success"`
	RefundID      string     `json:"refundId,omitempty"`
	TransactionID string     `json:"transactionId,omitempty"`
	RefundAmount  float64    `json:"refundAmount,omitempty"`
	ErrorKind     ErrorKind  `json:"errorKind,omitempty"`
	ErrorCode     string     `json:"errorCode,omitempty"`
	Message       string     `json:"message,omitempty"`
	SystemTime    *time.Time `json:"systemTime,omitempty"`
	RawResponse   any        `json:"rawResponse,omitempty"`
}

// InstallmentInquireRequest asks for installment options for a card BIN
type InstallmentInquireRequest struct {
	BinNumber string  `json:"binNumber"`
	Amount    float64 `json:"amount"`
}

// InstallmentOption is one available installment plan, ordered by count
type InstallmentOption struct {
	InstallmentNumber int     `json:"installmentNumber"`
	InstallmentPrice  float64 `json:"installmentPrice"`
	TotalPrice        float64 `json:"totalPrice"`
}

// InstallmentInfo describes the issuing bank and the available plans
type InstallmentInfo struct {
	BinNumber       string              `json:"binNumber"`
	BankName        string              `json:"bankName,omitempty"`
	BankCode        string              `json:"bankCode,omitempty"`
	CardType        string              `json:"cardType,omitempty"`
	CardAssociation string              `json:"cardAssociation,omitempty"`
	Options         []InstallmentOption `json:"options"`
}

// SavedCard is a provider-issued reference to a stored card. This core only
// passes tokens through; it never stores card data itself.
type SavedCard struct {
	CardToken       string `json:"cardToken"`
	CardUserKey     string `json:"cardUserKey,omitempty"`
	CardAlias       string `json:"cardAlias,omitempty"`
	BinNumber       string `json:"binNumber,omitempty"`
	LastFourDigits  string `json:"lastFourDigits,omitempty"`
	CardType        string `json:"cardType,omitempty"`
	CardAssociation string `json:"cardAssociation,omitempty"`
}

// ChargeSavedCardRequest charges a previously saved card by token
type ChargeSavedCardRequest struct {
	CardToken   string   `json:"cardToken"`
	CardUserKey string   `json:"cardUserKey"`
	OrderID     string   `json:"orderId"`
	Amount      float64  `json:"amount"`
	Currency    string   `json:"currency,omitempty"`
	Buyer       Customer `json:"buyer"`
	Items       []Item   `json:"basketItems,omitempty"`
}

// ConfigField describes one required configuration field for a provider
type ConfigField struct {
	Key         string `json:"key"`
	Required    bool   `json:"required"`
	Type        string `json:"type"` // "string", "number", "url", "email", "boolean"
	Description string `json:"description"`
	Example     string `json:"example,omitempty"`
	Pattern     string `json:"pattern,omitempty"`
	MinLength   int    `json:"minLength,omitempty"`
	MaxLength   int    `json:"maxLength,omitempty"`
}

// PaymentProvider defines the interface that all payment gateways implement
type PaymentProvider interface {
	// Initialize sets up the payment provider with authentication and configuration
	Initialize(config map[string]string) error

	// GetRequiredConfig returns the configuration fields required for this provider
	GetRequiredConfig(environment string) []ConfigField

	// ValidateConfig validates the provided configuration against provider requirements
	ValidateConfig(config map[string]string) error

	// CreatePayment makes a non-3D payment request
	CreatePayment(ctx context.Context, request PaymentRequest) (*PaymentResponse, error)

	// Create3DPayment starts a 3D secure payment process
	Create3DPayment(ctx context.Context, request PaymentRequest) (*PaymentResponse, error)

	// Complete3DPayment completes a 3D secure payment after user authentication
	Complete3DPayment(ctx context.Context, transactionID string, callbackData map[string]string) (*PaymentResponse, error)

	// GetPaymentStatus retrieves the current status of a payment
	GetPaymentStatus(ctx context.Context, transactionID string) (*PaymentResponse, error)

	// RefundPayment issues a refund for a payment
	RefundPayment(ctx context.Context, request RefundRequest) (*RefundResponse, error)
}

// InstallmentInquirer is an optional capability for providers that expose
// installment options per BIN. Callers probe for it structurally.
type InstallmentInquirer interface {
	GetInstallments(ctx context.Context, request InstallmentInquireRequest) (*InstallmentInfo, error)
}

// CardStorage is an optional capability for providers that support
// tokenized saved cards.
type CardStorage interface {
	ListCards(ctx context.Context, cardUserKey string) ([]SavedCard, error)
	ChargeCard(ctx context.Context, request ChargeSavedCardRequest) (*PaymentResponse, error)
	DeleteCard(ctx context.Context, cardToken, cardUserKey string) error
}

// ProviderFactory is a function type that creates a new PaymentProvider
type ProviderFactory func() PaymentProvider

// MapCurrency converts caller currency identifiers to ISO 4217 codes. The
// hub historically accepted the mobile SDK's enum names alongside ISO codes.
func MapCurrency(currency string) string {
	switch currency {
	case "", "tryLira", "TRY", "TL":
		return "TRY"
	case "usd", "USD":
		return "USD"
	case "eur", "EUR":
		return "EUR"
	case "gbp", "GBP":
		return "GBP"
	default:
		return currency
	}
}
