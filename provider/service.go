package provider

import (
	"context"
	"errors"
	"sync"

	"github.com/odemehub/odemehub/infra/logger"
	"github.com/odemehub/odemehub/infra/resilience"
)

// PaymentService is the public entry point composing validation, the
// provider protocol mappers, and the resilience layer. One breaker guards
// each provider; mutating operations run under the conservative retry
// policy, read-only operations under the aggressive one.
type PaymentService struct {
	registry        *ProviderRegistry
	breakers        *resilience.BreakerRegistry
	observer        resilience.Observer
	logger          *logger.SystemLogger
	mutatingPolicy  resilience.RetryConfig
	readOnlyPolicy  resilience.RetryConfig
	defaultProvider string

	mu        sync.RWMutex
	providers map[string]PaymentProvider
}

// ServiceOption configures a PaymentService
type ServiceOption func(*PaymentService)

// WithRegistry uses a custom provider registry instead of the default one
func WithRegistry(registry *ProviderRegistry) ServiceOption {
	return func(s *PaymentService) { s.registry = registry }
}

// WithObserver receives resilience events (retry attempts, breaker
// transitions). A nil observer changes nothing.
func WithObserver(observer resilience.Observer) ServiceOption {
	return func(s *PaymentService) { s.observer = observer }
}

// WithBreakerConfig overrides the per-provider circuit breaker settings
func WithBreakerConfig(cfg resilience.BreakerConfig) ServiceOption {
	return func(s *PaymentService) {
		cfg.OnStateChange = resilience.StateChangeEmitter(s.observer)
		s.breakers = resilience.NewBreakerRegistry(cfg)
	}
}

// WithRetryPolicies overrides the retry policies for mutating and read-only
// operations.
func WithRetryPolicies(mutating, readOnly resilience.RetryConfig) ServiceOption {
	return func(s *PaymentService) {
		s.mutatingPolicy = mutating
		s.readOnlyPolicy = readOnly
	}
}

// WithLogger uses a custom system logger
func WithLogger(l *logger.SystemLogger) ServiceOption {
	return func(s *PaymentService) { s.logger = l }
}

// NewPaymentService creates a payment service. Options are applied in order,
// so WithObserver should precede WithBreakerConfig when both are given.
func NewPaymentService(opts ...ServiceOption) *PaymentService {
	s := &PaymentService{
		registry:       DefaultRegistry,
		logger:         logger.GetGlobalLogger(),
		mutatingPolicy: resilience.ConservativePolicy(),
		readOnlyPolicy: resilience.AggressivePolicy(),
		providers:      make(map[string]PaymentProvider),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.breakers == nil {
		cfg := resilience.DefaultBreakerConfig()
		cfg.OnStateChange = resilience.StateChangeEmitter(s.observer)
		s.breakers = resilience.NewBreakerRegistry(cfg)
	}
	return s
}

// AddProvider validates the configuration, initializes the named provider
// and makes it available for payment operations. Invalid configuration
// fails here, before any operation can reach the network.
func (s *PaymentService) AddProvider(name string, config map[string]string) error {
	p, err := s.registry.CreateProvider(name)
	if err != nil {
		return NewConfigError(name, err.Error())
	}

	if err := p.ValidateConfig(config); err != nil {
		return err
	}
	if err := p.Initialize(config); err != nil {
		return err
	}

	s.mu.Lock()
	s.providers[name] = p
	if s.defaultProvider == "" {
		s.defaultProvider = name
	}
	s.mu.Unlock()

	s.logger.Info("provider initialized", logger.LogContext{Provider: name})
	return nil
}

// SetDefaultProvider sets the provider used when an operation names none
func (s *PaymentService) SetDefaultProvider(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[name]; !ok {
		return NewConfigError(name, "provider is not initialized")
	}
	s.defaultProvider = name
	return nil
}

// Breakers exposes the circuit breaker registry for operational control
// (manual reset, kill-switch) and inspection.
func (s *PaymentService) Breakers() *resilience.BreakerRegistry {
	return s.breakers
}

// provider resolves an initialized provider by name, falling back to the
// default provider for an empty name.
func (s *PaymentService) provider(name string) (string, PaymentProvider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if name == "" {
		name = s.defaultProvider
	}
	p, ok := s.providers[name]
	if !ok {
		if name == "" {
			return "", nil, NewConfigError("service", "no provider has been initialized")
		}
		return "", nil, NewConfigError(name, "provider is not initialized")
	}
	return name, p, nil
}

// executor builds the resilience composition for one provider call
func (s *PaymentService) executor(name string, policy resilience.RetryConfig) resilience.Executor {
	return resilience.Executor{
		Breaker:  s.breakers.Get(name),
		Retry:    &policy,
		Observer: s.observer,
	}
}

// normalizeError converts resilience and transport errors into typed
// payment errors; already-typed errors pass through unchanged.
func normalizeError(providerName string, err error) error {
	if err == nil {
		return nil
	}

	var openErr *resilience.OpenError
	if errors.As(err, &openErr) {
		return &PaymentError{
			Provider: providerName,
			Kind:     ErrorKindCircuitOpen,
			Message:  openErr.Error(),
			Err:      openErr,
		}
	}

	var pe *PaymentError
	if errors.As(err, &pe) {
		return err
	}

	return NewNetworkError(providerName, err)
}

// CreatePayment processes a non-3DS payment through the named provider
func (s *PaymentService) CreatePayment(ctx context.Context, providerName string, request PaymentRequest) (*PaymentResponse, error) {
	name, p, err := s.provider(providerName)
	if err != nil {
		return nil, err
	}
	if err := ValidatePaymentRequest(request); err != nil {
		return nil, NewConfigError(name, err.Error())
	}

	response, err := resilience.Execute(ctx, s.executor(name, s.mutatingPolicy), func(ctx context.Context) (*PaymentResponse, error) {
		return p.CreatePayment(ctx, request)
	})
	if err != nil {
		err = normalizeError(name, err)
		s.logger.Error("payment failed", err, logger.LogContext{Provider: name, RequestID: request.OrderID})
		return nil, err
	}

	s.logger.Info("payment processed", logger.LogContext{
		Provider:  name,
		RequestID: request.OrderID,
		Fields:    map[string]any{"success": response.Success, "amount": response.Amount},
	})
	return response, nil
}

// Init3DSPayment starts a 3-D Secure payment. The callback URL is mandatory
// and its absence fails before any network call.
func (s *PaymentService) Init3DSPayment(ctx context.Context, providerName string, request PaymentRequest) (*ThreeDSInitResult, error) {
	name, p, err := s.provider(providerName)
	if err != nil {
		return nil, err
	}
	if request.CallbackURL == "" {
		return nil, NewConfigError(name, "callback URL is required for 3D secure payments")
	}
	if err := ValidatePaymentRequest(request); err != nil {
		return nil, NewConfigError(name, err.Error())
	}

	response, err := resilience.Execute(ctx, s.executor(name, s.mutatingPolicy), func(ctx context.Context) (*PaymentResponse, error) {
		return p.Create3DPayment(ctx, request)
	})
	if err != nil {
		return nil, normalizeError(name, err)
	}

	return threeDSResultFrom(response), nil
}

// threeDSResultFrom maps a provider payment response onto the canonical 3DS
// initialization result. A success without challenge content is the
// frictionless flow and counts as completed.
func threeDSResultFrom(response *PaymentResponse) *ThreeDSInitResult {
	result := &ThreeDSInitResult{
		TransactionID: response.TransactionID,
		HTML:          response.HTML,
		RedirectURL:   response.RedirectURL,
		ErrorKind:     response.ErrorKind,
		ErrorCode:     response.ErrorCode,
		Message:       response.Message,
	}

	switch {
	case !response.Success:
		result.Status = ThreeDSFailed
	case response.HTML != "" || response.RedirectURL != "":
		result.Status = ThreeDSPending
	default:
		result.Status = ThreeDSCompleted
	}
	return result
}

// Complete3DSPayment finishes a 3-D Secure payment using the data the
// gateway posted to the callback URL.
func (s *PaymentService) Complete3DSPayment(ctx context.Context, providerName, transactionID string, callbackData map[string]string) (*PaymentResponse, error) {
	name, p, err := s.provider(providerName)
	if err != nil {
		return nil, err
	}
	if transactionID == "" {
		return nil, NewConfigError(name, "transaction ID is required for 3D completion")
	}

	response, err := resilience.Execute(ctx, s.executor(name, s.mutatingPolicy), func(ctx context.Context) (*PaymentResponse, error) {
		return p.Complete3DPayment(ctx, transactionID, callbackData)
	})
	if err != nil {
		return nil, normalizeError(name, err)
	}
	return response, nil
}

// RefundPayment refunds a payment fully or partially
func (s *PaymentService) RefundPayment(ctx context.Context, providerName string, request RefundRequest) (*RefundResponse, error) {
	name, p, err := s.provider(providerName)
	if err != nil {
		return nil, err
	}
	if request.TransactionID == "" {
		return nil, NewConfigError(name, "transaction ID is required for refund")
	}

	response, err := resilience.Execute(ctx, s.executor(name, s.mutatingPolicy), func(ctx context.Context) (*RefundResponse, error) {
		return p.RefundPayment(ctx, request)
	})
	if err != nil {
		return nil, normalizeError(name, err)
	}
	return response, nil
}

// GetPaymentStatus retrieves the current status of a payment
func (s *PaymentService) GetPaymentStatus(ctx context.Context, providerName, transactionID string) (*PaymentResponse, error) {
	name, p, err := s.provider(providerName)
	if err != nil {
		return nil, err
	}
	if transactionID == "" {
		return nil, NewConfigError(name, "transaction ID is required")
	}

	response, err := resilience.Execute(ctx, s.executor(name, s.readOnlyPolicy), func(ctx context.Context) (*PaymentResponse, error) {
		return p.GetPaymentStatus(ctx, transactionID)
	})
	if err != nil {
		return nil, normalizeError(name, err)
	}
	return response, nil
}

// GetInstallments queries installment options for a BIN. Providers without
// installment support fail with an unsupported-operation error.
func (s *PaymentService) GetInstallments(ctx context.Context, providerName string, request InstallmentInquireRequest) (*InstallmentInfo, error) {
	name, p, err := s.provider(providerName)
	if err != nil {
		return nil, err
	}

	inquirer, ok := p.(InstallmentInquirer)
	if !ok {
		return nil, NewUnsupportedError(name, "installment inquiry")
	}
	if len(request.BinNumber) < 6 || request.Amount <= 0 {
		return nil, NewConfigError(name, "a BIN of at least 6 digits and a positive amount are required")
	}

	info, err := resilience.Execute(ctx, s.executor(name, s.readOnlyPolicy), func(ctx context.Context) (*InstallmentInfo, error) {
		return inquirer.GetInstallments(ctx, request)
	})
	if err != nil {
		return nil, normalizeError(name, err)
	}
	return info, nil
}

// ListCards lists the saved cards of a card user
func (s *PaymentService) ListCards(ctx context.Context, providerName, cardUserKey string) ([]SavedCard, error) {
	name, p, err := s.provider(providerName)
	if err != nil {
		return nil, err
	}

	storage, ok := p.(CardStorage)
	if !ok {
		return nil, NewUnsupportedError(name, "saved cards")
	}

	cards, err := resilience.Execute(ctx, s.executor(name, s.readOnlyPolicy), func(ctx context.Context) ([]SavedCard, error) {
		return storage.ListCards(ctx, cardUserKey)
	})
	if err != nil {
		return nil, normalizeError(name, err)
	}
	return cards, nil
}

// ChargeCard charges a previously saved card by its token
func (s *PaymentService) ChargeCard(ctx context.Context, providerName string, request ChargeSavedCardRequest) (*PaymentResponse, error) {
	name, p, err := s.provider(providerName)
	if err != nil {
		return nil, err
	}

	storage, ok := p.(CardStorage)
	if !ok {
		return nil, NewUnsupportedError(name, "saved cards")
	}
	if request.CardToken == "" || request.CardUserKey == "" {
		return nil, NewConfigError(name, "card token and card user key are required")
	}
	if request.Amount <= 0 {
		return nil, NewConfigError(name, "amount must be greater than 0")
	}

	response, err := resilience.Execute(ctx, s.executor(name, s.mutatingPolicy), func(ctx context.Context) (*PaymentResponse, error) {
		return storage.ChargeCard(ctx, request)
	})
	if err != nil {
		return nil, normalizeError(name, err)
	}
	return response, nil
}

// DeleteCard removes a saved card token
func (s *PaymentService) DeleteCard(ctx context.Context, providerName, cardToken, cardUserKey string) error {
	name, p, err := s.provider(providerName)
	if err != nil {
		return err
	}

	storage, ok := p.(CardStorage)
	if !ok {
		return NewUnsupportedError(name, "saved cards")
	}
	if cardToken == "" {
		return NewConfigError(name, "card token is required")
	}

	_, err = resilience.Execute(ctx, s.executor(name, s.mutatingPolicy), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, storage.DeleteCard(ctx, cardToken, cardUserKey)
	})
	return normalizeError(name, err)
}
