// Package odemehub provides client-side integrations for multiple Turkish
// payment gateways behind a single canonical API. Each gateway speaks its own
// protocol, authentication scheme, and error vocabulary; odemehub maps all of
// them onto one payment model, one error taxonomy, and one resilience layer.
//
// # Supported Gateways
//
//   - İyzico: JSON API with HMAC-SHA256 request signing, 3D secure, refunds,
//     installment inquiry, and card storage
//   - PayTR: form-encoded token API with iframe based 3D secure and
//     HMAC-verified callbacks
//   - Param: SOAP API with SHA1 transaction hashing
//   - Sipay: JSON API with OAuth-style bearer tokens
//
// # Quick Start
//
//	package main
//
//	import (
//	    "context"
//
//	    "github.com/odemehub/odemehub/provider"
//	    _ "github.com/odemehub/odemehub/provider/iyzico" // register the gateway
//	)
//
//	func main() {
//	    service := provider.NewPaymentService()
//
//	    err := service.AddProvider("iyzico", map[string]string{
//	        "apiKey":      "your-api-key",
//	        "secretKey":   "your-secret-key",
//	        "environment": "sandbox", // or "production"
//	    })
//	    if err != nil {
//	        panic(err)
//	    }
//
//	    response, err := service.CreatePayment(context.Background(), "iyzico", provider.PaymentRequest{
//	        OrderID:  "order-1001",
//	        Amount:   100.50,
//	        Currency: "TRY",
//	        Buyer: provider.Customer{
//	            Name:    "John",
//	            Surname: "Doe",
//	            Email:   "john@example.com",
//	        },
//	        Card: provider.CardInfo{
//	            CardHolderName: "John Doe",
//	            CardNumber:     "5528790000000008",
//	            ExpireMonth:    "12",
//	            ExpireYear:     "2030",
//	            CVV:            "123",
//	        },
//	    })
//	    if err != nil {
//	        panic(err) // transport, configuration, or circuit failure
//	    }
//	    if !response.Success {
//	        // a gateway decline is a result, not an error
//	        _ = response.ErrorKind // e.g. provider.ErrorKindInsufficientFunds
//	    }
//	}
//
// # Declines Versus Failures
//
// A payment the gateway processed and declined comes back as a
// PaymentResponse with Success=false and a normalized ErrorKind; the
// gateway's original code and message are preserved alongside. Errors are
// reserved for calls that never produced a decision: network failures,
// unparseable responses, bad configuration, or an open circuit breaker. All
// returned errors unwrap to *provider.PaymentError and can be classified
// with provider.IsKind.
//
// # Resilience
//
// Every provider operation runs through a per-provider circuit breaker and a
// retry policy with exponential backoff and jitter. Mutating operations
// (payments, refunds) use a conservative policy; read-only operations
// (status, installments) retry more aggressively. When a provider's breaker
// is open, calls fail fast with ErrorKindCircuitOpen instead of waiting on a
// dead gateway. Breaker state is observable and controllable through
// PaymentService.Breakers.
//
// # Adding a Gateway
//
// Implement provider.PaymentProvider, register a factory from an init
// function in your package, and optionally implement the
// provider.InstallmentInquirer and provider.CardStorage capability
// interfaces. The service probes capabilities at call time and reports
// ErrorKindUnsupported for gateways that lack one.
//
// Runnable examples live in the examples/ directory.
package odemehub
