package provider

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	validate = validator.New()
	cvvRe    = regexp.MustCompile(`^\d{3,4}$`)
)

// ValidatePaymentRequest checks a canonical payment request before any
// mapping or signing: positive amount, buyer basics, and locally verifiable
// card data (Luhn, expiry, CVV length). Mappers can assume a request that
// passed here is structurally sound.
func ValidatePaymentRequest(request PaymentRequest) error {
	if request.Amount <= 0 {
		return errors.New("amount must be greater than 0")
	}
	if request.OrderID == "" {
		return errors.New("order ID is required")
	}
	if request.Buyer.Name == "" || request.Buyer.Surname == "" {
		return errors.New("buyer name and surname are required")
	}
	if err := validate.Var(request.Buyer.Email, "required,email"); err != nil {
		return errors.New("a valid buyer email is required")
	}
	return validateCard(request.Card)
}

// validateCard performs the local card checks
func validateCard(card CardInfo) error {
	if card.CardHolderName == "" {
		return errors.New("card holder name is required")
	}
	// validator's credit_card rule is a Luhn check plus length constraints.
	if err := validate.Var(card.CardNumber, "required,credit_card"); err != nil {
		return errors.New("card number failed validation")
	}
	if !cvvRe.MatchString(card.CVV) {
		return errors.New("CVV must be 3 or 4 digits")
	}
	return validateExpiry(card.ExpireMonth, card.ExpireYear)
}

// validateExpiry checks the card is not expired. Two-digit years are
// interpreted in the 2000s.
func validateExpiry(month, year string) error {
	m, err := strconv.Atoi(month)
	if err != nil || m < 1 || m > 12 {
		return fmt.Errorf("invalid expiry month %q", month)
	}

	y, err := strconv.Atoi(year)
	if err != nil {
		return fmt.Errorf("invalid expiry year %q", year)
	}
	if y < 100 {
		y += 2000
	}

	now := time.Now()
	if y < now.Year() || (y == now.Year() && m < int(now.Month())) {
		return errors.New("card is expired")
	}
	return nil
}
