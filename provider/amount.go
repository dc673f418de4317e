package provider

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ToKurus converts a major-unit amount to integer kuruş (amount×100),
// rounding half away from zero. Several gateways require amounts on the
// wire as integer minor units.
func ToKurus(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// FromKurus is the exact inverse of ToKurus
func FromKurus(kurus int64) float64 {
	return float64(kurus) / 100
}

// FormatAmount renders a major-unit amount as a dot-decimal string with two
// fraction digits ("100.00").
func FormatAmount(amount float64) string {
	return fmt.Sprintf("%.2f", amount)
}

// FormatAmountComma renders a major-unit amount with a comma decimal
// separator ("100,00"), the format the SOAP bank gateways expect.
func FormatAmountComma(amount float64) string {
	return strings.ReplaceAll(FormatAmount(amount), ".", ",")
}

// ParseAmount parses a decimal amount string, accepting both dot and comma
// decimal separators.
func ParseAmount(value string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(value), ",", "."), 64)
}
