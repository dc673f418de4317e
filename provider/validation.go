package provider

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidateConfigFields validates configuration against provided field
// definitions. Every provider calls this from its ValidateConfig so that an
// invalid credential bundle fails at initialization, before any network call.
func ValidateConfigFields(providerName string, config map[string]string, requiredFields []ConfigField) error {
	for _, field := range requiredFields {
		if !field.Required {
			continue
		}

		value, exists := config[field.Key]
		if !exists {
			return NewConfigError(providerName, fmt.Sprintf("required field '%s' is missing", field.Key))
		}

		if strings.TrimSpace(value) == "" {
			return NewConfigError(providerName, fmt.Sprintf("required field '%s' cannot be empty", field.Key))
		}

		if err := validateFieldType(providerName, field, value); err != nil {
			return err
		}
		if err := validateFieldPattern(providerName, field, value); err != nil {
			return err
		}
		if err := validateFieldLength(providerName, field, value); err != nil {
			return err
		}
	}

	return nil
}

// validateFieldType validates field based on its type
func validateFieldType(providerName string, field ConfigField, value string) error {
	switch field.Type {
	case "boolean":
		if value != "true" && value != "false" {
			return NewConfigError(providerName, fmt.Sprintf("field '%s' must be 'true' or 'false'", field.Key))
		}
	case "url":
		if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
			return NewConfigError(providerName, fmt.Sprintf("field '%s' must be an http(s) URL", field.Key))
		}
	}
	return nil
}

// validateFieldPattern validates field against its regex pattern
func validateFieldPattern(providerName string, field ConfigField, value string) error {
	if field.Pattern == "" {
		return nil
	}

	matched, err := regexp.MatchString(field.Pattern, value)
	if err != nil {
		return NewConfigError(providerName, fmt.Sprintf("invalid pattern for field '%s': %v", field.Key, err))
	}
	if !matched {
		return NewConfigError(providerName, fmt.Sprintf("field '%s' does not match required pattern", field.Key))
	}

	return nil
}

// validateFieldLength validates field length constraints
func validateFieldLength(providerName string, field ConfigField, value string) error {
	if field.MinLength > 0 && len(value) < field.MinLength {
		return NewConfigError(providerName, fmt.Sprintf("field '%s' must be at least %d characters", field.Key, field.MinLength))
	}
	if field.MaxLength > 0 && len(value) > field.MaxLength {
		return NewConfigError(providerName, fmt.Sprintf("field '%s' must not exceed %d characters", field.Key, field.MaxLength))
	}
	return nil
}
