package api

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

const (
	maxContentRunes = 100000
	maxNotesRunes   = 5000
	maxSymbolLength = 20
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateTriggerRequest checks an analyst submission and normalizes its
// symbol and whitespace in place.
func ValidateTriggerRequest(req *CreateTriggerRequest) error {
	req.Content = strings.TrimSpace(req.Content)
	req.SourceURL = strings.TrimSpace(req.SourceURL)
	req.CompanySymbol = strings.ToUpper(strings.TrimSpace(req.CompanySymbol))
	req.CompanyName = strings.TrimSpace(req.CompanyName)

	if req.Content == "" && req.SourceURL == "" {
		return ValidationError{Field: "content", Message: "content or source_url is required"}
	}
	if utf8.RuneCountInString(req.Content) > maxContentRunes {
		return ValidationError{Field: "content", Message: fmt.Sprintf("must be at most %d characters", maxContentRunes)}
	}
	if utf8.RuneCountInString(req.Notes) > maxNotesRunes {
		return ValidationError{Field: "notes", Message: fmt.Sprintf("must be at most %d characters", maxNotesRunes)}
	}
	if len(req.CompanySymbol) > maxSymbolLength || strings.ContainsAny(req.CompanySymbol, " \t\n") {
		return ValidationError{Field: "company_symbol", Message: "invalid symbol"}
	}
	if req.SourceURL != "" {
		if err := ValidateURL(req.SourceURL); err != nil {
			return err
		}
	}
	return nil
}

// ValidateURL validates a URL
func ValidateURL(urlStr string) error {
	u, err := url.Parse(urlStr)
	if err != nil {
		return ValidationError{Field: "source_url", Message: "invalid URL format"}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return ValidationError{Field: "source_url", Message: "URL must use http or https"}
	}

	if u.Host == "" {
		return ValidationError{Field: "source_url", Message: "URL must have a host"}
	}

	return nil
}
