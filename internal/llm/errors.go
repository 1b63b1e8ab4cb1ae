package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ProviderStatusError is a non-200 response from a provider reached over
// plain HTTP.
type ProviderStatusError struct {
	Provider   string
	StatusCode int
	Type       string
	Message    string
}

func (e *ProviderStatusError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s API error %d (%s): %s", e.Provider, e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Category groups provider failures by what the caller can do about them.
type Category string

const (
	CategoryOverloaded    Category = "overloaded"
	CategoryQuota         Category = "quota"
	CategoryMisconfigured Category = "misconfigured"
	CategoryOther         Category = "other"
)

// Classify maps a provider error to a Category. Status codes are used when
// the error carries one; otherwise the message is inspected.
func Classify(err error) Category {
	if err == nil {
		return CategoryOther
	}

	if code, typ := statusOf(err); code != 0 {
		switch {
		case code == 529 || code == http.StatusServiceUnavailable || typ == "overloaded_error":
			return CategoryOverloaded
		case code == http.StatusTooManyRequests || code == http.StatusPaymentRequired:
			return CategoryQuota
		case code == http.StatusUnauthorized || code == http.StatusForbidden || code == http.StatusNotFound:
			return CategoryMisconfigured
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "overloaded"):
		return CategoryOverloaded
	case strings.Contains(msg, "quota"), strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "insufficient_quota"), strings.Contains(msg, "credit balance"):
		return CategoryQuota
	case strings.Contains(msg, "api key"), strings.Contains(msg, "api_key"),
		strings.Contains(msg, "authentication"), strings.Contains(msg, "model not found"):
		return CategoryMisconfigured
	}
	return CategoryOther
}

// Retryable reports whether a failed completion is worth another attempt.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if Classify(err) == CategoryOverloaded {
		return true
	}
	code, _ := statusOf(err)
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func statusOf(err error) (int, string) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		typ := apiErr.Type
		return apiErr.HTTPStatusCode, typ
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode, ""
	}
	var statusErr *ProviderStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode, statusErr.Type
	}
	return 0, ""
}
