package service

import (
	"errors"
	"fmt"
	"strings"
)

// Extraction pipeline failure taxonomy. Every failure is terminal for its
// request; nothing here is retried.
var (
	ErrUnsupportedMediaType  = errors.New("unsupported media type")
	ErrServiceMisconfigured  = errors.New("model service is not configured")
	ErrUpstreamUnavailable   = errors.New("model service unavailable")
	ErrInvalidResponseFormat = errors.New("model response is not valid JSON")
	ErrIncompleteResponse    = errors.New("model response failed validation")
	ErrMalformedAmount       = errors.New("malformed total_value in model response")
	ErrMalformedDate         = errors.New("malformed issue_date in model response")
)

// MissingKeyError reports a key absent from the model's JSON object. A key
// present with a null value is not a MissingKeyError.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("missing key %q in model response", e.Key)
}

// IncompleteExtractionError reports extracted fields that came back null.
// Missing holds human-readable labels in the fixed order
// total value, issue date, CNPJ.
type IncompleteExtractionError struct {
	Missing []string
}

func (e *IncompleteExtractionError) Error() string {
	return fmt.Sprintf("could not extract all required invoice fields, missing: %s", strings.Join(e.Missing, ", "))
}
