package service

import (
	"encoding/json"
	"fmt"
	"time"

	"invoicescan/internal/dto"

	"github.com/shopspring/decimal"
)

const issueDateLayout = "2006-01-02"

// normalizeExtractedData converts the model's decoded JSON object into typed
// invoice fields. The object must have been decoded with json.Decoder.UseNumber
// so that amounts reach the decimal parser as their original text and never
// pass through a binary float.
//
// All three keys must be present, even with null values. A missing key fails
// with MissingKeyError; unparseable values fail with ErrMalformedAmount or
// ErrMalformedDate.
func normalizeExtractedData(raw map[string]any) (*dto.ExtractedInvoiceData, error) {
	for _, key := range []string{"total_value", "issue_date", "cnpj"} {
		if _, ok := raw[key]; !ok {
			return nil, &MissingKeyError{Key: key}
		}
	}

	result := &dto.ExtractedInvoiceData{}

	if v := raw["total_value"]; v != nil {
		var text string
		switch value := v.(type) {
		case json.Number:
			text = value.String()
		case string:
			text = value
		default:
			return nil, fmt.Errorf("%w: unexpected type %T", ErrMalformedAmount, v)
		}
		amount, err := decimal.NewFromString(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformedAmount, text)
		}
		result.TotalValue = &amount
	}

	if v := raw["issue_date"]; v != nil {
		text, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected type %T", ErrMalformedDate, v)
		}
		issueDate, err := time.Parse(issueDateLayout, text)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformedDate, text)
		}
		result.IssueDate = &issueDate
	}

	if v := raw["cnpj"]; v != nil {
		text, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("cnpj: expected string in model response, got %T", v)
		}
		// Passed through unchanged; formatting is the model's responsibility
		result.CNPJ = &text
	}

	return result, nil
}
