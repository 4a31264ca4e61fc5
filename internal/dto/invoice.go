package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExtractedInvoiceData holds the typed result of one extraction attempt.
// A nil field means the model explicitly reported the value as absent;
// a raw unparsed value never survives past the normalizer.
type ExtractedInvoiceData struct {
	TotalValue *decimal.Decimal
	IssueDate  *time.Time
	CNPJ       *string
}

// Complete reports whether every business field was extracted.
func (d *ExtractedInvoiceData) Complete() bool {
	return d.TotalValue != nil && d.IssueDate != nil && d.CNPJ != nil
}

type ExtractedDataResponse struct {
	TotalValue float64 `json:"total_value"`
	IssueDate  string  `json:"issue_date"`
	CNPJ       string  `json:"cnpj"`
}

type ProcessInvoiceResponse struct {
	Message       string                `json:"message"`
	ExtractedData ExtractedDataResponse `json:"extracted_data"`
}
