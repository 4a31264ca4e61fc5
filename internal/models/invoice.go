package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice is a persisted invoice row. The id and created_at columns are
// assigned by the database on insert, never by the caller.
type Invoice struct {
	ID         int64           `db:"id"`
	TotalValue decimal.Decimal `db:"total_value"`
	IssueDate  time.Time       `db:"issue_date"`
	CNPJ       string          `db:"cnpj"`
	CreatedAt  time.Time       `db:"created_at"`
}
