package repository

import (
	"context"
	"errors"
	"fmt"

	"invoicescan/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Storage failure taxonomy. Acquiring a connection and writing the row fail
// distinctly so the transport layer can answer 503 vs 500.
var (
	ErrStorageUnavailable = errors.New("could not acquire database connection")
	ErrStorageWriteFailed = errors.New("failed to write invoice")
)

type InvoiceRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewInvoiceRepository(db *pgxpool.Pool, logger *zap.Logger) *InvoiceRepository {
	return &InvoiceRepository{
		db:     db,
		logger: logger,
	}
}

// Insert writes one invoice row and fills in its database-assigned id and
// created_at. The connection is acquired for exactly this call and released
// on every path.
func (r *InvoiceRepository) Insert(ctx context.Context, inv *models.Invoice) error {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer conn.Release()

	query := squirrel.Insert("invoices").
		Columns("total_value", "issue_date", "cnpj").
		Values(inv.TotalValue, inv.IssueDate, inv.CNPJ).
		Suffix("RETURNING id, created_at").
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWriteFailed, err)
	}

	if err := conn.QueryRow(ctx, sql, args...).Scan(&inv.ID, &inv.CreatedAt); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWriteFailed, err)
	}

	r.logger.Info("Invoice saved", zap.Int64("invoice_id", inv.ID))

	return nil
}
