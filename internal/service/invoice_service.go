package service

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"invoicescan/internal/dto"
	"invoicescan/internal/models"

	"go.uber.org/zap"
)

// Extractor is the model integration the pipeline depends on.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (*dto.ExtractedInvoiceData, error)
	Ready() bool
}

// InvoiceStore persists one validated invoice, filling in its assigned id.
// All business fields are guaranteed present by the completeness check.
type InvoiceStore interface {
	Insert(ctx context.Context, inv *models.Invoice) error
}

// InvoiceService runs the extraction pipeline: mime check, model extraction,
// completeness check, persistence, response shaping. Strictly sequential,
// every stage failure is terminal for the request.
type InvoiceService struct {
	extractor Extractor
	store     InvoiceStore
	logger    *zap.Logger
}

func NewInvoiceService(extractor Extractor, store InvoiceStore, logger *zap.Logger) *InvoiceService {
	return &InvoiceService{
		extractor: extractor,
		store:     store,
		logger:    logger,
	}
}

var allowedMimeTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"application/pdf": true,
}

// DetectMimeType derives the declared mime type from the filename extension.
// The byte content is never sniffed.
func DetectMimeType(fileName string) (string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		switch ext {
		case ".pdf":
			mimeType = "application/pdf"
		case ".jpg", ".jpeg":
			mimeType = "image/jpeg"
		case ".png":
			mimeType = "image/png"
		}
	}
	if !allowedMimeTypes[mimeType] {
		return "", fmt.Errorf("%w: %q (only JPG, PNG or PDF are accepted)", ErrUnsupportedMediaType, ext)
	}
	return mimeType, nil
}

// Process handles one uploaded invoice document end to end.
func (s *InvoiceService) Process(ctx context.Context, fileName string, data []byte) (*dto.ProcessInvoiceResponse, error) {
	mimeType, err := DetectMimeType(fileName)
	if err != nil {
		s.logger.Warn("Rejected upload",
			zap.String("file_name", fileName),
			zap.Error(err),
		)
		return nil, err
	}

	extracted, err := s.extractor.Extract(ctx, data, mimeType)
	if err != nil {
		s.logger.Error("Extraction failed",
			zap.String("file_name", fileName),
			zap.String("mime_type", mimeType),
			zap.Error(err),
		)
		return nil, err
	}

	if missing := missingFieldLabels(extracted); len(missing) > 0 {
		s.logger.Warn("Extraction incomplete",
			zap.String("file_name", fileName),
			zap.Strings("missing_fields", missing),
		)
		return nil, &IncompleteExtractionError{Missing: missing}
	}

	inv := &models.Invoice{
		TotalValue: *extracted.TotalValue,
		IssueDate:  *extracted.IssueDate,
		CNPJ:       *extracted.CNPJ,
	}
	if err := s.store.Insert(ctx, inv); err != nil {
		s.logger.Error("Failed to save invoice", zap.Error(err))
		return nil, err
	}

	s.logger.Info("Invoice processed",
		zap.Int64("invoice_id", inv.ID),
		zap.String("mime_type", mimeType),
	)

	return &dto.ProcessInvoiceResponse{
		Message: "Invoice processed and data saved successfully",
		ExtractedData: dto.ExtractedDataResponse{
			// Lossy float conversion is acceptable only at this output boundary
			TotalValue: extracted.TotalValue.InexactFloat64(),
			IssueDate:  extracted.IssueDate.Format(issueDateLayout),
			CNPJ:       *extracted.CNPJ,
		},
	}, nil
}

// missingFieldLabels returns human-readable labels for null extracted fields,
// always in the order total value, issue date, CNPJ.
func missingFieldLabels(d *dto.ExtractedInvoiceData) []string {
	var missing []string
	if d.TotalValue == nil {
		missing = append(missing, "total value")
	}
	if d.IssueDate == nil {
		missing = append(missing, "issue date")
	}
	if d.CNPJ == nil {
		missing = append(missing, "CNPJ")
	}
	return missing
}
