package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"testing"
	"time"

	"invoicescan/internal/api"
	"invoicescan/internal/api/handlers"
	"invoicescan/internal/dto"
	"invoicescan/internal/models"
	"invoicescan/internal/repository"
	"invoicescan/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubExtractor struct {
	result *dto.ExtractedInvoiceData
	err    error
	ready  bool
}

func (s *stubExtractor) Extract(ctx context.Context, data []byte, mimeType string) (*dto.ExtractedInvoiceData, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubExtractor) Ready() bool { return s.ready }

type stubStore struct {
	err error
}

func (s *stubStore) Insert(ctx context.Context, inv *models.Invoice) error {
	if s.err != nil {
		return s.err
	}
	inv.ID = 42
	inv.CreatedAt = time.Now()
	return nil
}

func newTestApp(extractor service.Extractor, store service.InvoiceStore) *fiber.App {
	svc := service.NewInvoiceService(extractor, store, zap.NewNop())
	invoiceHandler := handlers.NewInvoiceHandler(svc, zap.NewNop())
	healthHandler := handlers.NewHealthHandler(extractor)
	return api.SetupRouter(invoiceHandler, healthHandler)
}

func extractionOf(total, issueDate, cnpj string) *dto.ExtractedInvoiceData {
	amount := decimal.RequireFromString(total)
	parsed, err := time.Parse("2006-01-02", issueDate)
	if err != nil {
		panic(err)
	}
	return &dto.ExtractedInvoiceData{
		TotalValue: &amount,
		IssueDate:  &parsed,
		CNPJ:       &cnpj,
	}
}

func multipartUpload(t *testing.T, fileName string, content []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req, err := http.NewRequest(http.MethodPost, "/invoice/process", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()

	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}

func TestProcessInvoice_Success(t *testing.T) {
	extractor := &stubExtractor{
		result: extractionOf("99.90", "2023-11-05", "11.222.333/0001-44"),
		ready:  true,
	}
	app := newTestApp(extractor, &stubStore{})

	resp, err := app.Test(multipartUpload(t, "invoice.jpg", []byte("jpeg bytes")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "Invoice processed and data saved successfully", body["message"])

	extracted, ok := body["extracted_data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 99.9, extracted["total_value"])
	assert.Equal(t, "2023-11-05", extracted["issue_date"])
	assert.Equal(t, "11.222.333/0001-44", extracted["cnpj"])
}

func TestProcessInvoice_MissingFile(t *testing.T) {
	app := newTestApp(&stubExtractor{ready: true}, &stubStore{})

	req, err := http.NewRequest(http.MethodPost, "/invoice/process", nil)
	require.NoError(t, err)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProcessInvoice_UnsupportedMediaType(t *testing.T) {
	extractor := &stubExtractor{ready: true}
	app := newTestApp(extractor, &stubStore{})

	resp, err := app.Test(multipartUpload(t, "invoice.gif", []byte("gif bytes")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Contains(t, body["error"], "Unsupported file type")
}

func TestProcessInvoice_IncompleteExtraction(t *testing.T) {
	amount := decimal.RequireFromString("10.00")
	extractor := &stubExtractor{
		result: &dto.ExtractedInvoiceData{TotalValue: &amount},
		ready:  true,
	}
	app := newTestApp(extractor, &stubStore{})

	resp, err := app.Test(multipartUpload(t, "invoice.png", []byte("png bytes")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody(t, resp)
	errMsg, ok := body["error"].(string)
	require.True(t, ok)
	assert.Contains(t, errMsg, "issue date")
	assert.Contains(t, errMsg, "CNPJ")
}

func TestProcessInvoice_ServiceMisconfigured(t *testing.T) {
	extractor := &stubExtractor{err: service.ErrServiceMisconfigured}
	app := newTestApp(extractor, &stubStore{})

	resp, err := app.Test(multipartUpload(t, "invoice.pdf", []byte("pdf bytes")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestProcessInvoice_InvalidModelResponse(t *testing.T) {
	extractor := &stubExtractor{
		err:   fmt.Errorf("%w: unexpected token", service.ErrInvalidResponseFormat),
		ready: true,
	}
	app := newTestApp(extractor, &stubStore{})

	resp, err := app.Test(multipartUpload(t, "invoice.jpg", []byte("jpeg bytes")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestProcessInvoice_StorageUnavailable(t *testing.T) {
	extractor := &stubExtractor{
		result: extractionOf("10.00", "2024-01-01", "12.345.678/0001-90"),
		ready:  true,
	}
	store := &stubStore{err: fmt.Errorf("%w: dial tcp refused", repository.ErrStorageUnavailable)}
	app := newTestApp(extractor, store)

	resp, err := app.Test(multipartUpload(t, "invoice.jpg", []byte("jpeg bytes")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestProcessInvoice_StorageWriteFailed(t *testing.T) {
	extractor := &stubExtractor{
		result: extractionOf("10.00", "2024-01-01", "12.345.678/0001-90"),
		ready:  true,
	}
	store := &stubStore{err: fmt.Errorf("%w: constraint violation", repository.ErrStorageWriteFailed)}
	app := newTestApp(extractor, store)

	resp, err := app.Test(multipartUpload(t, "invoice.jpg", []byte("jpeg bytes")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestLiveness(t *testing.T) {
	app := newTestApp(&stubExtractor{ready: true}, &stubStore{})

	req, err := http.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, err)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["extractor_ready"])
}

func TestLiveness_ExtractorNotReady(t *testing.T) {
	app := newTestApp(&stubExtractor{ready: false}, &stubStore{})

	req, err := http.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, err)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, false, body["extractor_ready"])
}
