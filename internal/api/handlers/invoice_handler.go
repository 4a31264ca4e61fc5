package handlers

import (
	"errors"
	"io"

	"invoicescan/internal/repository"
	"invoicescan/internal/service"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type InvoiceHandler struct {
	invoiceService *service.InvoiceService
	logger         *zap.Logger
}

func NewInvoiceHandler(invoiceService *service.InvoiceService, logger *zap.Logger) *InvoiceHandler {
	return &InvoiceHandler{
		invoiceService: invoiceService,
		logger:         logger,
	}
}

// ProcessInvoice accepts an invoice document (JPG, PNG or PDF) as a multipart
// upload, extracts the total value, issue date and CNPJ, saves them and
// returns the extracted data.
func (h *InvoiceHandler) ProcessInvoice(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "File is required",
		})
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Failed to open file",
		})
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Failed to read file",
		})
	}

	resp, err := h.invoiceService.Process(c.Context(), fileHeader.Filename, data)
	if err != nil {
		return h.pipelineError(c, err)
	}

	return c.JSON(resp)
}

// pipelineError maps the pipeline failure taxonomy onto HTTP statuses. Raw
// model output never reaches the response body; it is already logged where
// the failure occurred.
func (h *InvoiceHandler) pipelineError(c *fiber.Ctx, err error) error {
	var incomplete *service.IncompleteExtractionError

	switch {
	case errors.Is(err, service.ErrUnsupportedMediaType):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unsupported file type. Only JPG, PNG or PDF are accepted",
		})
	case errors.As(err, &incomplete):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": incomplete.Error(),
		})
	case errors.Is(err, service.ErrServiceMisconfigured):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Model service is not configured",
		})
	case errors.Is(err, service.ErrInvalidResponseFormat),
		errors.Is(err, service.ErrIncompleteResponse):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to extract invoice data from the document",
		})
	case errors.Is(err, service.ErrUpstreamUnavailable):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to communicate with the model service",
		})
	case errors.Is(err, repository.ErrStorageUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Could not connect to the database",
		})
	case errors.Is(err, repository.ErrStorageWriteFailed):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save invoice data",
		})
	default:
		h.logger.Error("Unclassified pipeline error", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process invoice",
		})
	}
}
