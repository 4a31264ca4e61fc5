package handlers

import (
	"invoicescan/internal/service"

	"github.com/gofiber/fiber/v2"
)

type HealthHandler struct {
	extractor service.Extractor
}

func NewHealthHandler(extractor service.Extractor) *HealthHandler {
	return &HealthHandler{extractor: extractor}
}

// Live is the liveness probe. A misconfigured model integration does not
// make the probe fail; it is reported as a readiness flag instead.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":          "ok",
		"service":         "invoicescan",
		"extractor_ready": h.extractor.Ready(),
	})
}
