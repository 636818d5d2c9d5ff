package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/medilens/backend/internal/apperr"
	"github.com/medilens/backend/internal/dto"
)

const genericServerError = "Internal server error"

// RespondError writes err as a JSON error body using the status of its kind.
func RespondError(c *fiber.Ctx, err error) error {
	return RespondErrorStatus(c, 0, err)
}

// RespondErrorStatus is RespondError with an explicit status. A zero status
// falls back to the kind's default. Causes are logged, never returned.
func RespondErrorStatus(c *fiber.Ctx, status int, err error) error {
	e := apperr.As(err)
	if status == 0 {
		status = e.Kind.Status()
	}

	message := e.Message
	if status >= fiber.StatusInternalServerError {
		slog.Error("request failed",
			"error", err.Error(),
			"code", e.Code,
			"kind", e.Kind.String(),
			"method", c.Method(),
			"path", c.Path(),
			"trace_id", RequestID(c),
		)
		if e.Kind == apperr.KindInternal {
			message = genericServerError
		}
	}

	return c.Status(status).JSON(dto.ErrorResponse{
		Error:   true,
		Code:    e.Code,
		Message: message,
	})
}

// InvalidBody is the response for a request body that could not be parsed.
func InvalidBody(c *fiber.Ctx) error {
	return RespondError(c, apperr.Validation(apperr.CodeInvalidBody, "Invalid request body"))
}

// RequestID returns the id assigned by the requestid middleware, if any.
func RequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return ""
}
