package history

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/medilens/backend/internal/apperr"
	"github.com/medilens/backend/internal/handlers"
	"github.com/medilens/backend/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Save(c *fiber.Ctx) error {
	userID, err := middleware.CurrentUserID(c)
	if err != nil {
		return handlers.RespondError(c, err)
	}

	var req SaveScanRequest
	if err := c.BodyParser(&req); err != nil {
		return handlers.InvalidBody(c)
	}

	resp, err := h.service.Save(c.UserContext(), userID, &req)
	if err != nil {
		return handlers.RespondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(SaveScanResponse{Success: true, Scan: *resp})
}

// Upload accepts multipart/form-data with the image in the "image" part and
// the scan fields as ordinary form values.
func (h *Handler) Upload(c *fiber.Ctx) error {
	userID, err := middleware.CurrentUserID(c)
	if err != nil {
		return handlers.RespondError(c, err)
	}

	var req SaveScanRequest
	if err := c.BodyParser(&req); err != nil {
		return handlers.InvalidBody(c)
	}

	file, err := c.FormFile("image")
	if err != nil {
		return handlers.RespondError(c, apperr.Validation(apperr.CodeImageRequired, "Image file is required"))
	}
	if file.Size > h.service.opts.MaxImageBytes {
		return handlers.RespondError(c, apperr.Validation(apperr.CodeImageTooLarge, "Image is too large"))
	}

	f, err := file.Open()
	if err != nil {
		return handlers.RespondError(c, apperr.Wrap(apperr.KindValidation, apperr.CodeImageInvalid, "Failed to read image", err))
	}
	defer f.Close()

	resp, err := h.service.SaveUpload(c.UserContext(), userID, &req, f, file.Header.Get("Content-Type"))
	if err != nil {
		return handlers.RespondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(SaveScanResponse{Success: true, Scan: *resp})
}

func (h *Handler) List(c *fiber.Ctx) error {
	userID, err := middleware.CurrentUserID(c)
	if err != nil {
		return handlers.RespondError(c, err)
	}

	items, err := h.service.List(c.UserContext(), userID)
	if err != nil {
		return handlers.RespondError(c, err)
	}

	return c.JSON(items)
}

func (h *Handler) GetByID(c *fiber.Ctx) error {
	userID, err := middleware.CurrentUserID(c)
	if err != nil {
		return handlers.RespondError(c, err)
	}

	scanID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return handlers.RespondError(c, ErrScanNotFound)
	}

	resp, err := h.service.Get(c.UserContext(), userID, scanID)
	if err != nil {
		return handlers.RespondError(c, err)
	}

	return c.JSON(resp)
}

func (h *Handler) Delete(c *fiber.Ctx) error {
	userID, err := middleware.CurrentUserID(c)
	if err != nil {
		return handlers.RespondError(c, err)
	}

	scanID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return handlers.RespondError(c, ErrScanNotFound)
	}

	if err := h.service.Delete(c.UserContext(), userID, scanID); err != nil {
		return handlers.RespondError(c, err)
	}

	return c.JSON(MessageResponse{Message: "Scan deleted successfully"})
}
