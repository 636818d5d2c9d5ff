package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/medilens/backend/internal/apperr"
	"github.com/medilens/backend/internal/dto"
	"github.com/medilens/backend/internal/middleware"
	"github.com/medilens/backend/internal/services"
)

type AuthHandler struct {
	authService *services.AuthService
}

func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return InvalidBody(c)
	}

	resp, err := h.authService.Register(c.UserContext(), &req)
	if err != nil {
		return RespondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(resp)
}

// Login reports every client-side failure as 400, including unknown email and
// wrong password, so existing clients keep working.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return InvalidBody(c)
	}

	resp, err := h.authService.Login(c.UserContext(), &req)
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindValidation, apperr.KindNotFound, apperr.KindAuth:
			return RespondErrorStatus(c, fiber.StatusBadRequest, err)
		}
		return RespondError(c, err)
	}

	return c.JSON(resp)
}

func (h *AuthHandler) FederatedLogin(c *fiber.Ctx) error {
	var req dto.FederatedLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return InvalidBody(c)
	}

	resp, err := h.authService.FederatedLogin(c.UserContext(), &req)
	if err != nil {
		return RespondError(c, err)
	}

	return c.JSON(resp)
}

func (h *AuthHandler) UpdateProfile(c *fiber.Ctx) error {
	userID, err := middleware.CurrentUserID(c)
	if err != nil {
		return RespondError(c, err)
	}

	var req dto.UpdateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return InvalidBody(c)
	}

	resp, err := h.authService.UpdateProfile(c.UserContext(), userID, &req)
	if err != nil {
		return RespondError(c, err)
	}

	return c.JSON(resp)
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	userID, err := middleware.CurrentUserID(c)
	if err != nil {
		return RespondError(c, err)
	}

	resp, err := h.authService.Me(c.UserContext(), userID)
	if err != nil {
		return RespondError(c, err)
	}

	return c.JSON(resp)
}
