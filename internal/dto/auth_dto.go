package dto

import (
	"time"

	"github.com/google/uuid"
)

type RegisterRequest struct {
	Username string `json:"username" form:"username"`
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

type LoginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// FederatedLoginRequest carries the provider-issued ID token. The original web
// client posts it as "credential".
type FederatedLoginRequest struct {
	Credential string `json:"credential"`
}

type UpdateProfileRequest struct {
	Username string `json:"username"`
}

type AuthResponse struct {
	Message   string       `json:"message,omitempty"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      UserResponse `json:"user"`
}

type UserResponse struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	Picture     string    `json:"picture,omitempty"`
	IsFederated bool      `json:"is_federated"`
	CreatedAt   time.Time `json:"created_at"`
}

type ProfileResponse struct {
	Message  string `json:"message"`
	Username string `json:"username"`
}

type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	DB        string `json:"db"`
	Storage   string `json:"storage"`
}
