package services

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/medilens/backend/internal/apperr"
	"github.com/medilens/backend/internal/dto"
	"github.com/medilens/backend/internal/metrics"
	"github.com/medilens/backend/internal/models"
)

// Input bounds. bcrypt rejects passwords over 72 bytes; the username and email
// limits match the users table columns.
const (
	MinPasswordLength = 6
	MaxPasswordBytes  = 72
	MaxUsernameLength = 100
	MaxEmailLength    = 255
)

var (
	ErrEmailTaken         = apperr.Conflict(apperr.CodeEmailTaken, "User already exists")
	ErrUserNotFound       = apperr.NotFound(apperr.CodeUserNotFound, "User not found")
	ErrInvalidCredentials = apperr.Auth(apperr.CodeInvalidCredentials, "Invalid credentials")
	ErrFederatedAccount   = apperr.Auth(apperr.CodeFederatedAccount, "Please login with Google")
	ErrFederatedInvalid   = apperr.Auth(apperr.CodeFederatedInvalid, "Invalid Google token")
)

type AuthService struct {
	users      UserStore
	tokens     *TokenService
	federated  FederatedVerifier
	bcryptCost int
	metrics    *metrics.Metrics
}

func NewAuthService(users UserStore, tokens *TokenService, federated FederatedVerifier, bcryptCost int, m *metrics.Metrics) *AuthService {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &AuthService{
		users:      users,
		tokens:     tokens,
		federated:  federated,
		bcryptCost: bcryptCost,
		metrics:    metrics.OrUnregistered(m),
	}
}

func (s *AuthService) Register(ctx context.Context, req *dto.RegisterRequest) (*dto.AuthResponse, error) {
	username := strings.TrimSpace(req.Username)
	email := NormalizeEmail(req.Email)

	if username == "" || email == "" || req.Password == "" {
		return nil, apperr.Validation(apperr.CodeValidation, "Username, email and password are required")
	}
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if len(req.Password) < MinPasswordLength {
		return nil, apperr.Validation(apperr.CodeValidation, "Password must be at least 6 characters")
	}
	if len(req.Password) > MaxPasswordBytes {
		return nil, apperr.Validation(apperr.CodeValidation, "Password must be at most 72 bytes")
	}

	// Fast path only; the unique index decides under concurrency.
	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrRecordNotFound) {
		return nil, apperr.Internal("failed to look up user", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, apperr.Internal("failed to hash password", err)
	}
	hashed := string(hash)

	user := models.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: &hashed,
	}
	if err := s.users.Create(ctx, &user); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return nil, ErrEmailTaken
		}
		return nil, apperr.Internal("failed to create user", err)
	}
	s.metrics.UsersRegistered.Inc()

	return s.authResponse(&user, "User registered successfully")
}

func (s *AuthService) Login(ctx context.Context, req *dto.LoginRequest) (resp *dto.AuthResponse, err error) {
	defer func() { s.metrics.ObserveLogin("password", err) }()

	email := NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, apperr.Validation(apperr.CodeValidation, "Email and password are required")
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, apperr.Internal("failed to look up user", err)
	}

	if !user.HasPassword() {
		return nil, ErrFederatedAccount
	}

	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.authResponse(user, "Login successful")
}

// FederatedLogin signs in with a provider ID token, creating the account on
// first use. An existing account with the same email gets the provider subject
// linked to it.
func (s *AuthService) FederatedLogin(ctx context.Context, req *dto.FederatedLoginRequest) (resp *dto.AuthResponse, err error) {
	defer func() { s.metrics.ObserveLogin("federated", err) }()

	if strings.TrimSpace(req.Credential) == "" {
		return nil, apperr.Validation(apperr.CodeValidation, "Google credential missing")
	}
	if s.federated == nil {
		return nil, ErrFederatedInvalid
	}

	identity, err := s.federated.Verify(ctx, req.Credential)
	if err != nil {
		slog.Warn("federated token verification failed", "error", err)
		return nil, ErrFederatedInvalid
	}

	email := NormalizeEmail(identity.Email)
	var picture *string
	if identity.Picture != "" {
		picture = &identity.Picture
	}

	user, err := s.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		if !user.IsFederated() {
			if err := s.users.LinkFederated(ctx, user.ID, identity.Subject, picture); err != nil {
				return nil, apperr.Internal("failed to link federated identity", err)
			}
			subject := identity.Subject
			user.FederatedID = &subject
			if user.ProfileImageRef == nil {
				user.ProfileImageRef = picture
			}
		}
	case errors.Is(err, ErrRecordNotFound):
		user, err = s.createFederatedUser(ctx, email, identity, picture)
		if err != nil {
			return nil, err
		}
	default:
		return nil, apperr.Internal("failed to look up user", err)
	}

	return s.authResponse(user, "Google login successful")
}

func (s *AuthService) createFederatedUser(ctx context.Context, email string, identity *FederatedIdentity, picture *string) (*models.User, error) {
	username := strings.TrimSpace(identity.Name)
	if username == "" {
		username = strings.Split(email, "@")[0]
	}
	username = truncateRunes(username, MaxUsernameLength)
	subject := identity.Subject

	user := &models.User{
		ID:              uuid.New(),
		Username:        username,
		Email:           email,
		FederatedID:     &subject,
		ProfileImageRef: picture,
	}
	err := s.users.Create(ctx, user)
	if errors.Is(err, ErrDuplicateKey) {
		// A concurrent sign-in with the same email won the insert.
		existing, findErr := s.users.FindByEmail(ctx, email)
		if findErr != nil {
			return nil, apperr.Internal("failed to look up user", findErr)
		}
		return existing, nil
	}
	if err != nil {
		return nil, apperr.Internal("failed to create federated user", err)
	}
	s.metrics.UsersRegistered.Inc()
	return user, nil
}

func (s *AuthService) UpdateProfile(ctx context.Context, userID uuid.UUID, req *dto.UpdateProfileRequest) (*dto.ProfileResponse, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, apperr.Validation(apperr.CodeValidation, "Username is required")
	}
	if err := validateUsername(username); err != nil {
		return nil, err
	}

	user, err := s.users.UpdateUsername(ctx, userID, username)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, apperr.Internal("failed to update profile", err)
	}

	return &dto.ProfileResponse{Message: "Profile updated!", Username: user.Username}, nil
}

func (s *AuthService) Me(ctx context.Context, userID uuid.UUID) (*dto.UserResponse, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, apperr.Internal("failed to look up user", err)
	}
	resp := userResponse(user)
	return &resp, nil
}

func (s *AuthService) authResponse(user *models.User, message string) (*dto.AuthResponse, error) {
	token, expiresAt, err := s.tokens.Issue(user)
	if err != nil {
		return nil, apperr.Internal("failed to issue token", err)
	}
	return &dto.AuthResponse{
		Message:   message,
		Token:     token,
		ExpiresAt: expiresAt,
		User:      userResponse(user),
	}, nil
}

func validateUsername(username string) error {
	if utf8.RuneCountInString(username) > MaxUsernameLength {
		return apperr.Validation(apperr.CodeValidation, "Username must be at most 100 characters")
	}
	return nil
}

// validateEmail accepts a bare addr-spec only. Display-name forms such as
// "Name <a@b.c>" parse as valid but would store a second spelling of the
// same mailbox.
func validateEmail(email string) error {
	if len(email) > MaxEmailLength {
		return apperr.Validation(apperr.CodeValidation, "Email address is too long")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Name != "" || addr.Address != email {
		return apperr.Validation(apperr.CodeValidation, "Email address is invalid")
	}
	return nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func userResponse(user *models.User) dto.UserResponse {
	resp := dto.UserResponse{
		ID:          user.ID,
		Username:    user.Username,
		Email:       user.Email,
		IsFederated: user.IsFederated(),
		CreatedAt:   user.CreatedAt,
	}
	if user.ProfileImageRef != nil {
		resp.Picture = *user.ProfileImageRef
	}
	return resp
}
