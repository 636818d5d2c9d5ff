package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medilens/backend/internal/models"
)

// Store-level facts. Stores return these so services can translate them into
// the apperr taxonomy.
var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateKey   = errors.New("duplicate key")
)

// UserStore persists identity records. Email is the only uniqueness key and is
// enforced by the store itself, not by callers.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateUsername(ctx context.Context, id uuid.UUID, username string) (*models.User, error)
	LinkFederated(ctx context.Context, id uuid.UUID, federatedID string, picture *string) error
}

// NormalizeEmail is the canonical, case-insensitive form stored and queried.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// GormUserStore is the PostgreSQL-backed UserStore. The unique index on email
// is the authoritative guard against concurrent registrations; the gorm session
// must be opened with TranslateError so violations surface as ErrDuplicatedKey.
type GormUserStore struct {
	db *gorm.DB
}

func NewGormUserStore(db *gorm.DB) *GormUserStore {
	return &GormUserStore{db: db}
}

func (s *GormUserStore) Create(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.Email = NormalizeEmail(user.Email)
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}

func (s *GormUserStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&user).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &user, nil
}

func (s *GormUserStore) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &user, nil
}

func (s *GormUserStore) UpdateUsername(ctx context.Context, id uuid.UUID, username string) (*models.User, error) {
	result := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("username", username)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}
	return s.FindByID(ctx, id)
}

func (s *GormUserStore) LinkFederated(ctx context.Context, id uuid.UUID, federatedID string, picture *string) error {
	updates := map[string]interface{}{"federated_id": federatedID}
	if picture != nil {
		updates["profile_image_ref"] = gorm.Expr("COALESCE(profile_image_ref, ?)", *picture)
	}
	result := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func translateNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRecordNotFound
	}
	return err
}

// MemoryUserStore is an in-process UserStore for tests and local runs.
type MemoryUserStore struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*models.User
	byEmail map[string]uuid.UUID
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[uuid.UUID]*models.User),
		byEmail: make(map[string]uuid.UUID),
	}
}

func (s *MemoryUserStore) Create(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := NormalizeEmail(user.Email)
	if _, ok := s.byEmail[email]; ok {
		return ErrDuplicateKey
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now().UTC()
	user.Email = email
	user.CreatedAt = now
	user.UpdatedAt = now

	stored := *user
	s.byID[user.ID] = &stored
	s.byEmail[email] = user.ID
	return nil
}

func (s *MemoryUserStore) FindByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrRecordNotFound
	}
	u := *s.byID[id]
	return &u, nil
}

func (s *MemoryUserStore) FindByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.byID[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	u := *stored
	return &u, nil
}

func (s *MemoryUserStore) UpdateUsername(_ context.Context, id uuid.UUID, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	stored.Username = username
	stored.UpdatedAt = time.Now().UTC()
	u := *stored
	return &u, nil
}

func (s *MemoryUserStore) LinkFederated(_ context.Context, id uuid.UUID, federatedID string, picture *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[id]
	if !ok {
		return ErrRecordNotFound
	}
	fid := federatedID
	stored.FederatedID = &fid
	if stored.ProfileImageRef == nil && picture != nil {
		p := *picture
		stored.ProfileImageRef = &p
	}
	stored.UpdatedAt = time.Now().UTC()
	return nil
}
