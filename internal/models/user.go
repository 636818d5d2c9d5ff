package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an identity record. PasswordHash is nil for accounts created through
// federated sign-in; FederatedID is set once a provider subject is linked.
type User struct {
	ID              uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Username        string    `gorm:"size:100;not null" json:"username"`
	Email           string    `gorm:"size:255;not null;uniqueIndex:idx_users_email" json:"email"`
	PasswordHash    *string   `gorm:"size:100" json:"-"`
	FederatedID     *string   `gorm:"size:255;index" json:"-"`
	ProfileImageRef *string   `gorm:"type:text" json:"profile_image_ref,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

func (u *User) IsFederated() bool {
	return u.FederatedID != nil && *u.FederatedID != ""
}
