package history

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ScanRecord is one saved medicine analysis. ImageRef is the storage handle:
// a bucket key or a permanent public URL depending on the storage driver.
type ScanRecord struct {
	ID           uuid.UUID                   `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OwnerID      uuid.UUID                   `gorm:"type:uuid;not null;index:idx_scan_records_owner_created,priority:1" json:"owner_id"`
	MedicineName string                      `gorm:"type:text;not null" json:"medicine_name"`
	Composition  string                      `gorm:"type:text" json:"composition"`
	Usage        string                      `gorm:"type:text" json:"usage"`
	Dosage       string                      `gorm:"type:text" json:"dosage"`
	Manufacturer string                      `gorm:"type:text" json:"manufacturer"`
	SideEffects  string                      `gorm:"type:text" json:"side_effects"`
	Warning      string                      `gorm:"type:text" json:"warning"`
	BuyLink      string                      `gorm:"type:text" json:"buy_link"`
	GenericName  string                      `gorm:"type:text" json:"generic_name"`
	Alternatives datatypes.JSONSlice[string] `gorm:"type:jsonb;default:'[]'" json:"alternatives"`
	ImageRef     string                      `gorm:"type:text;not null" json:"image_ref"`
	CreatedAt    time.Time                   `gorm:"index:idx_scan_records_owner_created,priority:2,sort:desc" json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}

func (ScanRecord) TableName() string {
	return "scan_records"
}

// --- DTOs ---

// SaveScanRequest keeps the field names the mobile and web clients already
// send. Image is a data URI or bare base64 for the JSON route; the multipart
// route carries the file separately.
type SaveScanRequest struct {
	MedicineName string   `json:"medicineName" form:"medicineName"`
	Composition  string   `json:"composition" form:"composition"`
	Usage        string   `json:"usage" form:"usage"`
	Dosage       string   `json:"dosage" form:"dosage"`
	Manufacturer string   `json:"manufacturer" form:"manufacturer"`
	SideEffects  string   `json:"side_effects" form:"side_effects"`
	Warning      string   `json:"warning" form:"warning"`
	BuyLink      string   `json:"buy_link" form:"buy_link"`
	GenericName  string   `json:"generic_name" form:"generic_name"`
	Alternatives []string `json:"alternatives" form:"alternatives"`
	Image        string   `json:"image" form:"-"`
}

type ScanResponse struct {
	ID           uuid.UUID `json:"id"`
	OwnerID      uuid.UUID `json:"user"`
	MedicineName string    `json:"medicineName"`
	Composition  string    `json:"composition"`
	Usage        string    `json:"usage"`
	Dosage       string    `json:"dosage"`
	Manufacturer string    `json:"manufacturer"`
	SideEffects  string    `json:"side_effects"`
	Warning      string    `json:"warning"`
	BuyLink      string    `json:"buy_link"`
	GenericName  string    `json:"generic_name"`
	Alternatives []string  `json:"alternatives"`
	ImageRef     string    `json:"imageRef"`
	ImageURL     string    `json:"imageUrl,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type SaveScanResponse struct {
	Success bool         `json:"success"`
	Scan    ScanResponse `json:"scan"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
