package history

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medilens/backend/internal/services"
)

// Store persists scan records. Stores report a missing row as
// services.ErrRecordNotFound.
type Store interface {
	Create(ctx context.Context, rec *ScanRecord) error
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]ScanRecord, error)
	FindByID(ctx context.Context, id uuid.UUID) (*ScanRecord, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ForOwner returns a GORM scope that filters by owner_id.
func ForOwner(ownerID uuid.UUID) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("owner_id = ?", ownerID)
	}
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, rec *ScanRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Alternatives == nil {
		rec.Alternatives = []string{}
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *GormStore) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]ScanRecord, error) {
	var records []ScanRecord
	err := s.db.WithContext(ctx).
		Scopes(ForOwner(ownerID)).
		Order("created_at DESC, id DESC").
		Find(&records).Error
	return records, err
}

func (s *GormStore) FindByID(ctx context.Context, id uuid.UUID) (*ScanRecord, error) {
	var rec ScanRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, services.ErrRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) Delete(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Delete(&ScanRecord{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return services.ErrRecordNotFound
	}
	return nil
}

// MemoryStore is an in-process Store for tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]memoryRecord
	seq     int64
	now     func() time.Time
}

type memoryRecord struct {
	rec ScanRecord
	seq int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]memoryRecord), now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, rec *ScanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := s.now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Alternatives == nil {
		rec.Alternatives = []string{}
	}

	s.seq++
	s.records[rec.ID] = memoryRecord{rec: cloneRecord(*rec), seq: s.seq}
	return nil
}

// ListByOwner orders newest first; insertion order breaks timestamp ties.
func (s *MemoryStore) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]ScanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]memoryRecord, 0)
	for _, r := range s.records {
		if r.rec.OwnerID == ownerID {
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].rec.CreatedAt.Equal(matched[j].rec.CreatedAt) {
			return matched[i].rec.CreatedAt.After(matched[j].rec.CreatedAt)
		}
		return matched[i].seq > matched[j].seq
	})

	out := make([]ScanRecord, 0, len(matched))
	for _, r := range matched {
		out = append(out, cloneRecord(r.rec))
	}
	return out, nil
}

func (s *MemoryStore) FindByID(_ context.Context, id uuid.UUID) (*ScanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, services.ErrRecordNotFound
	}
	rec := cloneRecord(r.rec)
	return &rec, nil
}

func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return services.ErrRecordNotFound
	}
	delete(s.records, id)
	return nil
}

func cloneRecord(rec ScanRecord) ScanRecord {
	rec.Alternatives = append([]string{}, rec.Alternatives...)
	return rec
}
