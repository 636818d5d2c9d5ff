package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/medilens/backend/internal/apperr"
	"github.com/medilens/backend/internal/metrics"
	"github.com/medilens/backend/internal/services"
	"github.com/medilens/backend/internal/storage"
)

// resolveConcurrency bounds parallel signed-URL resolution in List.
const resolveConcurrency = 8

var ErrScanNotFound = apperr.NotFound(apperr.CodeScanNotFound, "Scan not found")

type Options struct {
	MaxImageBytes int64
	URLTTL        time.Duration
}

// Service keeps scan records and their images in step. A record is only
// written after its image upload succeeded, and an image is only removed
// before its record.
type Service struct {
	store   Store
	objects storage.ObjectStorage
	opts    Options
	metrics *metrics.Metrics
}

func NewService(store Store, objects storage.ObjectStorage, opts Options, m *metrics.Metrics) *Service {
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = 10 << 20
	}
	if opts.URLTTL <= 0 {
		opts.URLTTL = 5 * time.Minute
	}
	return &Service{store: store, objects: objects, opts: opts, metrics: metrics.OrUnregistered(m)}
}

// Save decodes the data URI image in req, uploads it, then persists the record.
func (s *Service) Save(ctx context.Context, ownerID uuid.UUID, req *SaveScanRequest) (*ScanResponse, error) {
	if strings.TrimSpace(req.Image) == "" {
		return nil, apperr.Validation(apperr.CodeImageRequired, "No image provided")
	}
	if err := validateFields(req); err != nil {
		return nil, err
	}

	data, declared, err := storage.DecodeDataURI(req.Image, s.opts.MaxImageBytes)
	if err != nil {
		return nil, err
	}
	return s.saveImage(ctx, ownerID, req, data, declared)
}

// SaveUpload is Save for a raw image stream, as sent by multipart clients.
func (s *Service) SaveUpload(ctx context.Context, ownerID uuid.UUID, req *SaveScanRequest, image io.Reader, contentType string) (*ScanResponse, error) {
	if image == nil {
		return nil, apperr.Validation(apperr.CodeImageRequired, "No image provided")
	}
	if err := validateFields(req); err != nil {
		return nil, err
	}

	data, err := storage.ReadLimited(image, s.opts.MaxImageBytes)
	if err != nil {
		return nil, err
	}
	return s.saveImage(ctx, ownerID, req, data, contentType)
}

func (s *Service) saveImage(ctx context.Context, ownerID uuid.UUID, req *SaveScanRequest, data []byte, contentType string) (*ScanResponse, error) {
	handle, err := s.objects.Put(ctx, data, contentType)
	if err != nil {
		return nil, err
	}

	rec := newRecord(ownerID, req, handle)
	if err := s.store.Create(ctx, rec); err != nil {
		s.metrics.OrphanObjects.Inc()
		slog.Error("scan record not persisted after image upload",
			"action", "orphan_object",
			"user_id", ownerID.String(),
			"object_key", handle,
			"error", err.Error(),
		)
		return nil, apperr.Internal("Error saving scan", err)
	}
	s.metrics.ScansSaved.Inc()

	resp := toResponse(rec)
	if url, err := s.objects.ResolveReadURL(ctx, rec.ImageRef, s.opts.URLTTL); err == nil {
		resp.ImageURL = url
	} else {
		slog.Warn("failed to resolve image url for new scan", "scan_id", rec.ID.String(), "error", err.Error())
	}
	return &resp, nil
}

// List returns the owner's records newest first, each with a freshly
// resolved image URL.
func (s *Service) List(ctx context.Context, ownerID uuid.UUID) ([]ScanResponse, error) {
	records, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperr.Internal("Error fetching history", err)
	}

	out := make([]ScanResponse, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveConcurrency)
	for i := range records {
		out[i] = toResponse(&records[i])
		g.Go(func() error {
			url, err := s.objects.ResolveReadURL(gctx, records[i].ImageRef, s.opts.URLTTL)
			if err != nil {
				return err
			}
			out[i].ImageURL = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one of the owner's records. Records of other owners are
// reported as missing.
func (s *Service) Get(ctx context.Context, ownerID, scanID uuid.UUID) (*ScanResponse, error) {
	rec, err := s.findOwned(ctx, ownerID, scanID)
	if err != nil {
		return nil, err
	}

	url, err := s.objects.ResolveReadURL(ctx, rec.ImageRef, s.opts.URLTTL)
	if err != nil {
		return nil, err
	}
	resp := toResponse(rec)
	resp.ImageURL = url
	return &resp, nil
}

// Delete removes the image and then the record. When the image cannot be
// removed the record is kept so the delete can be retried.
func (s *Service) Delete(ctx context.Context, ownerID, scanID uuid.UUID) error {
	rec, err := s.findOwned(ctx, ownerID, scanID)
	if err != nil {
		return err
	}

	if err := s.objects.Delete(ctx, rec.ImageRef); err != nil {
		slog.Error("image delete failed, scan record kept",
			"action", "object_delete_failed",
			"user_id", ownerID.String(),
			"object_key", rec.ImageRef,
			"scan_id", rec.ID.String(),
			"error", err.Error(),
		)
		return err
	}

	if err := s.store.Delete(ctx, rec.ID); err != nil {
		// Lost a race with a concurrent delete of the same record.
		if errors.Is(err, services.ErrRecordNotFound) {
			return nil
		}
		return apperr.Internal("Error deleting scan", err)
	}
	s.metrics.ScansDeleted.Inc()
	return nil
}

func (s *Service) findOwned(ctx context.Context, ownerID, scanID uuid.UUID) (*ScanRecord, error) {
	rec, err := s.store.FindByID(ctx, scanID)
	if err != nil {
		if errors.Is(err, services.ErrRecordNotFound) {
			return nil, ErrScanNotFound
		}
		return nil, apperr.Internal("Error fetching scan", err)
	}
	if rec.OwnerID != ownerID {
		return nil, ErrScanNotFound
	}
	return rec, nil
}

func validateFields(req *SaveScanRequest) error {
	if strings.TrimSpace(req.MedicineName) == "" {
		return apperr.Validation(apperr.CodeValidation, "Medicine name is required")
	}
	return nil
}

func newRecord(ownerID uuid.UUID, req *SaveScanRequest, handle string) *ScanRecord {
	alternatives := make([]string, 0, len(req.Alternatives))
	for _, a := range req.Alternatives {
		if a = strings.TrimSpace(a); a != "" {
			alternatives = append(alternatives, a)
		}
	}
	return &ScanRecord{
		ID:           uuid.New(),
		OwnerID:      ownerID,
		MedicineName: strings.TrimSpace(req.MedicineName),
		Composition:  req.Composition,
		Usage:        req.Usage,
		Dosage:       req.Dosage,
		Manufacturer: req.Manufacturer,
		SideEffects:  req.SideEffects,
		Warning:      req.Warning,
		BuyLink:      req.BuyLink,
		GenericName:  req.GenericName,
		Alternatives: alternatives,
		ImageRef:     handle,
	}
}

func toResponse(rec *ScanRecord) ScanResponse {
	alternatives := []string(rec.Alternatives)
	if alternatives == nil {
		alternatives = []string{}
	}
	return ScanResponse{
		ID:           rec.ID,
		OwnerID:      rec.OwnerID,
		MedicineName: rec.MedicineName,
		Composition:  rec.Composition,
		Usage:        rec.Usage,
		Dosage:       rec.Dosage,
		Manufacturer: rec.Manufacturer,
		SideEffects:  rec.SideEffects,
		Warning:      rec.Warning,
		BuyLink:      rec.BuyLink,
		GenericName:  rec.GenericName,
		Alternatives: alternatives,
		ImageRef:     rec.ImageRef,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}
