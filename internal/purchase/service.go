package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/purchase-tracker/internal/scanning"
)

const (
	alertNothingExtracted = "Could not extract information automatically. Fill in the form and save, or retry with another photo."
	alertExtractionFailed = "Could not process the receipt: "
	alertMessageLimit     = 180
)

// IDGenerator generates unique IDs for purchases
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles purchase operations
type Service struct {
	db          DB
	extractor   scanning.Extractor
	storage     Storage
	scratchDir  string
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source.
// Uploads are staged in scratchDir (the OS temp dir when empty) while they are extracted.
func NewService(db DB, extractor scanning.Extractor, storage Storage, scratchDir string) *Service {
	return NewServiceWithDeps(db, extractor, storage, scratchDir, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, extractor scanning.Extractor, storage Storage, scratchDir string, idGen IDGenerator, timeSrc TimeSource) *Service {
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	return &Service{
		db:          db,
		extractor:   extractor,
		storage:     storage,
		scratchDir:  scratchDir,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Preview stores the uploaded document, runs extraction on it and returns a
// prefilled purchase. Nothing is saved to the database. An extraction failure
// is reported through Preview.Alert, not as an error; the stored document is
// kept so the user can still complete the form by hand.
func (s *Service) Preview(ctx context.Context, filename string, data []byte, contentType string) (*Preview, error) {
	cleanFilename := sanitizeFilename(filename)
	key, err := s.storage.Save(fmt.Sprintf("%s_%s", s.idGenerator.Generate(), cleanFilename), data)
	if err != nil {
		return nil, fmt.Errorf("saving document: %w", err)
	}

	// The extension is what tells the preparer a PDF from a photo
	tmp, err := os.CreateTemp(s.scratchDir, "upload-*"+uploadExtension(cleanFilename, contentType))
	if err != nil {
		return nil, fmt.Errorf("creating upload file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("writing upload file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("closing upload file: %w", err)
	}

	result, err := s.extractor.Extract(ctx, tmp.Name(), filename)
	if err != nil {
		slog.Error("Failed to extract receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error_type", fmt.Sprintf("%T", err),
			"error", err,
		)
		return &Preview{
			Purchase: &Purchase{Items: []scanning.LineItem{}, Document: key, ContentType: contentType},
			Alert:    alertExtractionFailed + truncateMessage(err.Error(), alertMessageLimit),
			Failed:   true,
		}, nil
	}

	p := fromExtraction(result)
	p.Document = key
	p.ContentType = contentType

	preview := &Preview{Purchase: p}
	if result.Empty() {
		preview.Alert = alertNothingExtracted
	}
	return preview, nil
}

// Create validates and saves a new purchase
func (s *Service) Create(p *Purchase) (*Purchase, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}

	now := s.timeSource.Now()
	created := &Purchase{
		ID:          s.idGenerator.Generate(),
		Document:    p.Document,
		ContentType: p.ContentType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	applyFields(created, p)

	if err := s.db.SavePurchase(created); err != nil {
		return nil, fmt.Errorf("saving purchase to database: %w", err)
	}
	slog.Info("Purchase created", "id", created.ID, "items", len(created.Items))
	return created, nil
}

// Update replaces the editable fields of an existing purchase
func (s *Service) Update(id string, p *Purchase) (*Purchase, error) {
	existing, err := s.db.GetPurchase(id)
	if err != nil {
		return nil, fmt.Errorf("getting purchase: %w", err)
	}
	if err := Validate(p); err != nil {
		return nil, err
	}

	applyFields(existing, p)
	existing.UpdatedAt = s.timeSource.Now()

	if err := s.db.SavePurchase(existing); err != nil {
		return nil, fmt.Errorf("saving purchase to database: %w", err)
	}
	return existing, nil
}

// applyFields copies the user-editable fields from src to dst
func applyFields(dst, src *Purchase) {
	dst.Supplier = src.Supplier
	dst.RUT = src.RUT
	dst.Date = src.Date
	dst.RawText = src.RawText
	dst.Total = nil
	if src.Total != nil {
		total := roundCents(*src.Total)
		dst.Total = &total
	}
	dst.Items = src.Items
	if dst.Items == nil {
		dst.Items = []scanning.LineItem{}
	}
}

// Get retrieves a purchase by ID
func (s *Service) Get(id string) (*Purchase, error) {
	p, err := s.db.GetPurchase(id)
	if err != nil {
		return nil, fmt.Errorf("getting purchase: %w", err)
	}
	return p, nil
}

// List returns the newest purchases matching filter and the sum of their totals
func (s *Service) List(filter Filter) (*ListResult, error) {
	all, err := s.db.ListPurchases()
	if err != nil {
		return nil, fmt.Errorf("listing purchases: %w", err)
	}
	purchases := filter.Apply(all, ListLimit)
	return &ListResult{
		Purchases: purchases,
		TotalSum:  sumTotals(purchases),
	}, nil
}

// Delete removes a purchase and its document
func (s *Service) Delete(id string) error {
	p, err := s.db.GetPurchase(id)
	if err != nil {
		return fmt.Errorf("getting purchase for deletion: %w", err)
	}
	return s.delete(p)
}

func (s *Service) delete(p *Purchase) error {
	if p.Document != "" {
		if err := s.storage.Delete(p.Document); err != nil {
			// Log error but continue with database deletion
			slog.Warn("Failed to delete document", "document", p.Document, "error", err)
		}
	}
	if err := s.db.DeletePurchase(p.ID); err != nil {
		return fmt.Errorf("deleting purchase from database: %w", err)
	}
	return nil
}

// DeleteAll removes every purchase and returns how many were deleted
func (s *Service) DeleteAll() (int, error) {
	return s.DeleteFiltered(Filter{})
}

// DeleteFiltered removes every purchase matching filter, without the listing limit
func (s *Service) DeleteFiltered(filter Filter) (int, error) {
	all, err := s.db.ListPurchases()
	if err != nil {
		return 0, fmt.Errorf("listing purchases: %w", err)
	}

	count := 0
	for _, p := range filter.Apply(all, 0) {
		if err := s.delete(p); err != nil {
			return count, err
		}
		count++
	}
	slog.Info("Purchases deleted", "count", count, "filtered", !filter.Empty())
	return count, nil
}

// GetDocument retrieves the uploaded document of a purchase
func (s *Service) GetDocument(id string) ([]byte, string, error) {
	p, err := s.db.GetPurchase(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting purchase: %w", err)
	}
	if p.Document == "" {
		return nil, "", fmt.Errorf("purchase %s has no document: %w", id, ErrNotFound)
	}

	data, err := s.storage.Get(p.Document)
	if err != nil {
		return nil, "", fmt.Errorf("getting document: %w", err)
	}

	contentType := p.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return data, contentType, nil
}

// ExportXLSX renders every purchase matching filter as an Excel workbook
func (s *Service) ExportXLSX(filter Filter) ([]byte, error) {
	all, err := s.db.ListPurchases()
	if err != nil {
		return nil, fmt.Errorf("listing purchases: %w", err)
	}
	purchases := filter.Apply(all, 0)

	data, err := writeXLSX(purchases)
	if err != nil {
		return nil, fmt.Errorf("exporting purchases: %w", err)
	}
	slog.Info("Purchases exported", "rows", len(purchases), "bytes", len(data))
	return data, nil
}

// IsNotFound reports whether err means the purchase or its document is missing
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, os.ErrNotExist)
}

// uploadExtension returns the filename's extension, falling back to one
// derived from the content type for names like "scan"
func uploadExtension(filename, contentType string) string {
	if ext := filepath.Ext(filename); ext != "" {
		return ext
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	switch mediaType {
	case "application/pdf":
		return ".pdf"
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/heic":
		return ".heic"
	case "image/heif":
		return ".heif"
	case "image/webp":
		return ".webp"
	}
	return ""
}

// truncateMessage shortens s to at most limit runes, ending with "..." when cut
func truncateMessage(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}
