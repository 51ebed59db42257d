package invoice

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/invoice-pipeline/internal/document"
)

// IDGenerator generates unique IDs for invoice records
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates time-ordered UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}

// Service runs uploads through the pipeline and persists the results
type Service struct {
	db          DB
	runner      Runner
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, runner Runner, storage Storage) *Service {
	return NewServiceWithDeps(db, runner, storage, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, runner Runner, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		runner:      runner,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename strips special characters from the base name and caps its length
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "." {
		ext = ""
	}
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "upload"
	}
	return base + ext
}

// IngestResult is the outcome of one upload. Single is set when the upload was
// one image or page document, which the HTTP layer reports in the flat shape.
type IngestResult struct {
	Single  bool
	Results []ItemResult
}

// Ingest stores the uploaded blob, runs it through the pipeline and saves one
// record per successful item. A persistence failure is attached to the item
// without discarding its invoice.
func (s *Service) Ingest(ctx context.Context, filename string, data []byte, contentType string) (*IngestResult, error) {
	if filename == "" {
		return nil, ErrNoFile
	}

	now := s.timeSource.Now()
	blob := document.Blob{Name: filename, ContentType: contentType, Data: data}

	storedName := fmt.Sprintf("%d_%s", now.UnixNano(), sanitizeFilename(filename))
	savedPath, err := s.storage.Save(storedName, data)
	if err != nil {
		slog.Warn("Failed to store upload", "filename", filename, "error", err)
		savedPath = ""
	}

	batch := s.runner.Run(ctx, blob)

	referenced := false
	for i := range batch.Results {
		item := &batch.Results[i]
		if item.Status != StatusSuccess {
			continue
		}

		record := &Record{
			ID:               s.idGenerator.Generate(),
			UploadedAt:       now,
			UploadPath:       savedPath,
			ContentType:      contentType,
			CanonicalInvoice: *item.Invoice,
		}
		if err := s.db.SaveInvoice(record); err != nil {
			slog.Error("Failed to save invoice", "source", item.Source, "error", err)
			item.Error = Classify(fmt.Errorf("%w: %w", ErrPersistence, err))
			continue
		}
		item.ID = record.ID
		item.UploadedAt = &record.UploadedAt
		referenced = true
	}

	if savedPath != "" && !referenced {
		if err := s.storage.Delete(savedPath); err != nil {
			slog.Warn("Failed to delete unreferenced upload", "path", savedPath, "error", err)
		}
	}

	kind := blob.Kind()
	return &IngestResult{
		Single:  (kind == document.Image || kind == document.PageDocument) && len(batch.Results) == 1,
		Results: batch.Results,
	}, nil
}

// GetInvoice retrieves an invoice record by ID
func (s *Service) GetInvoice(id string) (*Record, error) {
	record, err := s.db.GetInvoice(id)
	if err != nil {
		return nil, fmt.Errorf("getting invoice: %w", err)
	}
	return record, nil
}

// ListInvoices returns all invoice records, newest first
func (s *Service) ListInvoices() ([]*Record, error) {
	records, err := s.db.ListInvoices()
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	return records, nil
}

// DeleteInvoice removes a record, and its stored upload once no other record
// points at it
func (s *Service) DeleteInvoice(id string) error {
	record, err := s.db.GetInvoice(id)
	if err != nil {
		return fmt.Errorf("getting invoice for deletion: %w", err)
	}

	if err := s.db.DeleteInvoice(id); err != nil {
		return fmt.Errorf("deleting invoice from database: %w", err)
	}

	if record.UploadPath == "" {
		return nil
	}
	shared, err := s.uploadReferenced(record.UploadPath)
	if err != nil {
		slog.Warn("Failed to check upload references", "path", record.UploadPath, "error", err)
		return nil
	}
	if !shared {
		if err := s.storage.Delete(record.UploadPath); err != nil {
			slog.Warn("Failed to delete file", "path", record.UploadPath, "error", err)
		}
	}
	return nil
}

func (s *Service) uploadReferenced(path string) (bool, error) {
	records, err := s.db.ListInvoices()
	if err != nil {
		return false, err
	}
	for _, r := range records {
		if r.UploadPath == path {
			return true, nil
		}
	}
	return false, nil
}

// GetInvoiceFile retrieves the original upload an invoice was extracted from
func (s *Service) GetInvoiceFile(id string) ([]byte, string, error) {
	record, err := s.db.GetInvoice(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting invoice: %w", err)
	}
	if record.UploadPath == "" {
		return nil, "", fmt.Errorf("invoice %s has no stored upload", id)
	}

	data, err := s.storage.Get(record.UploadPath)
	if err != nil {
		return nil, "", fmt.Errorf("getting invoice file: %w", err)
	}

	contentType := record.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return data, contentType, nil
}
