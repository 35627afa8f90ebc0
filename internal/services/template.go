package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"

	"SRL-GEN/internal/logger"
	"SRL-GEN/internal/processor"
	"SRL-GEN/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxTemplateBytes = 20 << 20

var templateIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type TemplateService struct {
	store storage.BlobStore
	log   *zap.Logger
}

type TemplateInfo struct {
	ID           string   `json:"template_id"`
	Size         int64    `json:"size"`
	Placeholders []string `json:"placeholders"`
	Repaired     bool     `json:"repaired"`
}

func NewTemplateService(store storage.BlobStore, log *zap.Logger) *TemplateService {
	return &TemplateService{
		store: store,
		log:   logger.OrNop(log),
	}
}

func TemplateKey(templateID string) string {
	return "templates/" + templateID + ".docx"
}

// Upload repairs a template and stores it under templateID, replacing any
// previous version. An empty id gets a fresh uuid.
func (s *TemplateService) Upload(ctx context.Context, templateID string, r io.Reader) (*TemplateInfo, error) {
	if templateID == "" {
		templateID = uuid.New().String()
	}
	if !templateIDPattern.MatchString(templateID) {
		return nil, &ValidationError{Field: "template_id", Message: "may only contain letters, digits, '-' and '_'"}
	}

	data, err := io.ReadAll(io.LimitReader(r, maxTemplateBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	if len(data) > maxTemplateBytes {
		return nil, &ValidationError{Field: "template", Message: "file is larger than 20 MB"}
	}

	pkg, err := processor.OpenPackage(data)
	if err != nil {
		return nil, &ValidationError{Field: "template", Message: fmt.Sprintf("not a valid .docx file: %v", err)}
	}

	report, err := processor.Repair(pkg)
	if err != nil {
		return nil, &ValidationError{Field: "template", Message: err.Error()}
	}
	for _, part := range report.Parts {
		s.log.Debug("Template part repaired",
			zap.String("template_id", templateID),
			zap.String("part", part.Part),
			zap.Int("placeholders_before", part.Before),
			zap.Int("placeholders_after", part.After),
			zap.Int("merged", part.Merged),
			zap.Int("normalized", part.Normalized))
	}

	placeholders, err := processor.ExtractPlaceholders(pkg)
	if err != nil {
		return nil, fmt.Errorf("failed to extract placeholders: %w", err)
	}

	repaired, err := pkg.Bytes()
	if err != nil {
		return nil, err
	}
	if err := storage.PutBytes(ctx, s.store, TemplateKey(templateID), repaired, processor.DocxMimeType); err != nil {
		return nil, fmt.Errorf("failed to store template: %w", err)
	}

	s.log.Info("Template stored",
		zap.String("template_id", templateID),
		zap.Int("placeholders", len(placeholders)),
		zap.Bool("repaired", report.Changed()))

	return &TemplateInfo{
		ID:           templateID,
		Size:         int64(len(repaired)),
		Placeholders: placeholders,
		Repaired:     report.Changed(),
	}, nil
}

func (s *TemplateService) Load(ctx context.Context, templateID string) (*processor.Package, error) {
	if !templateIDPattern.MatchString(templateID) {
		return nil, notFound("template", templateID)
	}
	data, err := storage.ReadAll(ctx, s.store, TemplateKey(templateID))
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, notFound("template", templateID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	return processor.OpenPackage(data)
}

func (s *TemplateService) Placeholders(ctx context.Context, templateID string) ([]string, error) {
	pkg, err := s.Load(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return processor.ExtractPlaceholders(pkg)
}

func (s *TemplateService) Delete(ctx context.Context, templateID string) error {
	if !templateIDPattern.MatchString(templateID) {
		return notFound("template", templateID)
	}
	return s.store.Delete(ctx, TemplateKey(templateID))
}
