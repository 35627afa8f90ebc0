package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
	"unicode"

	"SRL-GEN/internal/logger"
	"SRL-GEN/internal/models"
	"SRL-GEN/internal/processor"
	"SRL-GEN/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	PDFMimeType = "application/pdf"

	maxFilenameLength = 50
)

// ErrArtifactMissing marks a generation log whose file is gone from the blob
// store. Callers should regenerate the letter.
var ErrArtifactMissing = errors.New("generated file is missing")

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

type GenerationRequest struct {
	ApplicationID string
	TemplateID    string
	Form          map[string]any
	LetterNumber  string
	AssignNumber  bool
	Signature     string
	Stamp         string
	Format        string
	KeepLogID     string
}

type GenerationResult struct {
	Log              *models.GenerationLog `json:"log"`
	LetterNumber     string                `json:"letter_number,omitempty"`
	VerificationCode string                `json:"verification_code,omitempty"`
	VerificationURL  string                `json:"verification_url,omitempty"`
}

// Artifact is an opened generated letter ready to be streamed.
type Artifact struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
	Filename    string
}

type GenerationDeps struct {
	DB                *gorm.DB
	Store             storage.BlobStore
	Templates         *TemplateService
	Fields            *FieldTable
	Features          *FeatureComposer
	Numbering         *NumberingService
	Verification      *VerificationService
	Letters           *LetterService
	PDF               PDFConverter
	DefaultTemplateID string
	Logger            *zap.Logger
}

// GenerationService runs a letter through cleanup, render and persist, and
// serves the result in either format.
type GenerationService struct {
	GenerationDeps
	log *zap.Logger
	now func() time.Time
}

func NewGenerationService(deps GenerationDeps) *GenerationService {
	if deps.Fields == nil {
		deps.Fields = DefaultFieldTable()
	}
	return &GenerationService{
		GenerationDeps: deps,
		log:            logger.OrNop(deps.Logger),
		now:            time.Now,
	}
}

func normalizeFormat(format string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(format)) {
	case "", models.FormatDOCX:
		return models.FormatDOCX, nil
	case models.FormatPDF:
		return models.FormatPDF, nil
	}
	return "", &ValidationError{Field: "format", Message: "must be DOCX or PDF"}
}

// Generate renders the letter of one application. Input problems are
// returned before anything is written. Once the generation log exists every
// outcome is recorded on it.
func (s *GenerationService) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	start := s.now()

	format, err := normalizeFormat(req.Format)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.ApplicationID) == "" {
		return nil, &ValidationError{Field: "application_id", Message: "is required"}
	}
	templateID := req.TemplateID
	if templateID == "" {
		templateID = s.DefaultTemplateID
	}

	data, err := s.Fields.Resolve(req.Form, start)
	if err != nil {
		return nil, err
	}

	letter, err := s.Letters.UpsertSnapshot(ctx, LetterSnapshot{
		ApplicationID:   req.ApplicationID,
		LetterType:      s.Numbering.DefaultLetterType(),
		ApplicantName:   processor.Stringify(data["nama_lengkap"]),
		StudentNumber:   processor.Stringify(data["nim"]),
		ProgramStudi:    processor.Stringify(data["program_studi"]),
		ScholarshipName: processor.Stringify(data["nama_beasiswa"]),
	})
	if err != nil {
		return nil, err
	}

	result := &GenerationResult{}
	verification, err := s.resolveNumber(ctx, letter, req, data, start)
	if err != nil {
		return nil, err
	}
	data["nomor_surat"] = ""
	features := DigitalFeatures{Signature: req.Signature, Stamp: req.Stamp}
	if verification != nil {
		data["nomor_surat"] = verification.LetterNumber
		result.LetterNumber = verification.LetterNumber
		result.VerificationCode = verification.Code
		result.VerificationURL = s.Verification.VerificationURL(verification.Code)
		features.VerificationURL = result.VerificationURL
	}

	if err := s.Cleanup(ctx, req.ApplicationID, req.KeepLogID); err != nil {
		s.log.Warn("Cleanup before generation failed",
			zap.String("application_id", req.ApplicationID), zap.Error(err))
	}

	genLog := &models.GenerationLog{
		ID:            uuid.New().String(),
		TemplateID:    templateID,
		ApplicationID: req.ApplicationID,
		Format:        format,
		Status:        models.GenerationPending,
		RequestData:   requestSnapshot(data),
	}
	if err := s.DB.WithContext(ctx).Create(genLog).Error; err != nil {
		return nil, fmt.Errorf("failed to create generation log: %w", err)
	}
	result.Log = genLog

	out, err := s.renderAndPersist(ctx, templateID, req.ApplicationID, format, data, features, start)
	if err != nil {
		s.finish(ctx, genLog, start, func(l *models.GenerationLog) {
			l.Status = models.GenerationFailed
			l.ErrorMessage = err.Error()
		})
		s.log.Error("Letter generation failed",
			zap.String("application_id", req.ApplicationID),
			zap.String("generation_id", genLog.ID),
			zap.Error(err))
		return result, err
	}

	s.finish(ctx, genLog, start, func(l *models.GenerationLog) {
		l.Status = models.GenerationSuccess
		l.OutputPath = out.key
		l.FileSize = out.size
		l.PDFSize = out.pdfSize
	})
	s.log.Info("Letter generated",
		zap.String("application_id", req.ApplicationID),
		zap.String("generation_id", genLog.ID),
		zap.String("format", format),
		zap.Int64("size", out.size),
		zap.Int64("duration_ms", genLog.DurationMs))
	return result, nil
}

// resolveNumber settles the letter number before rendering: an explicit
// number is validated and committed, an existing one is kept, and a new
// one is reserved only when asked for. It returns nil for drafts.
func (s *GenerationService) resolveNumber(ctx context.Context, letter *models.Letter, req GenerationRequest, data TemplateData, at time.Time) (*models.LetterVerification, error) {
	explicit := strings.TrimSpace(req.LetterNumber)
	if explicit == "" {
		explicit = strings.TrimSpace(processor.Stringify(data["nomor_surat"]))
	}

	switch {
	case explicit != "" && explicit != letter.Number():
		updated, err := s.Numbering.UpdateLetterNumber(ctx, letter.ApplicationID, explicit)
		if err != nil {
			return nil, err
		}
		return updated.Verification, nil
	case letter.Number() != "":
		return s.Verification.Issue(ctx, letter.ApplicationID, letter.Number())
	case req.AssignNumber:
		generated, err := s.Numbering.GenerateNumber(ctx, letter.ApplicationID, letter.LetterType, at)
		if err != nil {
			return nil, err
		}
		return generated.Verification, nil
	}
	return nil, nil
}

// persisted names the stored .docx. size is always the .docx size; pdfSize
// is set when the PDF sibling was produced with it.
type persisted struct {
	key     string
	size    int64
	pdfSize int64
}

func (s *GenerationService) renderAndPersist(ctx context.Context, templateID, applicationID, format string, data TemplateData, features DigitalFeatures, at time.Time) (*persisted, error) {
	images, err := s.Features.Compose(ctx, features)
	if err != nil {
		return nil, err
	}
	for tag, payload := range images {
		data[tag] = payload
	}

	tpl, err := s.Templates.Load(ctx, templateID)
	if err != nil {
		return nil, err
	}
	rendered, err := processor.Render(tpl, data, processor.DefaultImageResolver{})
	if err != nil {
		return nil, err
	}
	docx, err := rendered.Bytes()
	if err != nil {
		return nil, err
	}

	out := &persisted{key: GeneratedKey(applicationID, at), size: int64(len(docx))}
	if err := storage.PutBytes(ctx, s.Store, out.key, docx, processor.DocxMimeType); err != nil {
		return nil, fmt.Errorf("failed to store generated letter: %w", err)
	}
	if format == models.FormatDOCX {
		return out, nil
	}

	pdf, err := s.convert(ctx, out.key, docx)
	if err != nil {
		if delErr := s.Store.Delete(ctx, out.key); delErr != nil {
			s.log.Warn("Failed to remove letter after PDF failure", zap.String("key", out.key), zap.Error(delErr))
		}
		return nil, err
	}
	out.pdfSize = int64(len(pdf))
	return out, nil
}

func (s *GenerationService) convert(ctx context.Context, docxKey string, docx []byte) ([]byte, error) {
	if s.PDF == nil {
		return nil, ErrExternalToolUnavailable
	}
	pdf, err := s.PDF.Convert(ctx, "letter.docx", docx)
	if err != nil {
		return nil, err
	}
	if err := storage.PutBytes(ctx, s.Store, PDFKey(docxKey), pdf, PDFMimeType); err != nil {
		return nil, fmt.Errorf("failed to store pdf: %w", err)
	}
	return pdf, nil
}

// finish applies the terminal update to a generation log. It runs once per
// log and uses a fresh context so a cancelled request still records it.
func (s *GenerationService) finish(ctx context.Context, genLog *models.GenerationLog, start time.Time, apply func(*models.GenerationLog)) {
	apply(genLog)
	genLog.DurationMs = s.now().Sub(start).Milliseconds()

	updates := map[string]any{
		"status":        genLog.Status,
		"output_path":   genLog.OutputPath,
		"file_size":     genLog.FileSize,
		"pdf_size":      genLog.PDFSize,
		"duration_ms":   genLog.DurationMs,
		"error_message": genLog.ErrorMessage,
	}
	err := s.DB.WithContext(context.WithoutCancel(ctx)).
		Model(&models.GenerationLog{}).
		Where("id = ? AND status = ?", genLog.ID, models.GenerationPending).
		Updates(updates).Error
	if err != nil {
		s.log.Error("Failed to update generation log", zap.String("generation_id", genLog.ID), zap.Error(err))
	}
}

// Cleanup removes every generation log of an application except keepID,
// together with its files. It is safe to run repeatedly; failures on single
// files are logged and skipped.
func (s *GenerationService) Cleanup(ctx context.Context, applicationID, keepID string) error {
	query := s.DB.WithContext(ctx).Where("application_id = ?", applicationID)
	if keepID != "" {
		query = query.Where("id <> ?", keepID)
	}

	var stale []models.GenerationLog
	if err := query.Find(&stale).Error; err != nil {
		return fmt.Errorf("failed to list generation logs: %w", err)
	}

	for _, l := range stale {
		if l.OutputPath != "" {
			for _, key := range []string{l.OutputPath, PDFKey(l.OutputPath)} {
				if err := s.Store.Delete(ctx, key); err != nil {
					s.log.Warn("Failed to delete generated file", zap.String("key", key), zap.Error(err))
				}
			}
		}
		if err := s.DB.WithContext(ctx).Delete(&models.GenerationLog{}, "id = ?", l.ID).Error; err != nil {
			s.log.Warn("Failed to delete generation log", zap.String("generation_id", l.ID), zap.Error(err))
		}
	}
	if len(stale) > 0 {
		s.log.Debug("Stale generations removed",
			zap.String("application_id", applicationID), zap.Int("count", len(stale)))
	}
	return nil
}

// Latest returns the newest successful generation of an application.
func (s *GenerationService) Latest(ctx context.Context, applicationID string) (*models.GenerationLog, error) {
	var genLog models.GenerationLog
	err := s.DB.WithContext(ctx).
		Where("application_id = ? AND status = ?", applicationID, models.GenerationSuccess).
		Order("created_at DESC").
		First(&genLog).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("generated letter for application", applicationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load generation log: %w", err)
	}
	return &genLog, nil
}

func (s *GenerationService) Logs(ctx context.Context, applicationID string) ([]models.GenerationLog, error) {
	var logs []models.GenerationLog
	err := s.DB.WithContext(ctx).
		Where("application_id = ?", applicationID).
		Order("created_at DESC").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list generation logs: %w", err)
	}
	return logs, nil
}

// Open returns the latest letter of an application. A PDF is converted on
// demand and reused until the .docx it came from is newer than it.
func (s *GenerationService) Open(ctx context.Context, applicationID, format string) (*Artifact, error) {
	format, err := normalizeFormat(format)
	if err != nil {
		return nil, err
	}
	genLog, err := s.Latest(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	docxInfo, err := s.Store.Stat(ctx, genLog.OutputPath)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %w: %s", ErrNotFound, ErrArtifactMissing, genLog.OutputPath)
	}
	if err != nil {
		return nil, err
	}

	key, contentType, ext := genLog.OutputPath, processor.DocxMimeType, "docx"
	if format == models.FormatPDF {
		key, contentType, ext = PDFKey(genLog.OutputPath), PDFMimeType, "pdf"
		pdfInfo, err := s.Store.Stat(ctx, key)
		switch {
		case errors.Is(err, storage.ErrObjectNotFound) || (err == nil && pdfInfo.ModTime.Before(docxInfo.ModTime)):
			docx, err := storage.ReadAll(ctx, s.Store, genLog.OutputPath)
			if err != nil {
				return nil, err
			}
			pdf, err := s.convert(ctx, genLog.OutputPath, docx)
			if err != nil {
				return nil, err
			}
			if err := s.DB.WithContext(ctx).Model(genLog).Update("pdf_size", int64(len(pdf))).Error; err != nil {
				s.log.Warn("Failed to record PDF size", zap.String("generation_id", genLog.ID), zap.Error(err))
			}
			s.log.Debug("PDF regenerated", zap.String("key", key))
		case err != nil:
			return nil, err
		}
	}

	info, err := s.Store.Stat(ctx, key)
	if err != nil {
		return nil, err
	}
	body, err := s.Store.Open(ctx, key)
	if err != nil {
		return nil, err
	}

	filename := "surat_rekomendasi." + ext
	if letter, err := s.Letters.Get(ctx, applicationID); err == nil {
		filename = DownloadFilename(letter, ext)
	}
	return &Artifact{Body: body, Size: info.Size, ContentType: contentType, Filename: filename}, nil
}

func GeneratedKey(applicationID string, at time.Time) string {
	safe := unsafeKeyChars.ReplaceAllString(applicationID, "_")
	return fmt.Sprintf("generated/%s_%d.docx", safe, at.UnixMilli())
}

func PDFKey(docxKey string) string {
	return strings.TrimSuffix(docxKey, ".docx") + ".pdf"
}

// DownloadFilename builds "<name>_<nim>_<scholarship>.<ext>" with every
// character other than letters, digits and spaces removed and spaces turned
// into underscores. The base name is cut at 50 characters.
func DownloadFilename(letter *models.Letter, ext string) string {
	var words []string
	for _, part := range []string{letter.ApplicantName, letter.StudentNumber, letter.ScholarshipName} {
		cleaned := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
				return r
			}
			return -1
		}, part)
		words = append(words, strings.Fields(cleaned)...)
	}

	base := strings.Join(words, "_")
	if runes := []rune(base); len(runes) > maxFilenameLength {
		base = strings.TrimRight(string(runes[:maxFilenameLength]), "_")
	}
	if base == "" {
		base = "surat_rekomendasi"
	}
	return base + "." + ext
}

// requestSnapshot keeps the text fields of a render for auditing. Image
// payloads are left out.
func requestSnapshot(data TemplateData) datatypes.JSON {
	snapshot := make(map[string]any, len(data))
	for key, value := range data {
		switch key {
		case processor.TagSignature, processor.TagStamp, processor.TagQRCode:
			continue
		}
		snapshot[key] = value
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
