package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"SRL-GEN/internal/logger"
	"SRL-GEN/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxCodeAttempts = 5

var verificationCodePattern = regexp.MustCompile(`^[0-9A-F]{12}$`)

type VerificationService struct {
	db              *gorm.DB
	frontendBaseURL string
	log             *zap.Logger
	now             func() time.Time
}

// LetterSummary is the part of a letter shown to anonymous verifiers.
type LetterSummary struct {
	ApplicantName   string `json:"applicant_name"`
	ProgramStudi    string `json:"program_studi,omitempty"`
	ScholarshipName string `json:"scholarship_name,omitempty"`
	Status          string `json:"status"`
}

type VerificationResult struct {
	Valid          bool           `json:"valid"`
	Code           string         `json:"code"`
	LetterNumber   string         `json:"letter_number"`
	IssuedAt       time.Time      `json:"issued_at"`
	VerifiedCount  int64          `json:"verified_count"`
	LastVerifiedAt *time.Time     `json:"last_verified_at,omitempty"`
	Letter         *LetterSummary `json:"letter,omitempty"`
}

func NewVerificationService(db *gorm.DB, frontendBaseURL string, log *zap.Logger) *VerificationService {
	return &VerificationService{
		db:              db,
		frontendBaseURL: strings.TrimRight(frontendBaseURL, "/"),
		log:             logger.OrNop(log),
		now:             time.Now,
	}
}

// GenerateVerificationCode derives a 12 character upper-case hex code from
// the application, its letter number and the issue instant.
func GenerateVerificationCode(applicationID, letterNumber string, at time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", applicationID, letterNumber, at.UnixNano())))
	return strings.ToUpper(hex.EncodeToString(sum[:])[:12])
}

func (s *VerificationService) VerificationURL(code string) string {
	return s.frontendBaseURL + "/verify/" + code
}

// Issue returns the verification record of an application, creating it on
// first use.
func (s *VerificationService) Issue(ctx context.Context, applicationID, letterNumber string) (*models.LetterVerification, error) {
	return s.issue(s.db.WithContext(ctx), applicationID, letterNumber)
}

func (s *VerificationService) issue(tx *gorm.DB, applicationID, letterNumber string) (*models.LetterVerification, error) {
	existing, err := findVerification(tx, applicationID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load verification: %w", err)
	}

	issuedAt := s.now()
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		record := models.LetterVerification{
			ApplicationID: applicationID,
			LetterNumber:  letterNumber,
			Code:          GenerateVerificationCode(applicationID, letterNumber, issuedAt.Add(time.Duration(attempt))),
		}
		err := tx.Transaction(func(inner *gorm.DB) error {
			return inner.Create(&record).Error
		})
		if err == nil {
			s.log.Info("Verification issued",
				zap.String("application_id", applicationID),
				zap.String("letter_number", letterNumber),
				zap.String("code", record.Code))
			return &record, nil
		}
		if !isDuplicateKey(err) {
			return nil, fmt.Errorf("failed to save verification: %w", err)
		}

		// Either another request issued this application first, or the
		// code collided with a different letter.
		if existing, err := findVerification(tx, applicationID); err == nil {
			return existing, nil
		}
		s.log.Warn("Verification code collision, retrying",
			zap.String("application_id", applicationID), zap.Int("attempt", attempt+1))
	}
	return nil, fmt.Errorf("failed to issue a unique verification code after %d attempts", maxCodeAttempts)
}

// Resolve looks a code up for a public verifier and counts the visit.
func (s *VerificationService) Resolve(ctx context.Context, code string) (*VerificationResult, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !verificationCodePattern.MatchString(code) {
		return nil, notFound("verification code", code)
	}

	var record models.LetterVerification
	var letter *models.Letter
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		result := tx.Model(&models.LetterVerification{}).
			Where("code = ?", code).
			Updates(map[string]any{
				"verified_count":   gorm.Expr("verified_count + ?", 1),
				"last_verified_at": now,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to count verification: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return notFound("verification code", code)
		}

		if err := tx.Where("code = ?", code).First(&record).Error; err != nil {
			return fmt.Errorf("failed to load verification: %w", err)
		}

		var found models.Letter
		err := tx.Where("application_id = ?", record.ApplicationID).First(&found).Error
		switch {
		case err == nil:
			letter = &found
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("failed to load letter: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &VerificationResult{
		Code:           record.Code,
		LetterNumber:   record.LetterNumber,
		IssuedAt:       record.CreatedAt,
		VerifiedCount:  record.VerifiedCount,
		LastVerifiedAt: record.LastVerifiedAt,
	}
	if letter != nil {
		result.Valid = letter.Number() != "" && letter.Number() == record.LetterNumber
		result.Letter = &LetterSummary{
			ApplicantName:   letter.ApplicantName,
			ProgramStudi:    letter.ProgramStudi,
			ScholarshipName: letter.ScholarshipName,
			Status:          letter.Status,
		}
	}
	return result, nil
}

// SyncLetterNumber points the verification record of an application at a
// new letter number, issuing one if the application had none.
func (s *VerificationService) SyncLetterNumber(ctx context.Context, applicationID, letterNumber string) (*models.LetterVerification, error) {
	return s.sync(s.db.WithContext(ctx), applicationID, letterNumber)
}

func (s *VerificationService) sync(tx *gorm.DB, applicationID, letterNumber string) (*models.LetterVerification, error) {
	result := tx.Model(&models.LetterVerification{}).
		Where("application_id = ?", applicationID).
		Update("letter_number", letterNumber)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update verification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return s.issue(tx, applicationID, letterNumber)
	}
	return findVerification(tx, applicationID)
}

func (s *VerificationService) Get(ctx context.Context, applicationID string) (*models.LetterVerification, error) {
	record, err := findVerification(s.db.WithContext(ctx), applicationID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("verification for application", applicationID)
	}
	return record, err
}

func findVerification(tx *gorm.DB, applicationID string) (*models.LetterVerification, error) {
	var record models.LetterVerification
	if err := tx.Where("application_id = ?", applicationID).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint")
}
