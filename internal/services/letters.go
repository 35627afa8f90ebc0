package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SRL-GEN/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LetterService struct {
	db  *gorm.DB
	now func() time.Time
}

// LetterSnapshot is the applicant data copied onto the letter each time it
// is generated.
type LetterSnapshot struct {
	ApplicationID   string
	LetterType      string
	ApplicantName   string
	StudentNumber   string
	ProgramStudi    string
	ScholarshipName string
}

func NewLetterService(db *gorm.DB) *LetterService {
	return &LetterService{db: db, now: time.Now}
}

func (s *LetterService) Get(ctx context.Context, applicationID string) (*models.Letter, error) {
	var letter models.Letter
	err := s.db.WithContext(ctx).Where("application_id = ?", applicationID).First(&letter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("letter for application", applicationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load letter: %w", err)
	}
	return &letter, nil
}

// UpsertSnapshot creates the letter as a draft or refreshes its applicant
// data. Number and status are never touched here.
func (s *LetterService) UpsertSnapshot(ctx context.Context, snapshot LetterSnapshot) (*models.Letter, error) {
	letter := models.Letter{
		ApplicationID:   snapshot.ApplicationID,
		LetterType:      snapshot.LetterType,
		Status:          models.LetterStatusDraft,
		ApplicantName:   snapshot.ApplicantName,
		StudentNumber:   snapshot.StudentNumber,
		ProgramStudi:    snapshot.ProgramStudi,
		ScholarshipName: snapshot.ScholarshipName,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "application_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"applicant_name", "student_number", "program_studi", "scholarship_name", "updated_at",
		}),
	}).Create(&letter).Error
	if err != nil {
		return nil, fmt.Errorf("failed to save letter: %w", err)
	}
	return s.Get(ctx, snapshot.ApplicationID)
}

// Publish finalizes a numbered letter. Publishing twice is a no-op.
func (s *LetterService) Publish(ctx context.Context, applicationID string) (*models.Letter, error) {
	letter, err := s.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if letter.Issued() {
		return letter, nil
	}
	if letter.Number() == "" {
		return nil, &ValidationError{Field: "letter_number", Message: "letter has no number yet"}
	}

	now := s.now()
	err = s.db.WithContext(ctx).Model(letter).Updates(map[string]any{
		"status":       models.LetterStatusPublished,
		"published_at": now,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to publish letter: %w", err)
	}
	return s.Get(ctx, applicationID)
}

func (s *LetterService) Complete(ctx context.Context, applicationID string) (*models.Letter, error) {
	letter, err := s.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	switch letter.Status {
	case models.LetterStatusCompleted:
		return letter, nil
	case models.LetterStatusPublished:
	default:
		return nil, &ValidationError{Field: "status", Message: "only published letters can be completed"}
	}

	if err := s.db.WithContext(ctx).Model(letter).Update("status", models.LetterStatusCompleted).Error; err != nil {
		return nil, fmt.Errorf("failed to complete letter: %w", err)
	}
	return s.Get(ctx, applicationID)
}
