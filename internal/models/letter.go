package models

import (
	"time"
)

const (
	LetterStatusDraft     = "draft"
	LetterStatusPublished = "published"
	LetterStatusCompleted = "completed"
)

// Letter is the owning record of a recommendation letter. Only published and
// completed letters count as issued for numbering.
type Letter struct {
	ApplicationID   string     `gorm:"primaryKey;size:191" json:"application_id"`
	LetterType      string     `gorm:"size:64;not null;index" json:"letter_type"`
	LetterNumber    *string    `gorm:"size:191;uniqueIndex" json:"letter_number"`
	Status          string     `gorm:"size:32;not null;default:'draft';index" json:"status"`
	ApplicantName   string     `gorm:"size:255" json:"applicant_name"`
	StudentNumber   string     `gorm:"size:64" json:"student_number"`
	ProgramStudi    string     `gorm:"size:255" json:"program_studi"`
	ScholarshipName string     `gorm:"size:255" json:"scholarship_name"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (Letter) TableName() string {
	return "letters"
}

func (l *Letter) Number() string {
	if l == nil || l.LetterNumber == nil {
		return ""
	}
	return *l.LetterNumber
}

func (l *Letter) Issued() bool {
	return l.Status == LetterStatusPublished || l.Status == LetterStatusCompleted
}

// LetterSequence is the reservation counter of one numbering bucket.
type LetterSequence struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	LetterType   string    `gorm:"size:64;not null;uniqueIndex:uq_letter_sequence_bucket,priority:1" json:"letter_type"`
	Year         int       `gorm:"not null;uniqueIndex:uq_letter_sequence_bucket,priority:2" json:"year"`
	Month        int       `gorm:"not null;uniqueIndex:uq_letter_sequence_bucket,priority:3" json:"month"`
	LastSequence int       `gorm:"not null;default:0" json:"last_sequence"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (LetterSequence) TableName() string {
	return "letter_sequences"
}
