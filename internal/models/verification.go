package models

import "time"

type LetterVerification struct {
	ID             uint       `gorm:"primaryKey" json:"-"`
	ApplicationID  string     `gorm:"size:191;not null;uniqueIndex" json:"application_id"`
	LetterNumber   string     `gorm:"size:191" json:"letter_number"`
	Code           string     `gorm:"size:12;not null;uniqueIndex" json:"code"`
	VerifiedCount  int64      `gorm:"not null;default:0" json:"verified_count"`
	LastVerifiedAt *time.Time `json:"last_verified_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (LetterVerification) TableName() string {
	return "letter_verifications"
}
