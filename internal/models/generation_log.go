package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	GenerationPending = "PENDING"
	GenerationSuccess = "SUCCESS"
	GenerationFailed  = "FAILED"

	FormatDOCX = "DOCX"
	FormatPDF  = "PDF"
)

// GenerationLog records one attempt to render a letter. It is created as
// PENDING and updated exactly once to SUCCESS or FAILED.
type GenerationLog struct {
	ID            string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	TemplateID    string         `gorm:"size:191;not null" json:"template_id"`
	ApplicationID string         `gorm:"size:191;not null;index" json:"application_id"`
	Format        string         `gorm:"size:8;not null" json:"format"`
	Status        string         `gorm:"size:16;not null;index" json:"status"`
	OutputPath    string         `gorm:"size:512" json:"output_path"`
	FileSize      int64          `json:"file_size"`
	PDFSize       int64          `json:"pdf_size,omitempty"`
	DurationMs    int64          `json:"duration_ms"`
	ErrorMessage  string         `gorm:"type:text" json:"error_message,omitempty"`
	RequestData   datatypes.JSON `gorm:"type:json" json:"request_data,omitempty"`
	CreatedAt     time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (GenerationLog) TableName() string {
	return "generation_logs"
}
