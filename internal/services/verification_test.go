package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"SRL-GEN/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVerificationCode(t *testing.T) {
	at := time.Unix(1765357200, 42)
	code := GenerateVerificationCode("A1", "001/ORG/KM/XII/2025", at)

	assert.Len(t, code, 12)
	assert.Equal(t, strings.ToUpper(code), code)
	assert.Regexp(t, `^[0-9A-F]{12}$`, code)
	assert.Equal(t, code, GenerateVerificationCode("A1", "001/ORG/KM/XII/2025", at))
	assert.NotEqual(t, code, GenerateVerificationCode("A1", "001/ORG/KM/XII/2025", at.Add(time.Nanosecond)))
}

func TestVerificationRoundTrip(t *testing.T) {
	f := newNumberingFixture(t)
	ctx := context.Background()

	number, err := f.numbering.GenerateNumber(ctx, "A1", "", december2025)
	require.NoError(t, err)
	_, err = f.letters.UpsertSnapshot(ctx, LetterSnapshot{
		ApplicationID:   "A1",
		ApplicantName:   "Siti Rahma",
		ProgramStudi:    "Informatika",
		ScholarshipName: "Beasiswa Unggulan",
	})
	require.NoError(t, err)

	issued, err := f.verification.Issue(ctx, "A1", number.Number)
	require.NoError(t, err)
	assert.Equal(t, number.Verification.Code, issued.Code, "issue is idempotent")
	assert.Zero(t, issued.VerifiedCount)

	first, err := f.verification.Resolve(ctx, " "+strings.ToLower(issued.Code)+" ")
	require.NoError(t, err)
	assert.True(t, first.Valid)
	assert.Equal(t, number.Number, first.LetterNumber)
	assert.Equal(t, int64(1), first.VerifiedCount)
	require.NotNil(t, first.LastVerifiedAt)
	require.NotNil(t, first.Letter)
	assert.Equal(t, "Siti Rahma", first.Letter.ApplicantName)
	assert.Equal(t, "Beasiswa Unggulan", first.Letter.ScholarshipName)

	second, err := f.verification.Resolve(ctx, issued.Code)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.VerifiedCount)
}

func TestResolveUnknownCode(t *testing.T) {
	f := newNumberingFixture(t)
	ctx := context.Background()

	_, err := f.verification.Resolve(ctx, "ABCDEF123456")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.verification.Resolve(ctx, "not-a-code")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIssueRetriesOnCodeCollision(t *testing.T) {
	f := newNumberingFixture(t)
	ctx := context.Background()

	fixed := time.Date(2025, 12, 10, 9, 0, 0, 0, time.UTC)
	f.verification.now = func() time.Time { return fixed }

	taken := GenerateVerificationCode("A1", "001/ORG/KM/XII/2025", fixed)
	require.NoError(t, f.db.Create(&models.LetterVerification{
		ApplicationID: "OTHER",
		LetterNumber:  "999/ORG/KM/XII/2025",
		Code:          taken,
	}).Error)

	record, err := f.verification.Issue(ctx, "A1", "001/ORG/KM/XII/2025")
	require.NoError(t, err)
	assert.NotEqual(t, taken, record.Code)
	assert.Equal(t, GenerateVerificationCode("A1", "001/ORG/KM/XII/2025", fixed.Add(time.Nanosecond)), record.Code)
}

func TestSyncLetterNumberIssuesWhenMissing(t *testing.T) {
	f := newNumberingFixture(t)
	ctx := context.Background()

	record, err := f.verification.SyncLetterNumber(ctx, "A9", "005/ORG/KM/I/2026")
	require.NoError(t, err)
	assert.Equal(t, "005/ORG/KM/I/2026", record.LetterNumber)

	updated, err := f.verification.SyncLetterNumber(ctx, "A9", "006/ORG/KM/I/2026")
	require.NoError(t, err)
	assert.Equal(t, record.Code, updated.Code)
	assert.Equal(t, "006/ORG/KM/I/2026", updated.LetterNumber)
}

func TestVerificationURL(t *testing.T) {
	s := NewVerificationService(nil, "https://surat.example.ac.id/", nil)
	assert.Equal(t, "https://surat.example.ac.id/verify/ABCDEF123456", s.VerificationURL("ABCDEF123456"))
}
