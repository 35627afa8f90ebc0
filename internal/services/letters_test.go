package services

import (
	"context"
	"errors"
	"testing"

	"SRL-GEN/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLetterLifecycle(t *testing.T) {
	f := newNumberingFixture(t)
	ctx := context.Background()

	letter, err := f.letters.UpsertSnapshot(ctx, LetterSnapshot{
		ApplicationID: "A1",
		LetterType:    testLetterType,
		ApplicantName: "Siti",
	})
	require.NoError(t, err)
	assert.Equal(t, models.LetterStatusDraft, letter.Status)

	_, err = f.letters.Publish(ctx, "A1")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "unnumbered letters cannot be published")

	_, err = f.numbering.GenerateNumber(ctx, "A1", "", december2025)
	require.NoError(t, err)

	letter, err = f.letters.UpsertSnapshot(ctx, LetterSnapshot{
		ApplicationID: "A1",
		LetterType:    testLetterType,
		ApplicantName: "Siti Rahma",
	})
	require.NoError(t, err)
	assert.Equal(t, "Siti Rahma", letter.ApplicantName)
	assert.Equal(t, "001/ORG/KM/XII/2025", letter.Number(), "snapshot keeps the number")

	_, err = f.letters.Complete(ctx, "A1")
	assert.True(t, errors.As(err, &verr))

	letter, err = f.letters.Publish(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, models.LetterStatusPublished, letter.Status)
	require.NotNil(t, letter.PublishedAt)

	letter, err = f.letters.Complete(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, models.LetterStatusCompleted, letter.Status)

	_, err = f.letters.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
