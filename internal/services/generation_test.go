package services

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"SRL-GEN/internal/models"
	"SRL-GEN/internal/processor"
	"SRL-GEN/internal/storage"
	"SRL-GEN/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConverter struct {
	calls int
	err   error
}

func (c *fakeConverter) Convert(ctx context.Context, filename string, docx []byte) ([]byte, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []byte("%PDF-1.7 " + filename), nil
}

type generationFixture struct {
	*numberingFixture
	root       string
	store      *storage.LocalStore
	converter  *fakeConverter
	generation *GenerationService
}

func newGenerationFixture(t *testing.T) *generationFixture {
	t.Helper()
	nf := newNumberingFixture(t)
	root := t.TempDir()
	store, err := storage.NewLocalStore(root)
	require.NoError(t, err)

	templates := NewTemplateService(store, nil)
	_, err = templates.Upload(context.Background(), "rekomendasi", bytes.NewReader(testutil.LetterTemplate()))
	require.NoError(t, err)

	converter := &fakeConverter{}
	g := NewGenerationService(GenerationDeps{
		DB:                nf.db,
		Store:             store,
		Templates:         templates,
		Features:          NewFeatureComposer(t.TempDir(), t.TempDir(), nil),
		Numbering:         nf.numbering,
		Verification:      nf.verification,
		Letters:           nf.letters,
		PDF:               converter,
		DefaultTemplateID: "rekomendasi",
	})
	tick := december2025
	g.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	return &generationFixture{
		numberingFixture: nf,
		root:             root,
		store:            store,
		converter:        converter,
		generation:       g,
	}
}

func validForm() map[string]any {
	return map[string]any{
		"namaLengkap":   "Siti Rahma",
		"nim":           "24060120120001",
		"tempat_lahir":  "Semarang",
		"tanggal_lahir": "2003-01-01",
		"no_hp":         "081234567890",
		"prodi":         "Informatika",
		"semester":      5,
		"ipk":           3.85,
		"ips":           3.9,
		"nama_beasiswa": "Beasiswa Unggulan",
	}
}

func (f *generationFixture) reload(t *testing.T, id string) models.GenerationLog {
	t.Helper()
	var genLog models.GenerationLog
	require.NoError(t, f.db.First(&genLog, "id = ?", id).Error)
	return genLog
}

func readArtifact(t *testing.T, a *Artifact) []byte {
	t.Helper()
	defer a.Body.Close()
	data, err := io.ReadAll(a.Body)
	require.NoError(t, err)
	return data
}

func TestGenerateAssignsNumberAndEmbedsQRCode(t *testing.T) {
	f := newGenerationFixture(t)
	ctx := context.Background()

	result, err := f.generation.Generate(ctx, GenerationRequest{
		ApplicationID: "A1",
		Form:          validForm(),
		AssignNumber:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, "001/ORG/KM/XII/2025", result.LetterNumber)
	assert.Len(t, result.VerificationCode, 12)
	assert.Equal(t, "https://surat.example.ac.id/verify/"+result.VerificationCode, result.VerificationURL)

	genLog := f.reload(t, result.Log.ID)
	assert.Equal(t, models.GenerationSuccess, genLog.Status)
	assert.Equal(t, models.FormatDOCX, genLog.Format)
	assert.Equal(t, "rekomendasi", genLog.TemplateID)
	assert.Positive(t, genLog.FileSize)
	assert.NotContains(t, string(genLog.RequestData), processor.TagQRCode)
	assert.Contains(t, string(genLog.RequestData), "Siti Rahma")

	artifact, err := f.generation.Open(ctx, "A1", "docx")
	require.NoError(t, err)
	assert.Equal(t, processor.DocxMimeType, artifact.ContentType)
	assert.Equal(t, "Siti_Rahma_24060120120001_Beasiswa_Unggulan.docx", artifact.Filename)

	pkg, err := processor.OpenPackage(readArtifact(t, artifact))
	require.NoError(t, err)
	text, err := processor.ExtractText(pkg)
	require.NoError(t, err)
	assert.Contains(t, text, "Nomor: 001/ORG/KM/XII/2025")
	assert.Contains(t, text, "Nama: Siti Rahma")
	assert.Contains(t, text, "1 Januari 2003")
	assert.NotContains(t, text, "{{")

	var qr []byte
	for _, name := range pkg.Names() {
		if strings.HasPrefix(name, "word/media/srl_qrcode_") {
			qr, _ = pkg.Part(name)
		}
	}
	require.NotEmpty(t, qr, "verification QR code is embedded")
	img, err := png.Decode(bytes.NewReader(qr))
	require.NoError(t, err)
	assert.Equal(t, 300, img.Bounds().Dx())

	letter, err := f.letters.Get(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "Informatika", letter.ProgramStudi)
	assert.Equal(t, "001/ORG/KM/XII/2025", letter.Number())
}

func TestGenerateDraftWithoutNumber(t *testing.T) {
	f := newGenerationFixture(t)

	result, err := f.generation.Generate(context.Background(), GenerationRequest{
		ApplicationID: "A1",
		Form:          validForm(),
	})
	require.NoError(t, err)
	assert.Empty(t, result.LetterNumber)
	assert.Empty(t, result.VerificationCode)

	letter, err := f.letters.Get(context.Background(), "A1")
	require.NoError(t, err)
	assert.Nil(t, letter.LetterNumber)
}

func TestGenerateRejectsMissingFields(t *testing.T) {
	f := newGenerationFixture(t)

	form := validForm()
	delete(form, "nim")
	delete(form, "ipk")
	_, err := f.generation.Generate(context.Background(), GenerationRequest{ApplicationID: "A1", Form: form})

	var missing ValidationErrors
	require.True(t, errors.As(err, &missing))
	assert.Len(t, missing, 2)

	var count int64
	require.NoError(t, f.db.Model(&models.GenerationLog{}).Count(&count).Error)
	assert.Zero(t, count, "invalid input leaves no generation log")

	_, err = f.generation.Generate(context.Background(), GenerationRequest{ApplicationID: "A1", Form: validForm(), Format: "odt"})
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestRegenerateKeepsOnlyLatestGeneration(t *testing.T) {
	f := newGenerationFixture(t)
	ctx := context.Background()

	first, err := f.generation.Generate(ctx, GenerationRequest{ApplicationID: "A1", Form: validForm(), AssignNumber: true})
	require.NoError(t, err)
	second, err := f.generation.Generate(ctx, GenerationRequest{ApplicationID: "A1", Form: validForm(), AssignNumber: true})
	require.NoError(t, err)

	assert.Equal(t, first.LetterNumber, second.LetterNumber)
	assert.Equal(t, first.VerificationCode, second.VerificationCode)

	logs, err := f.generation.Logs(ctx, "A1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, second.Log.ID, logs[0].ID)

	_, err = os.Stat(filepath.Join(f.root, f.reload(t, second.Log.ID).OutputPath))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(f.root, first.Log.OutputPath))
	assert.True(t, os.IsNotExist(err), "previous file is removed")
}

func TestCleanupIsIdempotent(t *testing.T) {
	f := newGenerationFixture(t)
	ctx := context.Background()

	result, err := f.generation.Generate(ctx, GenerationRequest{ApplicationID: "A1", Form: validForm()})
	require.NoError(t, err)

	require.NoError(t, f.generation.Cleanup(ctx, "A1", result.Log.ID))
	logs, err := f.generation.Logs(ctx, "A1")
	require.NoError(t, err)
	assert.Len(t, logs, 1, "kept log survives")

	require.NoError(t, f.generation.Cleanup(ctx, "A1", ""))
	require.NoError(t, f.generation.Cleanup(ctx, "A1", ""))
	logs, err = f.generation.Logs(ctx, "A1")
	require.NoError(t, err)
	assert.Empty(t, logs)

	_, err = f.generation.Latest(ctx, "A1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGenerateRecordsTemplateErrors(t *testing.T) {
	f := newGenerationFixture(t)
	ctx := context.Background()

	broken := testutil.Docx(testutil.DocumentXML(
		testutil.Paragraph("Nama: {{nama_lengkap}}"),
		testutil.Paragraph("Prodi: {{program studi}}"),
	), nil)
	_, err := f.generation.Templates.Upload(ctx, "broken", bytes.NewReader(broken))
	require.NoError(t, err)

	result, err := f.generation.Generate(ctx, GenerationRequest{ApplicationID: "A1", TemplateID: "broken", Form: validForm()})
	var tplErr *processor.TemplateError
	require.True(t, errors.As(err, &tplErr))
	require.NotNil(t, result)

	genLog := f.reload(t, result.Log.ID)
	assert.Equal(t, models.GenerationFailed, genLog.Status)
	assert.Contains(t, genLog.ErrorMessage, "program studi")
	assert.Empty(t, genLog.OutputPath)
}

func TestGenerateWithUnknownTemplate(t *testing.T) {
	f := newGenerationFixture(t)

	result, err := f.generation.Generate(context.Background(), GenerationRequest{ApplicationID: "A1", TemplateID: "missing", Form: validForm()})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, models.GenerationFailed, f.reload(t, result.Log.ID).Status)
}

func TestGenerateWithExplicitNumber(t *testing.T) {
	f := newGenerationFixture(t)
	ctx := context.Background()

	form := validForm()
	form["nomor_surat"] = "005/ORG/KM/XII/2025"
	result, err := f.generation.Generate(ctx, GenerationRequest{ApplicationID: "A1", Form: form})
	require.NoError(t, err)
	assert.Equal(t, "005/ORG/KM/XII/2025", result.LetterNumber)
	assert.NotEmpty(t, result.VerificationCode)

	preview, err := f.numbering.PreviewNextNumber(ctx, "", 2025, 12)
	require.NoError(t, err)
	assert.Equal(t, "006/ORG/KM/XII/2025", preview.Number)

	_, err = f.generation.Generate(ctx, GenerationRequest{
		ApplicationID: "A2",
		Form:          validForm(),
		LetterNumber:  "005/ORG/KM/XII/2025",
	})
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))

	logs, err := f.generation.Logs(ctx, "A2")
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestGeneratePDF(t *testing.T) {
	f := newGenerationFixture(t)
	ctx := context.Background()

	result, err := f.generation.Generate(ctx, GenerationRequest{ApplicationID: "A1", Form: validForm(), Format: "pdf"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.converter.calls)

	genLog := f.reload(t, result.Log.ID)
	assert.Equal(t, models.FormatPDF, genLog.Format)
	assert.True(t, strings.HasSuffix(genLog.OutputPath, ".docx"))
	docxInfo, err := os.Stat(filepath.Join(f.root, genLog.OutputPath))
	require.NoError(t, err)
	assert.Equal(t, docxInfo.Size(), genLog.FileSize, "file_size belongs to output_path")
	assert.Equal(t, int64(len("%PDF-1.7 letter.docx")), genLog.PDFSize)

	artifact, err := f.generation.Open(ctx, "A1", models.FormatPDF)
	require.NoError(t, err)
	assert.Equal(t, PDFMimeType, artifact.ContentType)
	assert.Equal(t, "%PDF-1.7 letter.docx", string(readArtifact(t, artifact)))
	assert.Equal(t, 1, f.converter.calls, "stored PDF is reused")
}

func TestGeneratePDFWithoutConverter(t *testing.T) {
	f := newGenerationFixture(t)
	f.converter.err = ErrExternalToolUnavailable

	result, err := f.generation.Generate(context.Background(), GenerationRequest{ApplicationID: "A1", Form: validForm(), Format: "PDF"})
	assert.ErrorIs(t, err, ErrExternalToolUnavailable)

	genLog := f.reload(t, result.Log.ID)
	assert.Equal(t, models.GenerationFailed, genLog.Status)

	entries, err := os.ReadDir(filepath.Join(f.root, "generated"))
	require.NoError(t, err)
	assert.Empty(t, entries, "half-finished output is removed")
}

func TestOpenConvertsPDFLazily(t *testing.T) {
	f := newGenerationFixture(t)
	ctx := context.Background()

	result, err := f.generation.Generate(ctx, GenerationRequest{ApplicationID: "A1", Form: validForm()})
	require.NoError(t, err)
	assert.Zero(t, f.converter.calls)
	assert.Zero(t, f.reload(t, result.Log.ID).PDFSize)

	for i := 0; i < 2; i++ {
		artifact, err := f.generation.Open(ctx, "A1", "pdf")
		require.NoError(t, err)
		readArtifact(t, artifact)
	}
	assert.Equal(t, 1, f.converter.calls, "second download hits the cache")
	assert.Equal(t, int64(len("%PDF-1.7 letter.docx")), f.reload(t, result.Log.ID).PDFSize)

	docxPath := filepath.Join(f.root, result.Log.OutputPath)
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(docxPath, future, future))

	artifact, err := f.generation.Open(ctx, "A1", "pdf")
	require.NoError(t, err)
	readArtifact(t, artifact)
	assert.Equal(t, 2, f.converter.calls, "stale PDF is converted again")
}

func TestOpenReportsMissingFile(t *testing.T) {
	f := newGenerationFixture(t)
	ctx := context.Background()

	result, err := f.generation.Generate(ctx, GenerationRequest{ApplicationID: "A1", Form: validForm()})
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(f.root, result.Log.OutputPath)))

	_, err = f.generation.Open(ctx, "A1", "docx")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, ErrArtifactMissing)

	_, err = f.generation.Open(ctx, "nobody", "docx")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrArtifactMissing)
}

func TestDownloadFilename(t *testing.T) {
	assert.Equal(t, "Siti_Rahma_2406_Beasiswa_Unggulan.pdf", DownloadFilename(&models.Letter{
		ApplicantName:   "Siti  Rahma!",
		StudentNumber:   "2406",
		ScholarshipName: "Beasiswa (Unggulan)",
	}, "pdf"))
	assert.Equal(t, "surat_rekomendasi.docx", DownloadFilename(&models.Letter{ApplicantName: "!!!"}, "docx"))

	long := DownloadFilename(&models.Letter{ApplicantName: strings.Repeat("a", 80)}, "docx")
	assert.Equal(t, strings.Repeat("a", 50)+".docx", long)
}
