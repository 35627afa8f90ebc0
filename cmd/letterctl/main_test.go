package main

import (
	"bytes"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"SRL-GEN/internal/processor"
	"SRL-GEN/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeTemplate(t *testing.T, dir string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, "template.docx")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestRepairAndPlaceholders(t *testing.T) {
	dir := t.TempDir()
	in := writeTemplate(t, dir, testutil.LetterTemplate())
	out := filepath.Join(dir, "repaired.docx")

	stdout, err := run(t, "repair", in, out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "repaired")

	pkg, err := processor.ReadPackageFile(out)
	require.NoError(t, err)
	body, _ := pkg.Part(processor.MainDocumentPart)
	assert.Contains(t, string(body), "{{nomor_surat}}")

	stdout, err = run(t, "placeholders", out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	assert.Contains(t, lines, "nama_lengkap")
	assert.Contains(t, lines, "%ttd")
}

func TestRenderAndText(t *testing.T) {
	dir := t.TempDir()
	in := writeTemplate(t, dir, testutil.LetterTemplate())
	data := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(data, []byte(`{"nama_lengkap":"Siti Rahma","nomor_surat":"001/ORG/KM/XII/2025"}`), 0o644))
	out := filepath.Join(dir, "letter.docx")

	_, err := run(t, "--verbose", "render", in, data, out)
	require.NoError(t, err)

	stdout, err := run(t, "text", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Nama: Siti Rahma")
	assert.Contains(t, stdout, "Nomor: 001/ORG/KM/XII/2025")
}

func TestRenderWithImageSizes(t *testing.T) {
	dir := t.TempDir()
	in := writeTemplate(t, dir, testutil.LetterTemplate())
	signature := base64.StdEncoding.EncodeToString(processor.TransparentPixel().Data)
	data := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(data, []byte(`{"ttd":"`+signature+`"}`), 0o644))
	out := filepath.Join(dir, "letter.docx")

	_, err := run(t, "render", "--image-size", "ttd=200x100", in, data, out)
	require.NoError(t, err)

	pkg, err := processor.ReadPackageFile(out)
	require.NoError(t, err)
	body, _ := pkg.Part(processor.MainDocumentPart)
	assert.Contains(t, string(body), `<wp:extent cx="1905000" cy="952500"/>`)

	_, err = run(t, "render", "--image-size", "ttd=wide", in, data, out)
	assert.ErrorContains(t, err, "invalid image size")
}

func TestRenderReportsTemplateErrors(t *testing.T) {
	dir := t.TempDir()
	in := writeTemplate(t, dir, testutil.Docx(testutil.DocumentXML(testutil.Paragraph("{{bad name}}")), nil))
	data := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(data, []byte(`{}`), 0o644))

	_, err := run(t, "render", in, data, filepath.Join(dir, "out.docx"))
	var tplErr *processor.TemplateError
	assert.True(t, errors.As(err, &tplErr))
}

func TestCommandsValidateArguments(t *testing.T) {
	_, err := run(t, "repair", "only-one.docx")
	assert.Error(t, err)

	_, err = run(t, "text", filepath.Join(t.TempDir(), "missing.docx"))
	assert.Error(t, err)
}
