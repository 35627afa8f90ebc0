package processor

import (
	"archive/zip"
	"bytes"
	"testing"

	"SRL-GEN/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenPackageRequiresMainDocument(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("docProps/app.xml")
	require.NoError(t, err)
	_, _ = w.Write([]byte("<Properties/>"))
	require.NoError(t, zw.Close())

	_, err = OpenPackage(buf.Bytes())
	assert.ErrorIs(t, err, ErrNotWordDocument)

	_, err = OpenPackage([]byte("not a zip"))
	assert.Error(t, err)
}

func TestTemplatePartsOrder(t *testing.T) {
	pkg, err := OpenPackage(testutil.Docx(testutil.DocumentXML(), map[string]string{
		"word/footer3.xml":  testutil.HeaderXML("ftr"),
		"word/header2.xml":  testutil.HeaderXML("hdr"),
		"word/header1.xml":  testutil.HeaderXML("hdr"),
		"word/footnotes.xml": `<w:footnotes/>`,
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"word/document.xml",
		"word/header1.xml",
		"word/header2.xml",
		"word/footer3.xml",
	}, pkg.TemplateParts())
}

func TestPackageBytesRoundTrip(t *testing.T) {
	pkg, err := OpenPackage(testutil.LetterTemplate())
	require.NoError(t, err)
	pkg.SetPart("word/media/extra.png", transparentPNG)

	first, err := pkg.Bytes()
	require.NoError(t, err)
	second, err := pkg.Bytes()
	require.NoError(t, err)
	assert.Equal(t, first, second, "output is deterministic")

	reopened, err := OpenPackage(first)
	require.NoError(t, err)
	assert.Equal(t, pkg.Names(), reopened.Names())
	media, ok := reopened.Part("word/media/extra.png")
	require.True(t, ok)
	assert.Equal(t, transparentPNG, media)
}

func TestExtractPlaceholders(t *testing.T) {
	pkg, err := OpenPackage(testutil.LetterTemplate())
	require.NoError(t, err)

	placeholders, err := ExtractPlaceholders(pkg)
	require.NoError(t, err)

	assert.Equal(t, "nomor_surat", placeholders[0])
	assert.Contains(t, placeholders, "nim")
	assert.Contains(t, placeholders, "%ttd")
	assert.Contains(t, placeholders, "%qrcode")
	assert.NotContains(t, placeholders, "ttd")
}
