package processor

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"SRL-GEN/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func letterData() map[string]any {
	return map[string]any{
		"nomor_surat":        "017/ORG/KM/IX/2025",
		"nama_lengkap":       "Siti Rahma & Putri",
		"nim":                "24060120120001",
		"tempat_lahir":       "Semarang",
		"tanggal_lahir":      "1 Januari 2003",
		"no_hp":              "081234567890",
		"program_studi":      "Informatika",
		"semester":           5,
		"ipk":                3.85,
		"ips":                3.9,
		"keperluan":          "Beasiswa Unggulan\nTahap 2",
		"tanggal_surat":      "15 Oktober 2026",
		"nama_penandatangan": nil,
	}
}

func TestRenderSubstitutesEveryPlaceholder(t *testing.T) {
	tpl, err := OpenPackage(testutil.LetterTemplate())
	require.NoError(t, err)

	out, err := Render(tpl, letterData(), DefaultImageResolver{})
	require.NoError(t, err)

	text, err := ExtractText(out)
	require.NoError(t, err)

	assert.NotContains(t, text, "{{")
	assert.NotContains(t, text, "{%")
	assert.Contains(t, text, "Nomor: 017/ORG/KM/IX/2025")
	assert.Contains(t, text, "Nama: Siti Rahma & Putri")
	assert.Contains(t, text, "NIM: 24060120120001")
	assert.Contains(t, text, "IPK 3.85 / IPS 3.9")
	assert.Contains(t, text, "Semester 5")
	assert.Contains(t, text, "Keperluan: Beasiswa UnggulanTahap 2")
	assert.Contains(t, text, "NIP. ", "missing fields render empty")

	body, _ := out.Part(MainDocumentPart)
	assert.Contains(t, string(body), "Siti Rahma &amp; Putri")
	assert.Contains(t, string(body), `Beasiswa Unggulan</w:t><w:br/><w:t xml:space="preserve">Tahap 2`)
}

func TestRenderRepairsTypoBeforeSubstitution(t *testing.T) {
	tpl, err := OpenPackage(testutil.Docx(testutil.DocumentXML(testutil.Paragraph("NIM: {{nim}")), nil))
	require.NoError(t, err)

	out, err := Render(tpl, map[string]any{"nim": "24060120120001"}, nil)
	require.NoError(t, err)

	text, err := ExtractText(out)
	require.NoError(t, err)
	assert.Equal(t, "NIM: 24060120120001", text)
}

func TestRenderLeavesTemplateUntouched(t *testing.T) {
	tpl, err := OpenPackage(testutil.LetterTemplate())
	require.NoError(t, err)
	before, _ := tpl.Part(MainDocumentPart)
	before = append([]byte(nil), before...)

	_, err = Render(tpl, letterData(), nil)
	require.NoError(t, err)

	after, _ := tpl.Part(MainDocumentPart)
	assert.Equal(t, before, after)
}

func TestRenderAggregatesMalformedPlaceholders(t *testing.T) {
	doc := testutil.DocumentXML(
		testutil.Paragraph("Nama: {{nama-lengkap}}"),
		testutil.Paragraph("NIM: {{nim}}"),
		testutil.Paragraph("Prodi: {{program studi}}"),
	)
	footer := testutil.HeaderXML("ftr", testutil.Paragraph("Kode {{ kode"))
	tpl, err := OpenPackage(testutil.Docx(doc, map[string]string{"word/footer1.xml": footer}))
	require.NoError(t, err)

	_, err = Render(tpl, map[string]any{"nim": "1"}, nil)
	require.Error(t, err)

	var tplErr *TemplateError
	require.True(t, errors.As(err, &tplErr))
	require.Len(t, tplErr.Issues, 3)
	assert.Equal(t, "word/document.xml", tplErr.Issues[0].Part)
	assert.Equal(t, "{{nama-lengkap}}", tplErr.Issues[0].Snippet)
	assert.Equal(t, "{{program studi}}", tplErr.Issues[1].Snippet)
	assert.Equal(t, "word/footer1.xml", tplErr.Issues[2].Part)
	assert.Contains(t, err.Error(), "3 invalid placeholder(s)")
}

func TestRenderEmbedsImages(t *testing.T) {
	tpl, err := OpenPackage(testutil.LetterTemplate())
	require.NoError(t, err)

	signature := base64.StdEncoding.EncodeToString(transparentPNG)
	data := letterData()
	data[TagSignature] = "data:image/png;base64," + signature
	data[TagQRCode] = signature

	out, err := Render(tpl, data, DefaultImageResolver{})
	require.NoError(t, err)

	body, _ := out.Part(MainDocumentPart)
	assert.Equal(t, 2, strings.Count(string(body), "<w:drawing>"))
	assert.Contains(t, string(body), `<wp:extent cx="1428750" cy="714375"/>`, "signature is 150x75 px")
	assert.Contains(t, string(body), `<wp:extent cx="9525" cy="9525"/>`, "missing stamp falls back to a 1x1 pixel")

	rels, ok := out.Part("word/_rels/document.xml.rels")
	require.True(t, ok)
	assert.Contains(t, string(rels), `Target="media/srl_ttd_1.png"`)
	assert.Contains(t, string(rels), `Target="media/srl_stempel_2.png"`)
	assert.Contains(t, string(rels), `Target="styles.xml"`)

	footerRels, ok := out.Part("word/_rels/footer1.xml.rels")
	require.True(t, ok, "rels are created for parts that had none")
	assert.Contains(t, string(footerRels), `Target="media/srl_qrcode_3.png"`)

	footer, _ := out.Part("word/footer1.xml")
	assert.Contains(t, string(footer), `<wp:extent cx="762000" cy="762000"/>`)

	media, ok := out.Part("word/media/srl_ttd_1.png")
	require.True(t, ok)
	assert.Equal(t, transparentPNG, media)

	types, _ := out.Part(ContentTypesPart)
	assert.Equal(t, 1, strings.Count(strings.ToLower(string(types)), `extension="png"`))

	_, err = OpenPackage(mustBytes(t, out))
	assert.NoError(t, err)
}

type failingResolver struct{}

func (failingResolver) ResolveImage(tag, value string) (Image, error) {
	return Image{}, errors.New("cannot load " + tag)
}

func TestRenderReportsImageFailuresWithTextIssues(t *testing.T) {
	doc := testutil.DocumentXML(
		testutil.Paragraph("{{%ttd}}"),
		testutil.Paragraph("{{bad name}}"),
	)
	tpl, err := OpenPackage(testutil.Docx(doc, nil))
	require.NoError(t, err)

	_, err = Render(tpl, nil, failingResolver{})

	var tplErr *TemplateError
	require.True(t, errors.As(err, &tplErr))
	assert.Len(t, tplErr.Issues, 2)
}

func TestStringify(t *testing.T) {
	s := "x"
	var nilStr *string
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "x", Stringify(&s))
	assert.Equal(t, "", Stringify(nilStr))
	assert.Equal(t, "3.5", Stringify(3.50))
	assert.Equal(t, "4", Stringify(4))
	assert.Equal(t, "true", Stringify(true))
}

func mustBytes(t *testing.T, pkg *Package) []byte {
	t.Helper()
	data, err := pkg.Bytes()
	require.NoError(t, err)
	return data
}
