// Package testutil builds small word-processing packages for tests.
package testutil

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"strings"
)

const (
	contentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/><Default Extension="xml" ContentType="application/xml"/><Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/></Types>`

	packageRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/></Relationships>`

	documentRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles" Target="styles.xml"/></Relationships>`
)

// Paragraph renders one w:p whose runs each carry one of texts. Runs are
// separated by run properties and a proofing mark, the way authoring tools
// fragment text.
func Paragraph(texts ...string) string {
	var b strings.Builder
	b.WriteString(`<w:p><w:pPr><w:jc w:val="left"/></w:pPr>`)
	for i, text := range texts {
		if i > 0 {
			b.WriteString(`<w:proofErr w:type="spellStart"/>`)
		}
		fmt.Fprintf(&b, `<w:r><w:rPr><w:rFonts w:ascii="Times New Roman"/><w:sz w:val="24"/></w:rPr><w:t>%s</w:t></w:r>`, html.EscapeString(text))
	}
	b.WriteString(`</w:p>`)
	return b.String()
}

// DocumentXML wraps paragraphs in a word document part.
func DocumentXML(paragraphs ...string) string {
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">` +
		`<w:body>` + strings.Join(paragraphs, "") + `<w:sectPr><w:pgSz w:w="11906" w:h="16838"/></w:sectPr></w:body></w:document>`
}

// HeaderXML wraps paragraphs in a header or footer part.
func HeaderXML(root string, paragraphs ...string) string {
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" +
		`<w:` + root + ` xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">` +
		strings.Join(paragraphs, "") + `</w:` + root + `>`
}

// Docx zips a package containing document plus any extra parts.
func Docx(document string, extra map[string]string) []byte {
	parts := []struct{ name, content string }{
		{"[Content_Types].xml", contentTypes},
		{"_rels/.rels", packageRels},
		{"word/document.xml", document},
		{"word/_rels/document.xml.rels", documentRels},
		{"word/styles.xml", `<?xml version="1.0" encoding="UTF-8"?><w:styles xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"/>`},
	}
	for name, content := range extra {
		parts = append(parts, struct{ name, content string }{name, content})
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, part := range parts {
		w, err := zw.Create(part.name)
		if err != nil {
			panic(err)
		}
		if _, err := w.Write([]byte(part.content)); err != nil {
			panic(err)
		}
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// LetterTemplate is a recommendation letter template with fragmented
// placeholders, a typo and a single-brace image tag.
func LetterTemplate() []byte {
	doc := DocumentXML(
		Paragraph("Nomor: ", "{{nomor", "_surat}}"),
		Paragraph("Nama: {{", "nama_lengkap", "}}"),
		Paragraph("NIM: {{nim}"),
		Paragraph("Tempat/Tgl Lahir: {{tempat_lahir}}, {{tanggal_lahir}}"),
		Paragraph("No. HP: {{no_", "hp}}"),
		Paragraph("Program Studi: {{program_studi}} Semester {{semester}}"),
		Paragraph("IPK {{ipk}} / IPS {{ips}}"),
		Paragraph("Keperluan: {{keperluan}}"),
		Paragraph("{{tanggal_surat}}"),
		Paragraph("{%", "ttd}"),
		Paragraph("{{%stempel}}"),
		Paragraph("{{nama_penandatangan}}"),
		Paragraph("NIP. {{nip_penandatangan}}"),
	)
	footer := HeaderXML("ftr", Paragraph("Verifikasi: {{%qr", "code}}"))
	return Docx(doc, map[string]string{"word/footer1.xml": footer})
}
