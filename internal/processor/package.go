package processor

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
)

const (
	MainDocumentPart = "word/document.xml"
	ContentTypesPart = "[Content_Types].xml"

	DocxMimeType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

var ErrNotWordDocument = errors.New("package has no word/document.xml part")

var (
	headerPartPattern = regexp.MustCompile(`^word/header[0-9]*\.xml$`)
	footerPartPattern = regexp.MustCompile(`^word/footer[0-9]*\.xml$`)
)

// Package is an in-memory OOXML word-processing package. Entry order is kept
// so that a package written back out differs from its source only in the
// parts that were changed.
type Package struct {
	names []string
	files map[string][]byte
}

func OpenPackage(data []byte) (*Package, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open docx package: %w", err)
	}

	pkg := &Package{files: make(map[string][]byte, len(reader.File))}
	for _, file := range reader.File {
		if file.FileInfo().IsDir() {
			continue
		}
		content, err := readZipFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to extract file %s: %w", file.Name, err)
		}
		if _, seen := pkg.files[file.Name]; !seen {
			pkg.names = append(pkg.names, file.Name)
		}
		pkg.files[file.Name] = content
	}

	if _, ok := pkg.files[MainDocumentPart]; !ok {
		return nil, ErrNotWordDocument
	}
	return pkg, nil
}

func ReadPackageFile(path string) (*Package, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read docx file: %w", err)
	}
	return OpenPackage(data)
}

func readZipFile(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (p *Package) Clone() *Package {
	clone := &Package{
		names: append([]string(nil), p.names...),
		files: make(map[string][]byte, len(p.files)),
	}
	for name, content := range p.files {
		clone.files[name] = append([]byte(nil), content...)
	}
	return clone
}

func (p *Package) Names() []string {
	return append([]string(nil), p.names...)
}

func (p *Package) Part(name string) ([]byte, bool) {
	content, ok := p.files[name]
	return content, ok
}

func (p *Package) SetPart(name string, content []byte) {
	if _, ok := p.files[name]; !ok {
		p.names = append(p.names, name)
	}
	p.files[name] = content
}

// TemplateParts lists the parts that may carry placeholders: the main body
// first, then headers and footers in name order. Absent parts are simply not
// listed.
func (p *Package) TemplateParts() []string {
	parts := []string{MainDocumentPart}
	var headers, footers []string
	for _, name := range p.names {
		switch {
		case headerPartPattern.MatchString(name):
			headers = append(headers, name)
		case footerPartPattern.MatchString(name):
			footers = append(footers, name)
		}
	}
	sort.Strings(headers)
	sort.Strings(footers)
	parts = append(parts, headers...)
	return append(parts, footers...)
}

// Bytes writes the package as a zip archive. The output is deterministic for
// a given set of parts.
func (p *Package) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	zipWriter := zip.NewWriter(&buf)

	for _, name := range p.names {
		writer, err := zipWriter.CreateHeader(&zip.FileHeader{
			Name:   name,
			Method: zip.Deflate,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create %s in package: %w", name, err)
		}
		if _, err := writer.Write(p.files[name]); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", name, err)
		}
	}

	if err := zipWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close package: %w", err)
	}
	return buf.Bytes(), nil
}
