package processor

import (
	"fmt"
	"html"
	"strings"
)

// ExtractText returns the visible text of every template part, one line per
// paragraph.
func ExtractText(pkg *Package) (string, error) {
	var lines []string
	for _, name := range pkg.TemplateParts() {
		content, ok := pkg.Part(name)
		if !ok {
			continue
		}
		part, err := parseMarkup(content)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", name, err)
		}
		for _, p := range part.paragraphs {
			full, _ := p.join()
			lines = append(lines, html.UnescapeString(full))
		}
	}
	return strings.Join(lines, "\n"), nil
}

// ExtractPlaceholders lists the unique placeholder names of a template as they
// will be seen after repair. Image tags keep their % prefix.
func ExtractPlaceholders(pkg *Package) ([]string, error) {
	var placeholders []string
	seen := make(map[string]bool)

	for _, name := range pkg.TemplateParts() {
		content, ok := pkg.Part(name)
		if !ok {
			continue
		}
		repaired, _, err := RepairXML(content)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		part, err := parseMarkup(repaired)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		for _, p := range part.paragraphs {
			for _, node := range p.nodes {
				for _, m := range canonicalTag.FindAllStringSubmatch(node.value, -1) {
					placeholder := m[1] + m[2]
					if !seen[placeholder] {
						seen[placeholder] = true
						placeholders = append(placeholders, placeholder)
					}
				}
			}
		}
	}
	return placeholders, nil
}
