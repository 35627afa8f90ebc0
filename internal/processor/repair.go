package processor

import (
	"fmt"
	"regexp"
	"strings"
)

// looseTag matches every placeholder spelling found in authored templates:
// {{name}}, {{%name}}, the missing-brace typo {{name} and the single-brace
// image form {%name}, with optional inner whitespace.
var looseTag = regexp.MustCompile(`\{\{\s*(%?)\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}?|\{%\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}?`)

// canonicalTag matches placeholders after repair.
var canonicalTag = regexp.MustCompile(`\{\{(%?)([A-Za-z_][A-Za-z0-9_]*)\}\}`)

type PartReport struct {
	Part       string `json:"part"`
	Before     int    `json:"before"`
	After      int    `json:"after"`
	Merged     int    `json:"merged"`
	Normalized int    `json:"normalized"`
}

type RepairReport struct {
	Parts []PartReport `json:"parts"`
}

func (r RepairReport) Changed() bool {
	for _, p := range r.Parts {
		if p.Merged > 0 || p.Normalized > 0 {
			return true
		}
	}
	return false
}

// Repair normalizes every template part of pkg in place so that each
// placeholder sits in a single text node in canonical form.
func Repair(pkg *Package) (RepairReport, error) {
	var report RepairReport
	for _, name := range pkg.TemplateParts() {
		content, ok := pkg.Part(name)
		if !ok {
			continue
		}
		repaired, partReport, err := RepairXML(content)
		if err != nil {
			return report, fmt.Errorf("failed to repair %s: %w", name, err)
		}
		partReport.Part = name
		report.Parts = append(report.Parts, partReport)
		pkg.SetPart(name, repaired)
	}
	return report, nil
}

// RepairXML repairs a single markup part. Well-formed input is returned
// byte-for-byte unchanged.
func RepairXML(content []byte) ([]byte, PartReport, error) {
	part, err := parseMarkup(content)
	if err != nil {
		return nil, PartReport{}, err
	}

	var report PartReport
	report.Before = countContiguous(part)
	for _, p := range part.paragraphs {
		merged, normalized := repairParagraph(p)
		report.Merged += merged
		report.Normalized += normalized
	}
	report.After = countContiguous(part)
	return part.bytes(), report, nil
}

func repairParagraph(p *paragraph) (merged, normalized int) {
	if len(p.nodes) == 0 {
		return 0, 0
	}
	full, starts := p.join()
	matches := looseTag.FindAllStringSubmatchIndex(full, -1)

	// Back to front so that earlier offsets stay valid while nodes are rewritten.
	for k := len(matches) - 1; k >= 0; k-- {
		m := matches[k]
		start, end := m[0], m[1]
		canonical := canonicalForm(full, m)
		first := nodeAt(starts, start)
		last := nodeAt(starts, end-1)

		if first == last {
			if full[start:end] == canonical {
				continue
			}
			node := p.nodes[first]
			node.value = node.value[:start-starts[first]] + canonical + node.value[end-starts[first]:]
			node.dirty = true
			normalized++
			continue
		}

		head := p.nodes[first]
		head.value = head.value[:start-starts[first]] + canonical
		head.dirty = true
		for i := first + 1; i < last; i++ {
			p.nodes[i].value = ""
			p.nodes[i].dirty = true
		}
		tail := p.nodes[last]
		tail.value = tail.value[end-starts[last]:]
		tail.dirty = true
		merged++
	}
	return merged, normalized
}

func canonicalForm(s string, m []int) string {
	if m[6] >= 0 {
		return "{{%" + s[m[6]:m[7]] + "}}"
	}
	return "{{" + s[m[2]:m[3]] + s[m[4]:m[5]] + "}}"
}

func countContiguous(part *markupPart) int {
	n := 0
	for _, p := range part.paragraphs {
		for _, node := range p.nodes {
			n += len(canonicalTag.FindAllStringIndex(node.value, -1))
		}
	}
	return n
}

// strayDelimiters reports fragments of text that still look like placeholder
// markup once every canonical tag has been accounted for.
func strayDelimiters(text string) []string {
	rest := canonicalTag.ReplaceAllString(text, "")
	var found []string
	for i := 0; i < len(rest)-1; {
		pair := rest[i : i+2]
		if pair != "{{" && pair != "{%" && pair != "}}" {
			i++
			continue
		}
		end := i + 2
		if pair != "}}" {
			if close := strings.Index(rest[i:], "}"); close >= 0 && close < 60 {
				end = i + close + 1
				if end < len(rest) && rest[end] == '}' {
					end++
				}
			} else {
				end = min(len(rest), i+40)
			}
		}
		found = append(found, rest[i:end])
		i = end
	}
	return found
}
