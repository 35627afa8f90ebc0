package processor

import (
	"encoding/xml"
	"fmt"
	"path"
	"reflect"
	"strconv"
	"strings"
)

const lineBreak = `</w:t><w:br/><w:t xml:space="preserve">`

type renderer struct {
	pkg      *Package
	data     map[string]any
	images   ImageResolver
	issues   *TemplateError
	relIDs   map[string]string
	media    int
	drawings int
}

// Render binds data into a copy of template. Text tags take the stringified
// value of their field (missing fields render empty). Image tags are handed
// to images together with the field value. Every malformed placeholder in
// every part is reported through a single *TemplateError.
func Render(template *Package, data map[string]any, images ImageResolver) (*Package, error) {
	if images == nil {
		images = DefaultImageResolver{}
	}

	out := template.Clone()
	r := &renderer{
		pkg:      out,
		data:     data,
		images:   images,
		issues:   &TemplateError{},
		relIDs:   make(map[string]string),
		drawings: 1000,
	}

	for _, name := range out.TemplateParts() {
		content, ok := out.Part(name)
		if !ok {
			continue
		}
		out.SetPart(name, r.renderPart(name, content))
	}

	if len(r.issues.Issues) > 0 {
		return nil, r.issues
	}
	return out, nil
}

func (r *renderer) renderPart(name string, content []byte) []byte {
	part, err := parseMarkup(content)
	if err != nil {
		r.issues.add(name, "", fmt.Sprintf("unreadable markup: %v", err))
		return content
	}

	for _, p := range part.paragraphs {
		repairParagraph(p)
		full, _ := p.join()
		for _, stray := range strayDelimiters(full) {
			r.issues.add(name, stray, "malformed placeholder")
		}
		for _, node := range p.nodes {
			if !canonicalTag.MatchString(node.value) {
				continue
			}
			node.value = r.substitute(name, node.value)
			node.dirty = true
		}
	}
	return part.bytes()
}

func (r *renderer) substitute(part, text string) string {
	return canonicalTag.ReplaceAllStringFunc(text, func(tag string) string {
		m := canonicalTag.FindStringSubmatch(tag)
		if m[1] == "%" {
			return r.embedImage(part, m[2])
		}
		return escapeValue(Stringify(r.data[m[2]]))
	})
}

func (r *renderer) embedImage(part, tag string) string {
	img, err := r.images.ResolveImage(tag, Stringify(r.data[tag]))
	if err != nil {
		r.issues.add(part, "{{%"+tag+"}}", err.Error())
		return ""
	}
	if len(img.Data) == 0 {
		img = TransparentPixel()
	}
	if img.Width <= 0 || img.Height <= 0 {
		img.Width, img.Height = fallbackImageSize.Width, fallbackImageSize.Height
	}

	relID := r.relationshipFor(part, tag, img.Data)
	r.drawings++
	return "</w:t>" + drawingXML(relID, r.drawings, tag, img.Width, img.Height) + `<w:t xml:space="preserve">`
}

func (r *renderer) relationshipFor(part, tag string, data []byte) string {
	key := part + "|" + tag
	if id, ok := r.relIDs[key]; ok {
		return id
	}

	ext, contentType := imageExtension(data)
	r.media++
	target := fmt.Sprintf("media/srl_%s_%d.%s", tag, r.media, ext)
	r.pkg.SetPart(path.Dir(part)+"/"+target, data)

	relsName := relsPartName(part)
	rels, _ := r.pkg.Part(relsName)
	id := fmt.Sprintf("rIdSrl%d", r.media)
	for strings.Contains(string(rels), `Id="`+id+`"`) {
		id += "x"
	}
	r.pkg.SetPart(relsName, addRelationship(rels, id, imageRelationship, target))

	if types, ok := r.pkg.Part(ContentTypesPart); ok {
		r.pkg.SetPart(ContentTypesPart, ensureContentType(types, ext, contentType))
	}

	r.relIDs[key] = id
	return id
}

func escapeValue(value string) string {
	value = strings.ReplaceAll(value, "\r\n", "\n")
	var b strings.Builder
	for i, line := range strings.Split(value, "\n") {
		if i > 0 {
			b.WriteString(lineBreak)
		}
		_ = xml.EscapeText(&b, []byte(line))
	}
	return b.String()
}

// Stringify renders a template value. Nil values and nil pointers become the
// empty string; floats drop trailing zeros.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case fmt.Stringer:
		return x.String()
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return ""
		}
		return Stringify(rv.Elem().Interface())
	}
	return fmt.Sprint(v)
}
