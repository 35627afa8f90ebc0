package processor

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokenText tokenKind = iota
	tokenStart
	tokenEnd
	tokenEmpty
	tokenOther
)

// xmlToken is one lexical piece of a markup part. Concatenating the raw
// fields of all tokens reproduces the source exactly.
type xmlToken struct {
	kind tokenKind
	name string
	raw  string
}

func tokenize(src string) ([]xmlToken, error) {
	var tokens []xmlToken
	i := 0
	for i < len(src) {
		if src[i] != '<' {
			next := strings.IndexByte(src[i:], '<')
			if next < 0 {
				next = len(src) - i
			}
			tokens = append(tokens, xmlToken{kind: tokenText, raw: src[i : i+next]})
			i += next
			continue
		}

		var terminator string
		switch {
		case strings.HasPrefix(src[i:], "<!--"):
			terminator = "-->"
		case strings.HasPrefix(src[i:], "<![CDATA["):
			terminator = "]]>"
		case strings.HasPrefix(src[i:], "<?"):
			terminator = "?>"
		}
		if terminator != "" {
			end := strings.Index(src[i+2:], terminator)
			if end < 0 {
				return nil, fmt.Errorf("unterminated markup at offset %d", i)
			}
			n := 2 + end + len(terminator)
			tokens = append(tokens, xmlToken{kind: tokenOther, raw: src[i : i+n]})
			i += n
			continue
		}

		end := tagEnd(src, i)
		if end < 0 {
			return nil, fmt.Errorf("unterminated tag at offset %d", i)
		}
		tokens = append(tokens, classifyTag(src[i:end+1]))
		i = end + 1
	}
	return tokens, nil
}

// tagEnd returns the index of the '>' closing the tag that starts at i.
// Quoted attribute values may contain '>'.
func tagEnd(src string, i int) int {
	var quote byte
	for j := i + 1; j < len(src); j++ {
		c := src[j]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '>':
			return j
		}
	}
	return -1
}

func classifyTag(raw string) xmlToken {
	if strings.HasPrefix(raw, "<!") {
		return xmlToken{kind: tokenOther, raw: raw}
	}
	if strings.HasPrefix(raw, "</") {
		return xmlToken{kind: tokenEnd, name: strings.TrimSpace(raw[2 : len(raw)-1]), raw: raw}
	}
	body := raw[1 : len(raw)-1]
	name := body
	if cut := strings.IndexAny(body, " \t\r\n/"); cut >= 0 {
		name = body[:cut]
	}
	kind := tokenStart
	if strings.HasSuffix(raw, "/>") {
		kind = tokenEmpty
	}
	return xmlToken{kind: kind, name: name, raw: raw}
}

// textNode is the character data of one w:t element.
type textNode struct {
	open  int // token index of <w:t>
	text  int // token index of the character data, -1 when the element was empty
	value string
	dirty bool
}

type paragraph struct {
	nodes []*textNode
}

func (p *paragraph) join() (string, []int) {
	var b strings.Builder
	starts := make([]int, len(p.nodes))
	for i, node := range p.nodes {
		starts[i] = b.Len()
		b.WriteString(node.value)
	}
	return b.String(), starts
}

// nodeAt returns the node holding byte pos of the joined paragraph text.
func nodeAt(starts []int, pos int) int {
	idx := 0
	for i, start := range starts {
		if start > pos {
			break
		}
		idx = i
	}
	return idx
}

// markupPart is a tokenized part with its w:t nodes grouped by innermost
// paragraph.
type markupPart struct {
	source     []byte
	tokens     []xmlToken
	paragraphs []*paragraph
}

func parseMarkup(source []byte) (*markupPart, error) {
	tokens, err := tokenize(string(source))
	if err != nil {
		return nil, err
	}

	part := &markupPart{source: source, tokens: tokens}
	var stack []*paragraph
	for i, tok := range tokens {
		switch {
		case tok.kind == tokenStart && tok.name == "w:p":
			p := &paragraph{}
			stack = append(stack, p)
			part.paragraphs = append(part.paragraphs, p)
		case tok.kind == tokenEnd && tok.name == "w:p":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case tok.kind == tokenStart && tok.name == "w:t":
			if len(stack) == 0 {
				continue
			}
			node := &textNode{open: i, text: -1}
			if i+1 < len(tokens) && tokens[i+1].kind == tokenText {
				node.text = i + 1
				node.value = tokens[i+1].raw
			}
			top := stack[len(stack)-1]
			top.nodes = append(top.nodes, node)
		}
	}
	return part, nil
}

func (m *markupPart) dirty() bool {
	for _, p := range m.paragraphs {
		for _, node := range p.nodes {
			if node.dirty {
				return true
			}
		}
	}
	return false
}

func (m *markupPart) bytes() []byte {
	if !m.dirty() {
		return m.source
	}

	replacements := make(map[int]string)
	for _, p := range m.paragraphs {
		for _, node := range p.nodes {
			if !node.dirty {
				continue
			}
			open := preserveSpace(m.tokens[node.open].raw)
			if node.text >= 0 {
				replacements[node.open] = open
				replacements[node.text] = node.value
			} else {
				replacements[node.open] = open + node.value
			}
		}
	}

	var b strings.Builder
	b.Grow(len(m.source))
	for i, tok := range m.tokens {
		if r, ok := replacements[i]; ok {
			b.WriteString(r)
			continue
		}
		b.WriteString(tok.raw)
	}
	return []byte(b.String())
}

func preserveSpace(openTag string) string {
	if strings.Contains(openTag, "xml:space=") {
		return openTag
	}
	return openTag[:len(openTag)-1] + ` xml:space="preserve">`
}
