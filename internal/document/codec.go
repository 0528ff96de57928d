package document

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSyntax        = errors.New("document: syntax error")
	ErrDuplicateAttr = errors.New("document: duplicate attribute")
	ErrUnbalanced    = errors.New("document: unbalanced node")
)

// Marshal renders d in the text wire format: one `key="value"` per line,
// children bracketed as `[name] ... [/name]`, quotes escaped by doubling.
// Attributes precede children at every level.
func Marshal(d *Document) []byte {
	var sb strings.Builder
	marshalNode(&sb, d, 0)
	return []byte(sb.String())
}

func marshalNode(sb *strings.Builder, d *Document, depth int) {
	indent := strings.Repeat("\t", depth)
	for _, attr := range d.Attrs() {
		sb.WriteString(indent)
		sb.WriteString(attr.Name)
		sb.WriteString("=\"")
		sb.WriteString(strings.ReplaceAll(attr.Value, `"`, `""`))
		sb.WriteString("\"\n")
	}
	for _, child := range d.Children() {
		sb.WriteString(indent)
		sb.WriteString("[")
		sb.WriteString(child.Name())
		sb.WriteString("]\n")
		marshalNode(sb, child, depth+1)
		sb.WriteString(indent)
		sb.WriteString("[/")
		sb.WriteString(child.Name())
		sb.WriteString("]\n")
	}
}

// Unmarshal parses the text wire format into a document tree. An empty
// input yields an empty root.
func Unmarshal(data []byte) (*Document, error) {
	p := &parser{src: string(data)}
	root := New()
	if err := p.parseInto(root); err != nil {
		return nil, err
	}
	return root, nil
}

type parser struct {
	src  string
	pos  int
	line int
}

func (p *parser) errf(format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", ErrSyntax, p.line+1, fmt.Sprintf(format, args...))
}

// parseInto consumes attributes and children until a close tag for node or
// end of input. The root node is closed only by end of input.
func (p *parser) parseInto(node *Document) error {
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			if node.Name() != "" {
				return fmt.Errorf("%w: missing [/%s]", ErrUnbalanced, node.Name())
			}
			return nil
		}
		if p.src[p.pos] == '[' {
			closing, name, err := p.readTag()
			if err != nil {
				return err
			}
			if closing {
				if name != node.Name() {
					return fmt.Errorf("%w: [/%s] closes [%s]", ErrUnbalanced, name, node.Name())
				}
				return nil
			}
			if err := p.parseInto(node.AddChild(name)); err != nil {
				return err
			}
			continue
		}
		name, value, err := p.readAttr()
		if err != nil {
			return err
		}
		if _, exists := node.Attr(name); exists {
			return fmt.Errorf("%w: %q", ErrDuplicateAttr, name)
		}
		node.SetAttr(name, value)
	}
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '\n' {
			p.line++
		} else if c != ' ' && c != '\t' && c != '\r' {
			return
		}
		p.pos++
	}
}

func (p *parser) readTag() (closing bool, name string, err error) {
	p.pos++ // consume '['
	if p.pos < len(p.src) && p.src[p.pos] == '/' {
		closing = true
		p.pos++
	}
	name = p.readIdent()
	if name == "" {
		return false, "", p.errf("empty tag name")
	}
	if p.pos >= len(p.src) || p.src[p.pos] != ']' {
		return false, "", p.errf("unterminated tag [%s", name)
	}
	p.pos++
	return closing, name, nil
}

func (p *parser) readAttr() (name, value string, err error) {
	name = p.readIdent()
	if name == "" {
		return "", "", p.errf("expected attribute or tag, found %q", p.src[p.pos])
	}
	if p.pos >= len(p.src) || p.src[p.pos] != '=' {
		return "", "", p.errf("attribute %q missing '='", name)
	}
	p.pos++
	if p.pos >= len(p.src) || p.src[p.pos] != '"' {
		return "", "", p.errf("attribute %q missing opening quote", name)
	}
	p.pos++
	var sb strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '"' {
			// Doubled quote is an escaped literal quote.
			if p.pos+1 < len(p.src) && p.src[p.pos+1] == '"' {
				sb.WriteByte('"')
				p.pos += 2
				continue
			}
			p.pos++
			return name, sb.String(), nil
		}
		if c == '\n' {
			p.line++
		}
		sb.WriteByte(c)
		p.pos++
	}
	return "", "", p.errf("attribute %q missing closing quote", name)
}

func (p *parser) readIdent() string {
	start := p.pos
	for p.pos < len(p.src) && isIdentByte(p.src[p.pos]) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func isIdentByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}
