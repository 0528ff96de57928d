// Package document owns the structured payload tree used for request
// metadata and reply payloads.
//
// Ownership boundary:
// - attribute/child tree primitives
// - text codec (Marshal/Unmarshal)
package document

// Attr is one named scalar attribute on a node.
type Attr struct {
	Name  string
	Value string
}

// Document is one node of the payload tree. Attribute names are unique per
// node; children are ordered and may repeat by name.
type Document struct {
	name     string
	attrs    map[string]string
	order    []string
	children []*Document
}

// New creates an empty root document.
func New() *Document {
	return &Document{attrs: make(map[string]string)}
}

// Name returns the node name. The root node has an empty name.
func (d *Document) Name() string {
	return d.name
}

// SetAttr sets an attribute, replacing any previous value under that name.
func (d *Document) SetAttr(name, value string) *Document {
	if _, ok := d.attrs[name]; !ok {
		d.order = append(d.order, name)
	}
	d.attrs[name] = value
	return d
}

// RemoveAttr deletes an attribute. Removing an absent name is a no-op.
func (d *Document) RemoveAttr(name string) {
	if _, ok := d.attrs[name]; !ok {
		return
	}
	delete(d.attrs, name)
	for i, n := range d.order {
		if n == name {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// Attr returns the attribute value under name.
func (d *Document) Attr(name string) (string, bool) {
	v, ok := d.attrs[name]
	return v, ok
}

// AttrOr returns the attribute value under name, or fallback when absent.
func (d *Document) AttrOr(name, fallback string) string {
	if v, ok := d.attrs[name]; ok {
		return v
	}
	return fallback
}

// Attrs returns attributes in insertion order.
func (d *Document) Attrs() []Attr {
	out := make([]Attr, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, Attr{Name: name, Value: d.attrs[name]})
	}
	return out
}

// AddChild appends a new named child node and returns it.
func (d *Document) AddChild(name string) *Document {
	child := &Document{name: name, attrs: make(map[string]string)}
	d.children = append(d.children, child)
	return child
}

// Children returns all child nodes in order.
func (d *Document) Children() []*Document {
	return d.children
}

// Child returns the first child with the given name.
func (d *Document) Child(name string) (*Document, bool) {
	for _, c := range d.children {
		if c.name == name {
			return c, true
		}
	}
	return nil, false
}

// ChildrenNamed returns all children with the given name, in order.
func (d *Document) ChildrenNamed(name string) []*Document {
	var out []*Document
	for _, c := range d.children {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

// Equal reports structural equality: same name, same attribute set, and
// pairwise-equal children in the same order.
func (d *Document) Equal(other *Document) bool {
	if d == nil || other == nil {
		return d == other
	}
	if d.name != other.name {
		return false
	}
	if len(d.attrs) != len(other.attrs) {
		return false
	}
	for name, v := range d.attrs {
		ov, ok := other.attrs[name]
		if !ok || ov != v {
			return false
		}
	}
	if len(d.children) != len(other.children) {
		return false
	}
	for i := range d.children {
		if !d.children[i].Equal(other.children[i]) {
			return false
		}
	}
	return true
}
