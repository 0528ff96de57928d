// Package schema owns per-kind request body validation.
//
// A schema encodes the attribute/child shape one request kind expects.
// Validation runs strictly before the handler sees the document; handlers
// assume a valid shape and do not re-validate.
package schema

import (
	"fmt"
	"strconv"

	"github.com/danmuck/depotd/internal/document"
)

// AttrRule declares one known attribute on a node.
type AttrRule struct {
	Name     string
	Required bool
	Numeric  bool
}

// ChildRule declares one known child node. A nested schema, when set,
// applies to every child with that name.
type ChildRule struct {
	Name     string
	Required bool
	Schema   *Schema
}

// Schema defines the expected shape of one request kind's metadata node.
// Unknown attributes and children are ignored.
type Schema struct {
	Kind     string
	Attrs    []AttrRule
	Children []ChildRule
}

// ValidationError carries a server-side diagnostic (Dev) and a sanitized
// client-safe message (User). Both travel independently: Dev goes to logs,
// User goes on the wire.
type ValidationError struct {
	Kind string
	Dev  string
	User string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema: kind=%q: %s", e.Kind, e.Dev)
}

// Validate checks doc against the schema. It returns nil on acceptance.
// Logging is left to the caller, which owns the connection context.
func (s *Schema) Validate(doc *document.Document) *ValidationError {
	return s.validateNode(doc, s.Kind)
}

func (s *Schema) validateNode(doc *document.Document, at string) *ValidationError {
	for _, rule := range s.Attrs {
		value, ok := doc.Attr(rule.Name)
		if !ok {
			if !rule.Required {
				continue
			}
			return &ValidationError{
				Kind: s.Kind,
				Dev:  fmt.Sprintf("missing required attribute %q at %s", rule.Name, at),
				User: fmt.Sprintf("missing required attribute %q", rule.Name),
			}
		}
		if rule.Numeric {
			if _, err := strconv.ParseUint(value, 10, 64); err != nil {
				return &ValidationError{
					Kind: s.Kind,
					Dev:  fmt.Sprintf("attribute %q at %s is not numeric: %q", rule.Name, at, value),
					User: fmt.Sprintf("attribute %q must be numeric", rule.Name),
				}
			}
		}
	}
	for _, rule := range s.Children {
		children := doc.ChildrenNamed(rule.Name)
		if len(children) == 0 {
			if !rule.Required {
				continue
			}
			return &ValidationError{
				Kind: s.Kind,
				Dev:  fmt.Sprintf("missing required child [%s] at %s", rule.Name, at),
				User: fmt.Sprintf("missing required element [%s]", rule.Name),
			}
		}
		if rule.Schema == nil {
			continue
		}
		for _, child := range children {
			if verr := rule.Schema.validateNode(child, at+"."+rule.Name); verr != nil {
				verr.Kind = s.Kind
				return verr
			}
		}
	}
	return nil
}
