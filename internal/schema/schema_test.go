package schema

import (
	"strings"
	"testing"

	"github.com/danmuck/depotd/internal/document"
)

func uploadSchema() *Schema {
	return &Schema{
		Kind: "request_umc_upload",
		Attrs: []AttrRule{
			{Name: "name", Required: true},
			{Name: "version", Required: true},
		},
		Children: []ChildRule{
			{
				Name:     "content",
				Required: true,
				Schema: &Schema{
					Attrs: []AttrRule{{Name: "size", Required: true, Numeric: true}},
				},
			},
		},
	}
}

func TestValidateAccepts(t *testing.T) {
	doc := document.New()
	doc.SetAttr("name", "era_of_myths")
	doc.SetAttr("version", "1.2.0")
	doc.SetAttr("unknown_extra", "ignored")
	doc.AddChild("content").SetAttr("size", "2048")

	if verr := uploadSchema().Validate(doc); verr != nil {
		t.Fatalf("expected acceptance, got %v", verr)
	}
}

func TestValidateMissingAttribute(t *testing.T) {
	doc := document.New()
	doc.SetAttr("name", "era_of_myths")
	doc.AddChild("content").SetAttr("size", "2048")

	verr := uploadSchema().Validate(doc)
	if verr == nil {
		t.Fatalf("expected validation failure")
	}
	if !strings.Contains(verr.User, "version") {
		t.Fatalf("user message should name the attribute: %q", verr.User)
	}
	if verr.Dev == "" || verr.Dev == verr.User {
		t.Fatalf("dev message must carry its own diagnostic: %q", verr.Dev)
	}
}

func TestValidateMissingChild(t *testing.T) {
	doc := document.New()
	doc.SetAttr("name", "era_of_myths")
	doc.SetAttr("version", "1.2.0")

	verr := uploadSchema().Validate(doc)
	if verr == nil || !strings.Contains(verr.User, "content") {
		t.Fatalf("expected missing [content] failure, got %v", verr)
	}
}

func TestValidateNonNumericAttribute(t *testing.T) {
	doc := document.New()
	doc.SetAttr("name", "era_of_myths")
	doc.SetAttr("version", "1.2.0")
	doc.AddChild("content").SetAttr("size", "lots")

	verr := uploadSchema().Validate(doc)
	if verr == nil || !strings.Contains(verr.User, "size") {
		t.Fatalf("expected numeric failure on size, got %v", verr)
	}
	if verr.Kind != "request_umc_upload" {
		t.Fatalf("nested failure must carry the schema kind, got %q", verr.Kind)
	}
}

func TestValidateRepeatedChildrenAllChecked(t *testing.T) {
	doc := document.New()
	doc.SetAttr("name", "era_of_myths")
	doc.SetAttr("version", "1.2.0")
	doc.AddChild("content").SetAttr("size", "10")
	doc.AddChild("content") // second block missing size

	if verr := uploadSchema().Validate(doc); verr == nil {
		t.Fatalf("expected failure on second [content] block")
	}
}
