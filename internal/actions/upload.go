package actions

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/depotd/internal/document"
	"github.com/danmuck/depotd/internal/schema"
)

const KindRequestUpload = "request_umc_upload"

// DefaultMaxContentSize caps the declared size of one uploaded package.
const DefaultMaxContentSize uint64 = 100 * 1024 * 1024

// UploadHandler accepts user-made-content upload metadata and assigns an
// upload id. Content byte transfer is negotiated out of band; this action
// only admits or refuses the declared package.
type UploadHandler struct {
	MaxContentSize uint64

	seq atomic.Uint64
}

func NewUploadHandler(maxContentSize uint64) *UploadHandler {
	if maxContentSize == 0 {
		maxContentSize = DefaultMaxContentSize
	}
	return &UploadHandler{MaxContentSize: maxContentSize}
}

func (h *UploadHandler) Execute(_ context.Context, req *Request, res Responder) {
	name, _ := req.Metadata.Attr("name")
	version, _ := req.Metadata.Attr("version")
	uploader, _ := req.Metadata.Attr("uploader")

	var total uint64
	for _, content := range req.Metadata.ChildrenNamed("content") {
		// size is schema-checked numeric before the handler runs.
		size, _ := strconv.ParseUint(content.AttrOr("size", "0"), 10, 64)
		// total never exceeds the limit here, so the subtraction cannot
		// underflow and the running sum cannot wrap.
		if size > h.MaxContentSize-total {
			log.Warn().
				Str("peer", req.Peer).
				Str("name", name).
				Uint64("size", size).
				Uint64("accumulated", total).
				Uint64("limit", h.MaxContentSize).
				Msg("upload refused, content too large")
			res.Fail(fmt.Sprintf("declared content size exceeds the %d byte limit", h.MaxContentSize))
			return
		}
		total += size
	}

	id := h.seq.Add(1)
	log.Info().
		Str("peer", req.Peer).
		Str("name", name).
		Str("version", version).
		Str("uploader", uploader).
		Uint64("upload_id", id).
		Msg("upload accepted")

	payload := document.New()
	upload := payload.AddChild("upload")
	upload.SetAttr("id", strconv.FormatUint(id, 10))
	upload.SetAttr("name", name)
	upload.SetAttr("version", version)
	res.Succeed(payload)
}

// UploadDescriptor binds the upload schema and handler to its kind.
func UploadDescriptor(maxContentSize uint64) Descriptor {
	return Descriptor{
		Kind: KindRequestUpload,
		Schema: &schema.Schema{
			Kind: KindRequestUpload,
			Attrs: []schema.AttrRule{
				{Name: "name", Required: true},
				{Name: "version", Required: true},
				{Name: "uploader", Required: true},
			},
			Children: []schema.ChildRule{
				{
					Name:     "content",
					Required: true,
					Schema: &schema.Schema{
						Attrs: []schema.AttrRule{{Name: "size", Required: true, Numeric: true}},
					},
				},
			},
		},
		Handler: NewUploadHandler(maxContentSize),
	}
}
