// Package reply owns construction and serialization of protocol replies.
//
// A reply document mirrors the request document model with one extra
// top-level status attribute. Error replies carry only the sanitized user
// message, never server-side diagnostics.
package reply

import (
	"errors"
	"fmt"
	"net"

	"github.com/danmuck/depotd/internal/document"
	"github.com/danmuck/depotd/internal/protocol"
)

const (
	StatusOK    = "ok"
	StatusError = "error"

	statusAttr   = "status"
	errorNode    = "error"
	messageAttr  = "message"
	unknownError = "internal error"
)

var ErrMalformedReply = errors.New("reply: malformed reply document")

// Reply is one outgoing protocol reply, consumed exactly once by
// serialization.
type Reply struct {
	Status  string
	Payload *document.Document // success payload, nil on error
	Message string             // sanitized user message, error only
}

// Success wraps a handler payload document. Reply takes ownership of the
// payload; a nil payload yields an empty success document.
func Success(payload *document.Document) Reply {
	if payload == nil {
		payload = document.New()
	}
	return Reply{Status: StatusOK, Payload: payload}
}

// Error builds an error reply from a client-safe message.
func Error(userMessage string) Reply {
	if userMessage == "" {
		userMessage = unknownError
	}
	return Reply{Status: StatusError, Message: userMessage}
}

// Document renders the reply as a serializable document.
func (r Reply) Document() *document.Document {
	if r.Status == StatusOK {
		doc := r.Payload
		if doc == nil {
			doc = document.New()
		}
		doc.SetAttr(statusAttr, StatusOK)
		return doc
	}
	doc := document.New()
	doc.SetAttr(statusAttr, StatusError)
	doc.AddChild(errorNode).SetAttr(messageAttr, r.Message)
	return doc
}

// Buffers returns the framed reply as segments ready for a single write.
func (r Reply) Buffers() (net.Buffers, error) {
	return protocol.EncodeFrame(document.Marshal(r.Document()))
}

// Parse interprets a reply body on the client side.
func Parse(body []byte) (Reply, error) {
	doc, err := document.Unmarshal(body)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	status, ok := doc.Attr(statusAttr)
	if !ok {
		return Reply{}, fmt.Errorf("%w: missing status", ErrMalformedReply)
	}
	switch status {
	case StatusOK:
		// Strip the reply framing so the payload mirrors what the handler
		// built.
		doc.RemoveAttr(statusAttr)
		return Reply{Status: StatusOK, Payload: doc}, nil
	case StatusError:
		node, ok := doc.Child(errorNode)
		if !ok {
			return Reply{}, fmt.Errorf("%w: error reply without [error]", ErrMalformedReply)
		}
		return Reply{Status: StatusError, Message: node.AttrOr(messageAttr, unknownError)}, nil
	default:
		return Reply{}, fmt.Errorf("%w: unknown status %q", ErrMalformedReply, status)
	}
}
