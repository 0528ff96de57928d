package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
)

// SizeFieldLength is the exact byte width of the decimal ASCII length
// header. It must match between client and server.
const SizeFieldLength = 8

// maxEncodableSize is the largest body length the header can express.
const maxEncodableSize = 99_999_999

var (
	// ErrInvalidPacket covers malformed length headers, unparseable bodies,
	// unknown request kinds, and validation failures. It is the only
	// protocol error kind a client sees for a malformed request.
	ErrInvalidPacket = errors.New("protocol: invalid packet")

	// ErrRequestTooLarge means the declared body size exceeds the
	// configured maximum; the body is never read.
	ErrRequestTooLarge = errors.New("protocol: request header too large")
)

// Limits constrains frame decode memory use.
type Limits struct {
	MaxRequestSize uint64
}

func DefaultLimits() Limits {
	return Limits{MaxRequestSize: 1_000_000}
}

// ReadFrame reads one length-prefixed body from r: the fixed-width header
// first, then exactly the declared number of body bytes. A zero-length body
// is legal and yields an empty slice. Errors that are not ErrInvalidPacket
// or ErrRequestTooLarge are connection failures from the underlying reader.
func ReadFrame(r io.Reader, limits Limits) ([]byte, error) {
	var header [SizeFieldLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	size, err := ParseSizeField(header[:])
	if err != nil {
		return nil, err
	}
	if size > limits.MaxRequestSize {
		return nil, fmt.Errorf("%w: declared %d, limit %d", ErrRequestTooLarge, size, limits.MaxRequestSize)
	}
	if size == 0 {
		return []byte{}, nil
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// WriteFrame writes the length header and body to w as one gathered write.
func WriteFrame(w io.Writer, body []byte) error {
	buffers, err := EncodeFrame(body)
	if err != nil {
		return err
	}
	_, err = buffers.WriteTo(w)
	return err
}

// EncodeFrame returns the header and body as buffer segments ready for a
// single write.
func EncodeFrame(body []byte) (net.Buffers, error) {
	header, err := EncodeSizeField(uint64(len(body)))
	if err != nil {
		return nil, err
	}
	// A zero-length segment would still reach the writer; omit it so a
	// zero-length body produces exactly one write.
	if len(body) == 0 {
		return net.Buffers{header}, nil
	}
	return net.Buffers{header, body}, nil
}

// ParseSizeField parses the fixed-width decimal header. Surrounding ASCII
// spaces and leading zeros are tolerated.
func ParseSizeField(field []byte) (uint64, error) {
	s := strings.TrimSpace(string(field))
	if s == "" {
		return 0, fmt.Errorf("%w: empty length header", ErrInvalidPacket)
	}
	size, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad length header %q", ErrInvalidPacket, string(field))
	}
	return size, nil
}

// EncodeSizeField renders size as a zero-padded decimal header.
func EncodeSizeField(size uint64) ([]byte, error) {
	if size > maxEncodableSize {
		return nil, fmt.Errorf("%w: %d exceeds header width", ErrRequestTooLarge, size)
	}
	return []byte(fmt.Sprintf("%0*d", SizeFieldLength, size)), nil
}
