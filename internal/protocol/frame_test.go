package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestRoundTripWriteRead(t *testing.T) {
	body := []byte("[request_license]\n[/request_license]\n")
	var buf bytes.Buffer
	if err := WriteFrame(&buf, body); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadFrame(bytes.NewReader(buf.Bytes()), DefaultLimits())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("body mismatch: %q", got)
	}
}

func TestReadFramePaddedHeader(t *testing.T) {
	// Scenario A framing: header "7" padded to width, body "garbage".
	frame := []byte("       7garbage")
	got, err := ReadFrame(bytes.NewReader(frame), DefaultLimits())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "garbage" {
		t.Fatalf("body mismatch: %q", got)
	}
}

func TestReadFrameNonNumericHeader(t *testing.T) {
	frame := []byte("abcdefghthis body must never be read")
	_, err := ReadFrame(bytes.NewReader(frame), DefaultLimits())
	if !errors.Is(err, ErrInvalidPacket) {
		t.Fatalf("expected ErrInvalidPacket, got %v", err)
	}
}

func TestReadFrameBlankHeader(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte("        ")), DefaultLimits())
	if !errors.Is(err, ErrInvalidPacket) {
		t.Fatalf("expected ErrInvalidPacket, got %v", err)
	}
}

func TestReadFrameDeclaredSizeOverLimit(t *testing.T) {
	limits := Limits{MaxRequestSize: 1_000_000}
	r := &countingReader{r: bytes.NewReader([]byte("10000000"))}
	_, err := ReadFrame(r, limits)
	if !errors.Is(err, ErrRequestTooLarge) {
		t.Fatalf("expected ErrRequestTooLarge, got %v", err)
	}
	if r.read != SizeFieldLength {
		t.Fatalf("body read attempted: %d bytes consumed", r.read)
	}
}

func TestReadFrameZeroLengthBody(t *testing.T) {
	got, err := ReadFrame(bytes.NewReader([]byte("00000000")), DefaultLimits())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty body, got %q", got)
	}
}

func TestReadFrameTruncatedBody(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte("00000010abc")), DefaultLimits())
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestReadFrameShortHeader(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte("0001")), DefaultLimits())
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestEncodeSizeFieldOverflow(t *testing.T) {
	_, err := EncodeSizeField(maxEncodableSize + 1)
	if !errors.Is(err, ErrRequestTooLarge) {
		t.Fatalf("expected ErrRequestTooLarge, got %v", err)
	}
}

type countingReader struct {
	r    io.Reader
	read int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += n
	return n, err
}
