package session

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/depotd/internal/actions"
	"github.com/danmuck/depotd/internal/document"
	"github.com/danmuck/depotd/internal/protocol"
	"github.com/danmuck/depotd/internal/reply"
	"github.com/danmuck/depotd/internal/schema"
)

func testRegistry(t *testing.T, calls *atomic.Int64) *actions.Registry {
	t.Helper()
	r := actions.NewRegistry()
	err := r.Register(actions.Descriptor{
		Kind: "request_license",
		Schema: &schema.Schema{
			Kind:  "request_license",
			Attrs: []schema.AttrRule{{Name: "language"}},
		},
		Handler: actions.HandlerFunc(func(_ context.Context, req *actions.Request, res actions.Responder) {
			if calls != nil {
				calls.Add(1)
			}
			payload := document.New()
			payload.AddChild("license").SetAttr("language", req.Metadata.AttrOr("language", "en"))
			res.Succeed(payload)
		}),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	err = r.Register(actions.Descriptor{
		Kind: "request_umc_upload",
		Schema: &schema.Schema{
			Kind:  "request_umc_upload",
			Attrs: []schema.AttrRule{{Name: "name", Required: true}},
		},
		Handler: actions.HandlerFunc(func(_ context.Context, _ *actions.Request, res actions.Responder) {
			if calls != nil {
				calls.Add(1)
			}
			res.Succeed(nil)
		}),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return r
}

// startSession runs one session over a pipe and returns the client end.
func startSession(t *testing.T, registry *actions.Registry) (net.Conn, *Session, chan struct{}) {
	t.Helper()
	client, server := net.Pipe()
	sess := New(server, registry, Options{
		Limits: protocol.Limits{MaxRequestSize: 1_000_000},
		Logger: zerolog.New(zerolog.NewTestWriter(t)),
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.Run(context.Background())
	}()
	t.Cleanup(func() {
		_ = client.Close()
		<-done
	})
	return client, sess, done
}

func sendRequest(t *testing.T, conn net.Conn, body string) {
	t.Helper()
	if err := protocol.WriteFrame(conn, []byte(body)); err != nil {
		t.Fatalf("write request: %v", err)
	}
}

func readReply(t *testing.T, conn net.Conn) reply.Reply {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	body, err := protocol.ReadFrame(conn, protocol.DefaultLimits())
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	parsed, err := reply.Parse(body)
	if err != nil {
		t.Fatalf("parse reply: %v", err)
	}
	return parsed
}

func expectClosed(t *testing.T, conn net.Conn, done chan struct{}) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("expected connection close after reply, got %v", err)
	}
	<-done
}

func TestValidLicenseRequest(t *testing.T) {
	var calls atomic.Int64
	conn, sess, done := startSession(t, testRegistry(t, &calls))

	sendRequest(t, conn, "[request_license]\nlanguage=\"en\"\n[/request_license]\n")
	rep := readReply(t, conn)
	if rep.Status != reply.StatusOK {
		t.Fatalf("expected success, got %q (%s)", rep.Status, rep.Message)
	}
	if _, ok := rep.Payload.Child("license"); !ok {
		t.Fatalf("missing license payload")
	}
	if calls.Load() != 1 {
		t.Fatalf("handler invoked %d times, want exactly 1", calls.Load())
	}
	expectClosed(t, conn, done)
	if sess.State() != StateClosed {
		t.Fatalf("expected closed state, got %s", sess.State())
	}
}

func TestGarbageBody(t *testing.T) {
	// Scenario: length header "7" (padded) with body "garbage".
	var calls atomic.Int64
	conn, _, done := startSession(t, testRegistry(t, &calls))

	sendRequest(t, conn, "garbage")
	rep := readReply(t, conn)
	if rep.Status != reply.StatusError {
		t.Fatalf("expected error reply, got %q", rep.Status)
	}
	if calls.Load() != 0 {
		t.Fatalf("no handler must run for garbage, got %d calls", calls.Load())
	}
	expectClosed(t, conn, done)
}

func TestMalformedLengthHeader(t *testing.T) {
	conn, _, done := startSession(t, testRegistry(t, nil))

	if _, err := conn.Write([]byte("abcdefgh")); err != nil {
		t.Fatalf("write header: %v", err)
	}
	rep := readReply(t, conn)
	if rep.Status != reply.StatusError || rep.Message != "invalid packet" {
		t.Fatalf("expected invalid packet reply, got %q (%s)", rep.Status, rep.Message)
	}
	expectClosed(t, conn, done)
}

func TestOversizedDeclarationRefusedWithoutBodyRead(t *testing.T) {
	conn, _, done := startSession(t, testRegistry(t, nil))

	// Only the header goes out. The error reply arriving proves the
	// session never blocked on a body read.
	if _, err := conn.Write([]byte("10000000")); err != nil {
		t.Fatalf("write header: %v", err)
	}
	rep := readReply(t, conn)
	if rep.Status != reply.StatusError || rep.Message != "request header too large" {
		t.Fatalf("expected too-large reply, got %q (%s)", rep.Status, rep.Message)
	}
	expectClosed(t, conn, done)
}

func TestUnknownKind(t *testing.T) {
	var calls atomic.Int64
	conn, _, done := startSession(t, testRegistry(t, &calls))

	sendRequest(t, conn, "[request_nonexistent]\n[/request_nonexistent]\n")
	rep := readReply(t, conn)
	if rep.Status != reply.StatusError || rep.Message != "invalid packet" {
		t.Fatalf("expected invalid packet reply, got %q (%s)", rep.Status, rep.Message)
	}
	if calls.Load() != 0 {
		t.Fatalf("handler invoked for unknown kind")
	}
	expectClosed(t, conn, done)
}

func TestValidationFailureCarriesSanitizedMessage(t *testing.T) {
	var calls atomic.Int64
	conn, _, done := startSession(t, testRegistry(t, &calls))

	sendRequest(t, conn, "[request_umc_upload]\nversion=\"1.0\"\n[/request_umc_upload]\n")
	rep := readReply(t, conn)
	if rep.Status != reply.StatusError {
		t.Fatalf("expected error reply, got %q", rep.Status)
	}
	if !strings.Contains(rep.Message, "name") {
		t.Fatalf("sanitized message should name the attribute, got %q", rep.Message)
	}
	if strings.Contains(rep.Message, "at request_umc_upload") {
		t.Fatalf("dev diagnostic leaked to the wire: %q", rep.Message)
	}
	if calls.Load() != 0 {
		t.Fatalf("handler must not run on validation failure")
	}
	expectClosed(t, conn, done)
}

func TestMultipleRootNodesRejected(t *testing.T) {
	conn, _, done := startSession(t, testRegistry(t, nil))

	sendRequest(t, conn, "[request_license]\n[/request_license]\n[request_license]\n[/request_license]\n")
	rep := readReply(t, conn)
	if rep.Status != reply.StatusError {
		t.Fatalf("expected error reply, got %q", rep.Status)
	}
	expectClosed(t, conn, done)
}

func TestEmptyBodyRejected(t *testing.T) {
	conn, _, done := startSession(t, testRegistry(t, nil))

	sendRequest(t, conn, "")
	rep := readReply(t, conn)
	if rep.Status != reply.StatusError {
		t.Fatalf("expected error reply for empty body, got %q", rep.Status)
	}
	expectClosed(t, conn, done)
}

func TestAsynchronousHandlerCompletion(t *testing.T) {
	r := actions.NewRegistry()
	err := r.Register(actions.Descriptor{
		Kind:   "request_license",
		Schema: &schema.Schema{Kind: "request_license"},
		Handler: actions.HandlerFunc(func(_ context.Context, _ *actions.Request, res actions.Responder) {
			go func() {
				time.Sleep(20 * time.Millisecond)
				res.Succeed(nil)
			}()
		}),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	conn, _, done := startSession(t, r)
	sendRequest(t, conn, "[request_license]\n[/request_license]\n")
	rep := readReply(t, conn)
	if rep.Status != reply.StatusOK {
		t.Fatalf("expected success from async handler, got %q", rep.Status)
	}
	expectClosed(t, conn, done)
}

func TestHandlerPanicBecomesErrorReply(t *testing.T) {
	r := actions.NewRegistry()
	err := r.Register(actions.Descriptor{
		Kind:   "request_license",
		Schema: &schema.Schema{Kind: "request_license"},
		Handler: actions.HandlerFunc(func(_ context.Context, _ *actions.Request, _ actions.Responder) {
			panic("handler bug")
		}),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	conn, _, done := startSession(t, r)
	sendRequest(t, conn, "[request_license]\n[/request_license]\n")
	rep := readReply(t, conn)
	if rep.Status != reply.StatusError || rep.Message != "internal error" {
		t.Fatalf("expected internal error reply, got %q (%s)", rep.Status, rep.Message)
	}
	expectClosed(t, conn, done)
}

func TestClientDisconnectMidBody(t *testing.T) {
	conn, sess, done := startSession(t, testRegistry(t, nil))

	// Declare 100 bytes, deliver 10, then hang up.
	if _, err := conn.Write([]byte(fmt.Sprintf("%08d", 100))); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := conn.Write([]byte("0123456789")); err != nil {
		t.Fatalf("write partial body: %v", err)
	}
	_ = conn.Close()
	<-done
	if sess.State() != StateClosed {
		t.Fatalf("expected closed state, got %s", sess.State())
	}
}

func TestResponderFirstCompletionWins(t *testing.T) {
	res := newResponder()
	res.Succeed(document.New())
	res.Fail("late failure must be ignored")
	rep := <-res.ch
	if rep.Status != reply.StatusOK {
		t.Fatalf("expected first completion to win, got %q", rep.Status)
	}
	select {
	case <-res.ch:
		t.Fatalf("responder produced more than one reply")
	default:
	}
}
