// Package session owns the per-connection protocol state machine.
//
// Ownership boundary:
// - frame sequencing (header read -> body read -> reply write)
// - kind extraction, registry resolution, validation funnel
// - handler invocation and the one in-flight reply
//
// A session serves exactly one request per connection: the reply write is
// followed by teardown, never by another frame read.
package session

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/depotd/internal/actions"
	"github.com/danmuck/depotd/internal/document"
	"github.com/danmuck/depotd/internal/observability"
	"github.com/danmuck/depotd/internal/protocol"
	"github.com/danmuck/depotd/internal/reply"
)

// State names one phase of the request/reply cycle.
type State int32

const (
	StateIdle State = iota
	StateAwaitingHeader
	StateAwaitingBody
	StateDispatching
	StateAwaitingHandler
	StateReplying
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingHeader:
		return "awaiting_header"
	case StateAwaitingBody:
		return "awaiting_body"
	case StateDispatching:
		return "dispatching"
	case StateAwaitingHandler:
		return "awaiting_handler"
	case StateReplying:
		return "replying"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Wire-visible outcome labels. Parse, resolution, and validation failures
// all surface as invalid_packet; oversized declarations as
// request_too_large. Connection failures never reach the wire.
const (
	outcomeOK              = "ok"
	outcomeError           = "error"
	outcomeInvalidPacket   = "invalid_packet"
	outcomeRequestTooLarge = "request_too_large"
)

const (
	msgInvalidPacket   = "invalid packet"
	msgRequestTooLarge = "request header too large"
	msgInternalError   = "internal error"
)

// Options configures one session.
type Options struct {
	Limits      protocol.Limits
	IdleTimeout time.Duration // zero means no deadline
	Logger      zerolog.Logger
}

// Session drives one connection through the protocol state machine.
type Session struct {
	conn     net.Conn
	registry *actions.Registry
	opts     Options
	logger   zerolog.Logger
	state    atomic.Int32
}

// New creates a session in the Idle state.
func New(conn net.Conn, registry *actions.Registry, opts Options) *Session {
	logger := opts.Logger.With().Str("peer", conn.RemoteAddr().String()).Logger()
	return &Session{
		conn:     conn,
		registry: registry,
		opts:     opts,
		logger:   logger,
	}
}

// State returns the current machine state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) transition(next State) {
	prev := State(s.state.Swap(int32(next)))
	s.logger.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("session transition")
}

// Run executes the full request/reply cycle and closes the connection.
// It never panics the caller: handler panics and protocol errors are
// converted to error replies, I/O errors tear the session down silently.
func (s *Session) Run(ctx context.Context) {
	observability.SessionOpened()
	defer func() {
		_ = s.conn.Close()
		s.transition(StateClosed)
		observability.SessionClosed()
	}()

	start := time.Now()
	if s.opts.IdleTimeout > 0 {
		_ = s.conn.SetDeadline(time.Now().Add(s.opts.IdleTimeout))
	}

	s.transition(StateAwaitingHeader)
	var header [protocol.SizeFieldLength]byte
	if _, err := io.ReadFull(s.conn, header[:]); err != nil {
		s.dropConnection("header read", err)
		return
	}

	size, err := protocol.ParseSizeField(header[:])
	if err != nil {
		s.logger.Error().Err(err).Msg("malformed length header")
		observability.RecordRejectedFrame(outcomeInvalidPacket)
		s.sendError("", outcomeInvalidPacket, msgInvalidPacket, start)
		return
	}
	if size > s.opts.Limits.MaxRequestSize {
		s.logger.Error().Uint64("declared", size).Uint64("limit", s.opts.Limits.MaxRequestSize).Msg("request header too large")
		observability.RecordRejectedFrame(outcomeRequestTooLarge)
		s.sendError("", outcomeRequestTooLarge, msgRequestTooLarge, start)
		return
	}

	s.transition(StateAwaitingBody)
	body := make([]byte, size)
	if _, err := io.ReadFull(s.conn, body); err != nil {
		s.dropConnection("body read", err)
		return
	}

	s.dispatch(ctx, body, start)
}

// dispatch parses, resolves, validates, and runs the handler. Every
// parse/resolve/validation failure funnels to the invalid_packet reply.
func (s *Session) dispatch(ctx context.Context, body []byte, start time.Time) {
	s.transition(StateDispatching)

	doc, err := document.Unmarshal(body)
	if err != nil {
		s.logger.Error().Err(err).Msg("unparseable request body")
		s.sendError("", outcomeInvalidPacket, msgInvalidPacket, start)
		return
	}

	kindNode, err := extractKind(doc)
	if err != nil {
		s.logger.Error().Err(err).Msg("request kind extraction failed")
		s.sendError("", outcomeInvalidPacket, msgInvalidPacket, start)
		return
	}
	kind := kindNode.Name()
	s.logger.Info().Str("kind", kind).Int("body_bytes", len(body)).Msg("request received")

	desc, ok := s.registry.Resolve(kind)
	if !ok {
		s.logger.Error().Str("kind", kind).Msg("unknown request kind")
		s.sendError(kind, outcomeInvalidPacket, msgInvalidPacket, start)
		return
	}

	if verr := desc.Schema.Validate(kindNode); verr != nil {
		// Dev diagnostic stays in the logs; only the user message travels.
		s.logger.Error().Str("kind", kind).Str("dev", verr.Dev).Msg("request validation failed")
		s.sendError(kind, outcomeInvalidPacket, verr.User, start)
		return
	}

	s.transition(StateAwaitingHandler)
	req := &actions.Request{
		Kind:     kind,
		Metadata: kindNode,
		Peer:     s.conn.RemoteAddr().String(),
	}
	res := newResponder()
	s.execute(ctx, desc.Handler, req, res)

	select {
	case rep := <-res.ch:
		outcome := outcomeOK
		if rep.Status != reply.StatusOK {
			outcome = outcomeError
		}
		s.sendReply(kind, outcome, rep, start)
	case <-ctx.Done():
		s.logger.Info().Str("kind", kind).Msg("session cancelled while awaiting handler")
	}
}

// execute runs the handler, converting a panic into an error reply so a
// misbehaving action cannot take the daemon down.
func (s *Session) execute(ctx context.Context, h actions.Handler, req *actions.Request, res *responder) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("kind", req.Kind).Any("panic", r).Msg("handler panicked")
			res.Fail(msgInternalError)
		}
	}()
	h.Execute(ctx, req, res)
}

func (s *Session) sendError(kind, outcome, userMessage string, start time.Time) {
	s.sendReply(kind, outcome, reply.Error(userMessage), start)
}

// sendReply is the single exit point to the Replying state. The write is
// attempted at most once; a failed write is logged and the connection
// dropped.
func (s *Session) sendReply(kind, outcome string, rep reply.Reply, start time.Time) {
	s.transition(StateReplying)
	observability.RecordRequest(kind, outcome, time.Since(start))

	buffers, err := rep.Buffers()
	if err != nil {
		s.logger.Error().Err(err).Msg("reply serialization failed")
		return
	}
	if _, err := buffers.WriteTo(s.conn); err != nil {
		s.dropConnection("reply write", err)
		return
	}
	s.logger.Info().
		Str("kind", kind).
		Str("outcome", outcome).
		Dur("duration", time.Since(start)).
		Msg("reply sent")
}

// dropConnection handles I/O failures: logged server-side, never echoed to
// the client, terminal for this session only.
func (s *Session) dropConnection(phase string, err error) {
	if errors.Is(err, io.EOF) {
		s.logger.Info().Str("phase", phase).Msg("client closed connection")
		return
	}
	s.logger.Info().Str("phase", phase).Err(err).Msg("connection failed, dropped")
}

var errKindShape = errors.New("session: request must contain exactly one kind node")

// extractKind returns the single root child naming the request kind.
func extractKind(doc *document.Document) (*document.Document, error) {
	children := doc.Children()
	if len(children) != 1 {
		return nil, errKindShape
	}
	return children[0], nil
}

// responder is the single-use completion capability handed to handlers.
type responder struct {
	ch   chan reply.Reply
	once sync.Once
}

func newResponder() *responder {
	return &responder{ch: make(chan reply.Reply, 1)}
}

func (r *responder) Succeed(payload *document.Document) {
	r.once.Do(func() { r.ch <- reply.Success(payload) })
}

func (r *responder) Fail(userMessage string) {
	r.once.Do(func() { r.ch <- reply.Error(userMessage) })
}
