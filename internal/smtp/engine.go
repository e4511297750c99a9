// Package smtp implements the receiving half of the mail bridge: an RFC 5321
// subset that accepts messages for local mailboxes and writes them to the
// shared store.
package smtp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bridgemail/bridgemail/internal/metrics"
	"github.com/bridgemail/bridgemail/internal/store"
	"github.com/bridgemail/bridgemail/internal/wire"
)

// CommandLineLimit bounds an SMTP command line, CRLF included, per
// RFC 5321 §4.5.3.1. Body lines inside DATA are not bounded; the framer
// limit is lifted for the duration of the upload.
const CommandLineLimit = 1000

// SessionState represents the current state of an SMTP session.
type SessionState int

const (
	StateInit    SessionState = iota // Connected, greeting sent, waiting for HELO/EHLO
	StateGreeted                     // After successful HELO/EHLO
	StateMail                        // After successful MAIL FROM
	StateRcpt                        // After at least one successful RCPT TO
	StateData                        // In DATA mode, receiving message content
)

// String returns a human-readable representation of the session state.
func (s SessionState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateGreeted:
		return "GREETED"
	case StateMail:
		return "MAIL"
	case StateRcpt:
		return "RCPT"
	case StateData:
		return "DATA"
	default:
		return "UNKNOWN"
	}
}

// Engine is a per-connection SMTP state machine. It consumes raw bytes from
// the transport, frames them into lines, and produces reply bytes. The
// multiplexer owns the socket; the engine never blocks on I/O other than
// store calls.
type Engine struct {
	store     *store.Store
	hostname  string
	collector metrics.Collector
	logger    *slog.Logger

	framer *wire.Framer
	state  SessionState
	helo   string
	sender string
	rcpts  []string
	body   []byte
	out    []byte
}

// NewEngine creates an SMTP engine bound to the given store. hostname is
// used in the greeting banner; empty falls back to "localhost". collector
// may be nil for no-op metrics.
func NewEngine(st *store.Store, hostname string, collector metrics.Collector, logger *slog.Logger) *Engine {
	if hostname == "" {
		hostname = "localhost"
	}
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     st,
		hostname:  hostname,
		collector: collector,
		logger:    logger,
		framer:    wire.NewFramer(CommandLineLimit),
		state:     StateInit,
	}
}

// Greeting returns the banner to send when the session opens.
func (e *Engine) Greeting() []byte {
	return []byte("220 " + e.hostname + "\r\n")
}

// Process consumes a chunk of bytes from the transport and returns the reply
// bytes to write back, plus a flag telling the multiplexer to close the
// session after the write. The returned slice is only valid until the next
// Process call.
func (e *Engine) Process(ctx context.Context, chunk []byte) ([]byte, bool) {
	e.framer.Feed(chunk)
	e.out = e.out[:0]
	for {
		ln, ok := e.framer.Next()
		if !ok {
			return e.out, false
		}
		if e.processLine(ctx, ln) {
			return e.out, true
		}
	}
}

// processLine handles one framed line and reports whether the session should
// terminate.
func (e *Engine) processLine(ctx context.Context, ln wire.Line) bool {
	if e.state == StateData {
		e.dataLine(ctx, ln.Text)
		return false
	}
	if ln.Overflow {
		e.collector.LineOverflow("smtp")
		e.reply(500, "Syntax error, command unrecognized")
		return false
	}

	line := strings.TrimRight(string(ln.Text), " ")
	if line == "" {
		e.reply(500, "Syntax error, command unrecognized")
		return false
	}

	verb, arg := splitCommand(line)
	e.logger.Debug("smtp command", "verb", verb, "state", e.state.String())

	var handler func(context.Context, string) bool
	switch verb {
	case "HELO", "EHLO":
		handler = e.cmdHelo
	case "RSET":
		handler = e.cmdRset
	case "NOOP":
		handler = e.cmdNoop
	case "VRFY":
		handler = e.cmdVrfy
	case "MAIL":
		handler = e.cmdMail
	case "RCPT":
		handler = e.cmdRcpt
	case "DATA":
		handler = e.cmdData
	case "QUIT":
		handler = e.cmdQuit
	default:
		e.reply(500, "Syntax error, command unrecognized")
		return false
	}
	e.collector.CommandProcessed("smtp", verb)
	return handler(ctx, arg)
}

func (e *Engine) cmdHelo(_ context.Context, arg string) bool {
	if arg == "" {
		e.reply(501, "Syntax error in parameters or arguments")
		return false
	}
	if e.state != StateInit {
		e.reply(503, "Bad sequence of commands")
		return false
	}
	e.helo = arg
	e.state = StateGreeted
	e.reply(250, "OK")
	return false
}

func (e *Engine) cmdRset(_ context.Context, arg string) bool {
	if arg != "" {
		e.reply(501, "Syntax error in parameters or arguments")
		return false
	}
	if e.state != StateInit {
		e.state = StateGreeted
	}
	e.sender = ""
	e.rcpts = nil
	e.body = nil
	e.reply(250, "OK")
	return false
}

// cmdNoop ignores any argument.
func (e *Engine) cmdNoop(_ context.Context, _ string) bool {
	e.reply(250, "OK")
	return false
}

func (e *Engine) cmdVrfy(_ context.Context, arg string) bool {
	if arg == "" {
		e.reply(501, "Syntax error in parameters or arguments")
		return false
	}
	e.reply(252, "Cannot VRFY user, but will accept message and attempt delivery")
	return false
}

func (e *Engine) cmdMail(ctx context.Context, arg string) bool {
	if arg == "" {
		e.reply(500, "Syntax error, command unrecognized")
		return false
	}
	if e.state != StateGreeted {
		e.reply(503, "Bad sequence of commands")
		return false
	}
	local, ok := parsePath(arg, "FROM")
	if !ok {
		e.reply(501, "Syntax error in parameters or arguments")
		return false
	}
	exists, err := e.store.MailboxExists(ctx, local)
	if err != nil {
		e.logger.Error("mailbox lookup failed", "mailbox", local, "error", err.Error())
		e.reply(451, "Requested action aborted")
		return false
	}
	if !exists {
		e.reply(550, "Mailbox not found")
		return false
	}
	e.sender = local
	e.state = StateMail
	e.reply(250, "OK")
	return false
}

func (e *Engine) cmdRcpt(ctx context.Context, arg string) bool {
	if arg == "" {
		e.reply(501, "Syntax error in parameters or arguments")
		return false
	}
	if e.state != StateMail && e.state != StateRcpt {
		e.reply(503, "Bad sequence of commands")
		return false
	}
	local, ok := parsePath(arg, "TO")
	if !ok {
		e.reply(501, "Syntax error in parameters or arguments")
		return false
	}
	exists, err := e.store.MailboxExists(ctx, local)
	if err != nil {
		e.logger.Error("mailbox lookup failed", "mailbox", local, "error", err.Error())
		e.reply(451, "Requested action aborted")
		return false
	}
	if !exists {
		e.reply(550, "Mailbox not found")
		return false
	}
	// Duplicates are kept; the store rejects them at delivery time.
	e.rcpts = append(e.rcpts, local)
	e.state = StateRcpt
	e.reply(250, "OK")
	return false
}

func (e *Engine) cmdData(_ context.Context, arg string) bool {
	if arg != "" {
		e.reply(501, "Syntax error in parameters or arguments")
		return false
	}
	if e.state != StateRcpt {
		e.reply(503, "Bad sequence of commands")
		return false
	}
	e.state = StateData
	e.framer.SetLimit(0)
	e.reply(354, "Start mail input; end with <CRLF>.<CRLF>")
	return false
}

func (e *Engine) cmdQuit(_ context.Context, arg string) bool {
	if arg != "" {
		e.reply(501, "Syntax error in parameters or arguments")
		return false
	}
	if e.state == StateInit {
		e.reply(503, "Bad sequence of commands")
		return false
	}
	e.reply(221, "Service closing transmission channel")
	return true
}

// dataLine accumulates one body line, or finishes the upload when the line
// is the bare-dot terminator. Dot-stuffing is undone on accumulation: a
// leading '.' on a longer line is stripped.
func (e *Engine) dataLine(ctx context.Context, line []byte) {
	if len(line) == 1 && line[0] == '.' {
		e.deliver(ctx)
		return
	}
	if len(line) > 0 && line[0] == '.' {
		line = line[1:]
	}
	e.body = append(e.body, line...)
	e.body = append(e.body, '\r', '\n')
}

// deliver writes the accumulated message to the store in one transaction
// and returns the session to the greeted state either way.
func (e *Engine) deliver(ctx context.Context) {
	id, err := e.store.InsertMessage(ctx, e.body, e.rcpts)
	if err != nil {
		e.logger.Error("delivery failed", "error", err.Error(), "recipients", len(e.rcpts))
		e.collector.DeliveryFailed("store_error")
		e.reply(451, "Requested action aborted")
	} else {
		e.logger.Info("message delivered",
			"message_id", id,
			"from", e.sender,
			"recipients", len(e.rcpts),
			"bytes", len(e.body))
		e.collector.MessageDelivered(len(e.rcpts), int64(len(e.body)))
		e.reply(250, "OK")
	}
	e.state = StateGreeted
	e.rcpts = nil
	e.body = nil
	e.framer.SetLimit(CommandLineLimit)
}

func (e *Engine) reply(code int, text string) {
	e.out = fmt.Appendf(e.out, "%d %s\r\n", code, text)
}

// splitCommand tokenizes a right-trimmed command line into an uppercased
// verb and the verbatim remainder after the first space.
func splitCommand(line string) (verb, arg string) {
	if i := strings.IndexByte(line, ' '); i >= 0 {
		return strings.ToUpper(line[:i]), line[i+1:]
	}
	return strings.ToUpper(line), ""
}
