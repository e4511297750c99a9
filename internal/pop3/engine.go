// Package pop3 implements the retrieval half of the mail bridge: an RFC 1939
// subset that serves messages from the shared store and commits deletions
// when the client quits.
package pop3

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bridgemail/bridgemail/internal/metrics"
	"github.com/bridgemail/bridgemail/internal/store"
	"github.com/bridgemail/bridgemail/internal/wire"
)

// CommandLineLimit bounds a POP3 wire line, CRLF included.
const CommandLineLimit = 87

// maxArgLen caps USER and PASS arguments, per RFC 1939 §3.
const maxArgLen = 40

// SessionState represents the current state of a POP3 session.
type SessionState int

const (
	StateInit        SessionState = iota // Connected, greeting sent, waiting for USER
	StateAuth                            // USER accepted, waiting for PASS
	StateTransaction                     // Authenticated, snapshot loaded
)

// String returns a human-readable representation of the session state.
func (s SessionState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateAuth:
		return "AUTH"
	case StateTransaction:
		return "TRANSACTION"
	default:
		return "UNKNOWN"
	}
}

// snapshotEntry is one message in the maildrop snapshot taken at login.
// Message numbers are 1-based positions in the snapshot; they never shift
// during the session, deletion only flags an entry.
type snapshotEntry struct {
	id      int64
	size    int64
	deleted bool
}

// Engine is a per-connection POP3 state machine. It consumes raw bytes from
// the transport, frames them into lines, and produces reply bytes. The
// multiplexer owns the socket; the engine never blocks on I/O other than
// store calls.
type Engine struct {
	store     *store.Store
	hostname  string
	collector metrics.Collector
	logger    *slog.Logger

	framer   *wire.Framer
	state    SessionState
	user     string
	snapshot []snapshotEntry
	out      []byte
}

// NewEngine creates a POP3 engine bound to the given store. hostname is
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
	return []byte("+OK POP3 server ready <" + e.hostname + ">\r\n")
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

func (e *Engine) processLine(ctx context.Context, ln wire.Line) bool {
	if ln.Overflow {
		e.collector.LineOverflow("pop3")
		e.replyErr()
		return false
	}

	verb, rest := splitCommand(string(ln.Text))
	e.logger.Debug("pop3 command", "verb", verb, "state", e.state.String())

	var handler func(context.Context, string) bool
	switch verb {
	case "USER":
		handler = e.cmdUser
	case "PASS":
		handler = e.cmdPass
	case "STAT":
		handler = e.cmdStat
	case "LIST":
		handler = e.cmdList
	case "RETR":
		handler = e.cmdRetr
	case "DELE":
		handler = e.cmdDele
	case "NOOP":
		handler = e.cmdNoop
	case "RSET":
		handler = e.cmdRset
	case "TOP":
		handler = e.cmdTop
	case "UIDL":
		handler = e.cmdUidl
	case "QUIT":
		handler = e.cmdQuit
	default:
		e.replyErr()
		return false
	}
	e.collector.CommandProcessed("pop3", verb)
	return handler(ctx, rest)
}

// cmdUser records the mailbox name. The name is the verbatim remainder of
// the line; its existence is not checked until PASS.
func (e *Engine) cmdUser(_ context.Context, rest string) bool {
	if e.state != StateInit {
		e.replyErr()
		return false
	}
	if rest == "" || len(rest) > maxArgLen {
		e.replyErr()
		return false
	}
	e.user = rest
	e.state = StateAuth
	e.replyOK()
	return false
}

// cmdPass checks the credentials and, on success, loads the maildrop
// snapshot before confirming. A failed login or snapshot load leaves the
// session in AUTH so the client may retry.
func (e *Engine) cmdPass(ctx context.Context, rest string) bool {
	if e.state != StateAuth {
		e.replyErr()
		return false
	}
	if rest == "" || len(rest) > maxArgLen {
		e.replyErr()
		return false
	}

	ok, err := e.store.CheckLogin(ctx, e.user, rest)
	if err != nil {
		e.logger.Error("login check failed", "mailbox", e.user, "error", err.Error())
	}
	e.collector.AuthAttempt(ok)
	if !ok {
		e.logger.Info("login rejected", "mailbox", e.user)
		e.replyErr()
		return false
	}

	msgs, err := e.store.ListMessages(ctx, e.user)
	if err != nil {
		e.logger.Error("snapshot load failed", "mailbox", e.user, "error", err.Error())
		e.replyErr()
		return false
	}
	e.snapshot = make([]snapshotEntry, len(msgs))
	for i, m := range msgs {
		e.snapshot[i] = snapshotEntry{id: m.ID, size: m.Size}
	}
	e.state = StateTransaction
	e.logger.Info("login accepted", "mailbox", e.user, "messages", len(e.snapshot))
	e.replyOK()
	return false
}

func (e *Engine) cmdStat(_ context.Context, rest string) bool {
	if e.state != StateTransaction {
		e.replyErr()
		return false
	}
	if len(strings.Fields(rest)) > 0 {
		e.replyErr()
		return false
	}
	var count, size int64
	for _, ent := range e.snapshot {
		if ent.deleted {
			continue
		}
		count++
		size += ent.size
	}
	e.out = fmt.Appendf(e.out, "+OK %d %d\r\n", count, size)
	return false
}

func (e *Engine) cmdList(_ context.Context, rest string) bool {
	if e.state != StateTransaction {
		e.replyErr()
		return false
	}
	args := strings.Fields(rest)
	if len(args) == 0 {
		e.replyOK()
		for i, ent := range e.snapshot {
			if ent.deleted {
				continue
			}
			e.out = fmt.Appendf(e.out, "%d %d\r\n", i+1, ent.size)
		}
		e.out = append(e.out, ".\r\n"...)
		return false
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		e.replyErr()
		return false
	}
	ent := e.message(n)
	if ent == nil {
		e.replyErr()
		return false
	}
	e.out = fmt.Appendf(e.out, "+OK %d %d\r\n", n, ent.size)
	return false
}

func (e *Engine) cmdRetr(ctx context.Context, rest string) bool {
	if e.state != StateTransaction {
		e.replyErr()
		return false
	}
	args := strings.Fields(rest)
	if len(args) == 0 {
		e.replyErr()
		return false
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		e.replyErr()
		return false
	}
	ent := e.message(n)
	if ent == nil {
		e.replyErr()
		return false
	}
	data, err := e.store.FetchMessage(ctx, e.user, ent.id)
	if err != nil {
		e.logger.Error("message fetch failed",
			"mailbox", e.user,
			"message_id", ent.id,
			"error", err.Error())
		e.replyErr()
		return false
	}
	e.collector.MessageRetrieved(int64(len(data)))
	e.replyOK()
	e.out = appendStuffed(e.out, data)
	e.out = append(e.out, ".\r\n"...)
	return false
}

func (e *Engine) cmdDele(_ context.Context, rest string) bool {
	if e.state != StateTransaction {
		e.replyErr()
		return false
	}
	args := strings.Fields(rest)
	if len(args) == 0 {
		e.replyErr()
		return false
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		e.replyErr()
		return false
	}
	ent := e.message(n)
	if ent == nil {
		e.replyErr()
		return false
	}
	ent.deleted = true
	e.replyOK()
	return false
}

func (e *Engine) cmdNoop(_ context.Context, rest string) bool {
	if e.state != StateTransaction {
		e.replyErr()
		return false
	}
	if len(strings.Fields(rest)) > 0 {
		e.replyErr()
		return false
	}
	e.replyOK()
	return false
}

// cmdRset clears every tentative-delete flag; the snapshot itself is
// untouched.
func (e *Engine) cmdRset(_ context.Context, rest string) bool {
	if e.state != StateTransaction {
		e.replyErr()
		return false
	}
	if len(strings.Fields(rest)) > 0 {
		e.replyErr()
		return false
	}
	for i := range e.snapshot {
		e.snapshot[i].deleted = false
	}
	e.replyOK()
	return false
}

// cmdTop acknowledges the command without sending content.
func (e *Engine) cmdTop(_ context.Context, rest string) bool {
	if e.state != StateTransaction {
		e.replyErr()
		return false
	}
	if len(strings.Fields(rest)) == 0 {
		e.replyErr()
		return false
	}
	e.replyOK()
	return false
}

// cmdUidl acknowledges the command without sending identifiers.
func (e *Engine) cmdUidl(_ context.Context, rest string) bool {
	if e.state != StateTransaction {
		e.replyErr()
		return false
	}
	e.replyOK()
	return false
}

// cmdQuit commits the tentative deletes and closes the session. A failed
// commit is reported as -ERR but the session closes regardless.
func (e *Engine) cmdQuit(ctx context.Context, rest string) bool {
	if len(strings.Fields(rest)) > 0 {
		e.replyErr()
		return false
	}
	if e.state == StateTransaction {
		var ids []int64
		for _, ent := range e.snapshot {
			if ent.deleted {
				ids = append(ids, ent.id)
			}
		}
		if len(ids) > 0 {
			if err := e.store.DeleteMemberships(ctx, e.user, ids); err != nil {
				e.logger.Error("delete commit failed",
					"mailbox", e.user,
					"messages", len(ids),
					"error", err.Error())
				e.replyErr()
				return true
			}
			e.collector.MessagesDeleted(len(ids))
			e.logger.Info("deletes committed", "mailbox", e.user, "messages", len(ids))
		}
	}
	e.replyOK()
	return true
}

// message returns the snapshot entry for 1-based message number n, or nil
// when n is out of range or tentatively deleted.
func (e *Engine) message(n int) *snapshotEntry {
	if n < 1 || n > len(e.snapshot) {
		return nil
	}
	ent := &e.snapshot[n-1]
	if ent.deleted {
		return nil
	}
	return ent
}

func (e *Engine) replyOK() {
	e.out = append(e.out, "+OK\r\n"...)
}

func (e *Engine) replyErr() {
	e.out = append(e.out, "-ERR\r\n"...)
}

// appendStuffed writes message bytes line by line, doubling any leading dot
// so the bare-dot terminator stays unambiguous. A final line without CRLF
// still gets terminated so the dot lands on its own line.
func appendStuffed(out, body []byte) []byte {
	for len(body) > 0 {
		line := body
		if i := bytes.Index(body, []byte("\r\n")); i >= 0 {
			line = body[:i]
			body = body[i+2:]
		} else {
			body = nil
		}
		if len(line) > 0 && line[0] == '.' {
			out = append(out, '.')
		}
		out = append(out, line...)
		out = append(out, '\r', '\n')
	}
	return out
}

// splitCommand tokenizes a command line into an uppercased verb and the
// verbatim remainder after the first space.
func splitCommand(line string) (verb, rest string) {
	if i := strings.IndexByte(line, ' '); i >= 0 {
		return strings.ToUpper(line[:i]), line[i+1:]
	}
	return strings.ToUpper(line), ""
}
