// Package wire assembles raw network bytes into protocol lines.
package wire

// Line is one framed line event. Text holds the line content without its
// CRLF terminator; the framer does not reuse the backing array. When
// Overflow is set the line exceeded the framer's limit and Text is empty.
type Line struct {
	Text     []byte
	Overflow bool
}

// Framer converts a byte stream into CRLF-terminated line events. Lines are
// terminated strictly by CRLF: a bare LF is content, and a bare CR is held
// as content unless the next byte is LF. A non-zero limit bounds the whole
// wire line including CRLF; once exceeded, remaining bytes are discarded
// until CRLF and a single overflow event is emitted in place of the line.
//
// The framer is a pull interface: Feed only stashes bytes, and framing
// happens as Next consumes them. A limit change between Next calls therefore
// applies to every byte not yet consumed, which lets a protocol engine lift
// the bound mid-stream (SMTP entering DATA) without re-framing.
type Framer struct {
	limit    int
	pending  []byte
	buf      []byte
	overflow bool
	lastCR   bool
}

// NewFramer returns a framer bounding wire lines to limit bytes including
// the CRLF. A limit of 0 means unbounded.
func NewFramer(limit int) *Framer {
	return &Framer{limit: limit}
}

// SetLimit changes the line bound for bytes not yet consumed by Next. A
// line already past its latch stays latched.
func (f *Framer) SetLimit(limit int) {
	f.limit = limit
}

// Feed stashes a chunk of raw bytes for framing. Any partition of the same
// byte sequence into Feed calls yields the same sequence of line events.
func (f *Framer) Feed(p []byte) {
	f.pending = append(f.pending, p...)
}

// Next consumes stashed bytes until a line completes and returns it. It
// returns false when the remaining bytes hold no complete line.
func (f *Framer) Next() (Line, bool) {
	for len(f.pending) > 0 {
		b := f.pending[0]
		f.pending = f.pending[1:]

		if f.overflow {
			if b == '\n' && f.lastCR {
				f.overflow = false
				f.lastCR = false
				return Line{Overflow: true}, true
			}
			f.lastCR = b == '\r'
			continue
		}

		if b == '\n' && len(f.buf) > 0 && f.buf[len(f.buf)-1] == '\r' {
			ln := Line{Text: f.buf[:len(f.buf)-1]}
			f.buf = nil
			return ln, true
		}

		if f.limit > 0 && len(f.buf) >= f.limit-1 {
			f.overflow = true
			f.lastCR = b == '\r'
			f.buf = nil
			continue
		}

		f.buf = append(f.buf, b)
	}
	f.pending = nil
	return Line{}, false
}
