package wire

import (
	"bytes"
	"strings"
	"testing"
)

// collect feeds input and drains every available line event.
func collect(f *Framer, input []byte) []Line {
	f.Feed(input)
	var lines []Line
	for {
		ln, ok := f.Next()
		if !ok {
			return lines
		}
		lines = append(lines, ln)
	}
}

func TestFramerLines(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"single line", "HELO host\r\n", []string{"HELO host"}},
		{"two lines", "USER bob\r\nPASS pw\r\n", []string{"USER bob", "PASS pw"}},
		{"empty line", "\r\n", []string{""}},
		{"bare LF is content", "a\nb\r\n", []string{"a\nb"}},
		{"bare CR is content", "a\rb\r\n", []string{"a\rb"}},
		{"CR CR LF keeps first CR", "a\r\r\n", []string{"a\r"}},
		{"partial line pending", "no terminator", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFramer(0)
			lines := collect(f, []byte(tt.input))
			if len(lines) != len(tt.want) {
				t.Fatalf("got %d lines, want %d", len(lines), len(tt.want))
			}
			for i, ln := range lines {
				if ln.Overflow {
					t.Errorf("line %d: unexpected overflow", i)
				}
				if got := string(ln.Text); got != tt.want[i] {
					t.Errorf("line %d = %q, want %q", i, got, tt.want[i])
				}
			}
		})
	}
}

func TestFramerChunkingIndependence(t *testing.T) {
	input := []byte("HELO host\r\nMAIL FROM:<a@x>\r\npartial\rmore\nbits\r\n")
	want := []string{"HELO host", "MAIL FROM:<a@x>", "partial\rmore\nbits"}

	feeds := map[string]func(f *Framer){
		"all at once": func(f *Framer) { f.Feed(input) },
		"byte at a time": func(f *Framer) {
			for i := range input {
				f.Feed(input[i : i+1])
			}
		},
		"split inside CRLF": func(f *Framer) {
			f.Feed(input[:10]) // ends with the CR of the first CRLF
			f.Feed(input[10:])
		},
	}

	for name, feed := range feeds {
		t.Run(name, func(t *testing.T) {
			f := NewFramer(0)
			feed(f)
			var got []string
			for {
				ln, ok := f.Next()
				if !ok {
					break
				}
				got = append(got, string(ln.Text))
			}
			if len(got) != len(want) {
				t.Fatalf("got %d lines, want %d", len(got), len(want))
			}
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("line %d = %q, want %q", i, got[i], want[i])
				}
			}
		})
	}
}

func TestFramerLimitBoundary(t *testing.T) {
	tests := []struct {
		name         string
		limit        int
		wireLen      int
		wantOverflow bool
	}{
		{"pop3 line at limit", 87, 87, false},
		{"pop3 line one over", 87, 88, true},
		{"smtp command at limit", 1000, 1000, false},
		{"smtp command one over", 1000, 1001, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFramer(tt.limit)
			// wireLen counts the CRLF.
			input := strings.Repeat("x", tt.wireLen-2) + "\r\n"
			lines := collect(f, []byte(input))
			if len(lines) != 1 {
				t.Fatalf("got %d lines, want 1", len(lines))
			}
			if lines[0].Overflow != tt.wantOverflow {
				t.Errorf("overflow = %v, want %v", lines[0].Overflow, tt.wantOverflow)
			}
			if !tt.wantOverflow {
				if got := len(lines[0].Text); got != tt.wireLen-2 {
					t.Errorf("line length = %d, want %d", got, tt.wireLen-2)
				}
			}
		})
	}
}

func TestFramerOverflowSingleEvent(t *testing.T) {
	f := NewFramer(87)
	payload := bytes.Repeat([]byte("y"), 200)
	lines := collect(f, payload)
	if len(lines) != 0 {
		t.Fatalf("got %d lines before terminator, want 0", len(lines))
	}
	lines = collect(f, []byte("\r\n"))
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want exactly 1 overflow event", len(lines))
	}
	if !lines[0].Overflow {
		t.Error("expected overflow event")
	}
}

func TestFramerRecoversAfterOverflow(t *testing.T) {
	f := NewFramer(10)
	lines := collect(f, []byte("this line is far too long\r\nok\r\n"))
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if !lines[0].Overflow {
		t.Error("first line: expected overflow")
	}
	if lines[1].Overflow {
		t.Error("second line: unexpected overflow")
	}
	if got := string(lines[1].Text); got != "ok" {
		t.Errorf("second line = %q, want %q", got, "ok")
	}
}

func TestFramerSetLimitUnbounded(t *testing.T) {
	f := NewFramer(1000)
	f.SetLimit(0)
	long := strings.Repeat("z", 5000) + "\r\n"
	lines := collect(f, []byte(long))
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0].Overflow {
		t.Error("unexpected overflow with unbounded limit")
	}
	if got := len(lines[0].Text); got != 5000 {
		t.Errorf("line length = %d, want 5000", got)
	}
}

func TestFramerOverflowTracksSplitCRLF(t *testing.T) {
	f := NewFramer(10)
	f.Feed(bytes.Repeat([]byte("a"), 50))
	f.Feed([]byte("\r"))
	f.Feed([]byte("\n"))
	ln, ok := f.Next()
	if !ok {
		t.Fatal("expected an overflow event")
	}
	if !ln.Overflow {
		t.Error("expected overflow event")
	}
}

// A limit raised between Next calls must govern bytes that were already fed
// but not yet consumed. This is what lets the SMTP engine lift the command
// bound when DATA and the message body arrive in the same chunk.
func TestFramerLimitLiftMidChunk(t *testing.T) {
	f := NewFramer(20)
	body := strings.Repeat("x", 2000)
	f.Feed([]byte("DATA\r\n" + body + "\r\n"))

	ln, ok := f.Next()
	if !ok || string(ln.Text) != "DATA" {
		t.Fatalf("first line = %q, %v; want DATA", ln.Text, ok)
	}
	f.SetLimit(0)

	ln, ok = f.Next()
	if !ok {
		t.Fatal("expected a second line")
	}
	if ln.Overflow {
		t.Fatal("long line overflowed despite lifted limit")
	}
	if got := string(ln.Text); got != body {
		t.Errorf("second line length = %d, want %d", len(got), len(body))
	}
}
