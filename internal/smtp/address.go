package smtp

import "strings"

// parsePath extracts the local part from a MAIL or RCPT argument of the form
// FROM:<local@domain> or TO:<local@domain>. The keyword is case-insensitive
// and must be followed immediately by ':' and '<', with the closing '>' as
// the last byte of the argument. The local part is everything between '<'
// and the first '@' or '>'; the domain is ignored, mailboxes are keyed by
// local part alone.
func parsePath(arg, keyword string) (string, bool) {
	n := len(keyword)
	if len(arg) < n+3 || !strings.EqualFold(arg[:n], keyword) {
		return "", false
	}
	if arg[n] != ':' || arg[n+1] != '<' || arg[len(arg)-1] != '>' {
		return "", false
	}
	addr := arg[n+2 : len(arg)-1]
	if i := strings.IndexAny(addr, "@>"); i >= 0 {
		addr = addr[:i]
	}
	return addr, true
}
