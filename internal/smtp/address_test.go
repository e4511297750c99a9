package smtp

import "testing"

func TestParsePath(t *testing.T) {
	tests := []struct {
		name      string
		arg       string
		keyword   string
		wantLocal string
		wantOK    bool
	}{
		{"plain address", "FROM:<alice@example.com>", "FROM", "alice", true},
		{"lowercase keyword", "from:<alice@example.com>", "FROM", "alice", true},
		{"mixed case keyword", "From:<alice@example.com>", "FROM", "alice", true},
		{"TO keyword", "TO:<bob@example.com>", "TO", "bob", true},
		{"no domain", "FROM:<alice>", "FROM", "alice", true},
		{"empty path", "FROM:<>", "FROM", "", true},
		{"empty local with domain", "FROM:<@example.com>", "FROM", "", true},
		{"second at sign ignored", "FROM:<a@b@c>", "FROM", "a", true},
		{"inner closing bracket stops the scan", "FROM:<a>b>", "FROM", "a", true},
		{"wrong keyword", "TO:<alice@example.com>", "FROM", "", false},
		{"missing colon", "FROM<alice@example.com>", "FROM", "", false},
		{"space before bracket", "FROM: <alice@example.com>", "FROM", "", false},
		{"missing opening bracket", "FROM:alice@example.com>", "FROM", "", false},
		{"missing closing bracket", "FROM:<alice@example.com", "FROM", "", false},
		{"trailing text", "FROM:<alice@example.com> SIZE=1", "FROM", "", false},
		{"keyword only", "FROM:", "FROM", "", false},
		{"too short", "F", "FROM", "", false},
		{"empty argument", "", "FROM", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local, ok := parsePath(tt.arg, tt.keyword)
			if ok != tt.wantOK {
				t.Fatalf("parsePath(%q, %q) ok = %v, want %v", tt.arg, tt.keyword, ok, tt.wantOK)
			}
			if local != tt.wantLocal {
				t.Errorf("parsePath(%q, %q) = %q, want %q", tt.arg, tt.keyword, local, tt.wantLocal)
			}
		})
	}
}
