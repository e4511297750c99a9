package store

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mail.db")
	s, err := Create(context.Background(), path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Init(context.Background(), false); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Logf("Close: %v", err)
		}
	})
	return s
}

func mustAddMailbox(t *testing.T, s *Store, id, auth string) {
	t.Helper()
	if err := s.CreateMailbox(context.Background(), id, auth); err != nil {
		t.Fatalf("CreateMailbox(%q): %v", id, err)
	}
}

func countRows(t *testing.T, s *Store, table string) int64 {
	t.Helper()
	var n int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestOpenMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.db")
	s, err := Open(context.Background(), path)
	if err == nil {
		s.Close()
		t.Fatal("Open on a missing file should fail")
	}
}

func TestInitTwice(t *testing.T) {
	s := newTestStore(t)

	err := s.Init(context.Background(), false)
	if !errors.Is(err, ErrSchemaExists) {
		t.Errorf("second Init error = %v, want ErrSchemaExists", err)
	}
	if err := s.Init(context.Background(), true); err != nil {
		t.Errorf("forced Init: %v", err)
	}
}

func TestMailboxExistsAndLogin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustAddMailbox(t, s, "alice", "pw")

	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"present", "alice", true},
		{"absent", "ghost", false},
		{"empty id", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.MailboxExists(ctx, tt.id)
			if err != nil {
				t.Fatalf("MailboxExists: %v", err)
			}
			if got != tt.want {
				t.Errorf("MailboxExists(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}

	logins := []struct {
		name   string
		id, pw string
		want   bool
	}{
		{"good login", "alice", "pw", true},
		{"wrong secret", "alice", "nope", false},
		{"unknown mailbox", "ghost", "pw", false},
	}
	for _, tt := range logins {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.CheckLogin(ctx, tt.id, tt.pw)
			if err != nil {
				t.Fatalf("CheckLogin: %v", err)
			}
			if got != tt.want {
				t.Errorf("CheckLogin(%q, %q) = %v, want %v", tt.id, tt.pw, got, tt.want)
			}
		})
	}
}

func TestInsertMessageFanOut(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustAddMailbox(t, s, "alice", "pw")
	mustAddMailbox(t, s, "bob", "pw")

	body := []byte("hi\r\n")
	id, err := s.InsertMessage(ctx, body, []string{"alice", "bob"})
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	for _, box := range []string{"alice", "bob"} {
		msgs, err := s.ListMessages(ctx, box)
		if err != nil {
			t.Fatalf("ListMessages(%q): %v", box, err)
		}
		if len(msgs) != 1 {
			t.Fatalf("ListMessages(%q) = %d messages, want 1", box, len(msgs))
		}
		if msgs[0].ID != id {
			t.Errorf("message id = %d, want %d", msgs[0].ID, id)
		}
		if msgs[0].Size != int64(len(body)) {
			t.Errorf("message size = %d, want %d", msgs[0].Size, len(body))
		}
	}

	if got := countRows(t, s, "mailbox_message"); got != 2 {
		t.Errorf("membership rows = %d, want 2", got)
	}
}

func TestInsertMessageRollbackOnUnknownRecipient(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustAddMailbox(t, s, "alice", "pw")

	_, err := s.InsertMessage(ctx, []byte("body\r\n"), []string{"alice", "ghost"})
	if err == nil {
		t.Fatal("InsertMessage with an unknown recipient should fail")
	}

	if got := countRows(t, s, "message"); got != 0 {
		t.Errorf("message rows after rollback = %d, want 0", got)
	}
	if got := countRows(t, s, "mailbox_message"); got != 0 {
		t.Errorf("membership rows after rollback = %d, want 0", got)
	}
}

func TestInsertMessageRollbackOnDuplicateRecipient(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustAddMailbox(t, s, "alice", "pw")

	_, err := s.InsertMessage(ctx, []byte("body\r\n"), []string{"alice", "alice"})
	if err == nil {
		t.Fatal("InsertMessage with duplicate recipients should fail")
	}
	if got := countRows(t, s, "message"); got != 0 {
		t.Errorf("message rows after rollback = %d, want 0", got)
	}
}

func TestInsertMessagePreservesBytes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustAddMailbox(t, s, "alice", "pw")

	tests := []struct {
		name string
		body []byte
	}{
		{"empty body", []byte{}},
		{"nul bytes preserved", []byte("a\x00b\r\n")},
		{"plain body", []byte("hello\r\nworld\r\n")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := s.InsertMessage(ctx, tt.body, []string{"alice"})
			if err != nil {
				t.Fatalf("InsertMessage: %v", err)
			}
			got, err := s.FetchMessage(ctx, "alice", id)
			if err != nil {
				t.Fatalf("FetchMessage: %v", err)
			}
			if !bytes.Equal(got, tt.body) {
				t.Errorf("FetchMessage = %q, want %q", got, tt.body)
			}
		})
	}
}

func TestFetchMessageNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustAddMailbox(t, s, "alice", "pw")
	mustAddMailbox(t, s, "bob", "pw")

	id, err := s.InsertMessage(ctx, []byte("hi\r\n"), []string{"alice"})
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	if _, err := s.FetchMessage(ctx, "alice", id+1); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id error = %v, want ErrNotFound", err)
	}
	// bob holds no membership for alice's message.
	if _, err := s.FetchMessage(ctx, "bob", id); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign mailbox error = %v, want ErrNotFound", err)
	}
}

func TestDeleteMemberships(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustAddMailbox(t, s, "alice", "pw")
	mustAddMailbox(t, s, "bob", "pw")

	shared, err := s.InsertMessage(ctx, []byte("shared\r\n"), []string{"alice", "bob"})
	if err != nil {
		t.Fatalf("InsertMessage shared: %v", err)
	}
	solo, err := s.InsertMessage(ctx, []byte("solo\r\n"), []string{"bob"})
	if err != nil {
		t.Fatalf("InsertMessage solo: %v", err)
	}

	if err := s.DeleteMemberships(ctx, "bob", []int64{shared, solo}); err != nil {
		t.Fatalf("DeleteMemberships: %v", err)
	}

	msgs, err := s.ListMessages(ctx, "bob")
	if err != nil {
		t.Fatalf("ListMessages(bob): %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("bob still sees %d messages, want 0", len(msgs))
	}

	// The shared body stays reachable through alice.
	if _, err := s.FetchMessage(ctx, "alice", shared); err != nil {
		t.Errorf("alice lost the shared message: %v", err)
	}
	// The solo body is unreachable through every mailbox.
	if _, err := s.FetchMessage(ctx, "bob", solo); !errors.Is(err, ErrNotFound) {
		t.Errorf("solo fetch error = %v, want ErrNotFound", err)
	}
}

func TestDeleteMembershipsEmpty(t *testing.T) {
	s := newTestStore(t)
	if err := s.DeleteMemberships(context.Background(), "alice", nil); err != nil {
		t.Errorf("empty delete should be a no-op, got %v", err)
	}
}

func TestListMessagesOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustAddMailbox(t, s, "alice", "pw")

	var ids []int64
	for _, body := range []string{"one\r\n", "two\r\n", "three\r\n"} {
		id, err := s.InsertMessage(ctx, []byte(body), []string{"alice"})
		if err != nil {
			t.Fatalf("InsertMessage: %v", err)
		}
		ids = append(ids, id)
	}

	msgs, err := s.ListMessages(ctx, "alice")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != len(ids) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(ids))
	}
	for i, m := range msgs {
		if m.ID != ids[i] {
			t.Errorf("position %d: id = %d, want %d (ascending order)", i, m.ID, ids[i])
		}
	}
}

func TestMailboxesListing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustAddMailbox(t, s, "bob", "pw")
	mustAddMailbox(t, s, "alice", "pw")

	if _, err := s.InsertMessage(ctx, []byte("hi\r\n"), []string{"alice"}); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	boxes, err := s.Mailboxes(ctx)
	if err != nil {
		t.Fatalf("Mailboxes: %v", err)
	}
	if len(boxes) != 2 {
		t.Fatalf("got %d mailboxes, want 2", len(boxes))
	}
	if boxes[0].ID != "alice" || boxes[1].ID != "bob" {
		t.Errorf("order = [%s %s], want [alice bob]", boxes[0].ID, boxes[1].ID)
	}
	if boxes[0].Messages != 1 {
		t.Errorf("alice message count = %d, want 1", boxes[0].Messages)
	}
	if boxes[1].Messages != 0 {
		t.Errorf("bob message count = %d, want 0", boxes[1].Messages)
	}
}

func TestCreateMailboxDuplicate(t *testing.T) {
	s := newTestStore(t)
	mustAddMailbox(t, s, "alice", "pw")
	if err := s.CreateMailbox(context.Background(), "alice", "other"); err == nil {
		t.Error("duplicate CreateMailbox should fail")
	}
}
