// Package store persists mailboxes and messages in a SQLite database.
//
// All access goes through a single pooled connection so that concurrent
// sessions are serialized by the store itself and the foreign-key pragma
// stays in force for the life of the process.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a message is not reachable through the
// requested mailbox.
var ErrNotFound = errors.New("store: message not found")

const (
	mailboxExistsSQL = `SELECT EXISTS (SELECT 1 FROM mailbox WHERE id = ?)`
	checkLoginSQL    = `SELECT EXISTS (SELECT 1 FROM mailbox WHERE id = ? AND auth = ?)`
	listMessagesSQL  = `SELECT b.id, LENGTH(b.data) FROM mailbox_message a INNER JOIN message b ON a.message_id = b.id WHERE a.mailbox_id = ? ORDER BY b.id`
	fetchMessageSQL  = `SELECT b.data FROM mailbox_message a INNER JOIN message b ON a.message_id = b.id WHERE a.mailbox_id = ? AND a.message_id = ?`

	insertMessageSQL    = `INSERT INTO message (data) VALUES (?)`
	insertMembershipSQL = `INSERT INTO mailbox_message (mailbox_id, message_id) VALUES (?, ?)`
	deleteMembershipSQL = `DELETE FROM mailbox_message WHERE mailbox_id = ? AND message_id = ?`
)

// MessageInfo describes one message reachable through a mailbox.
type MessageInfo struct {
	ID   int64
	Size int64
}

// Store wraps the SQLite database and its prepared statements.
type Store struct {
	db *sql.DB

	mailboxExists *sql.Stmt
	checkLogin    *sql.Stmt
	listMessages  *sql.Stmt
	fetchMessage  *sql.Stmt
}

// Open opens an existing store file. A missing file is an error; schema
// creation is the admin tool's job.
func Open(ctx context.Context, path string) (*Store, error) {
	return open(ctx, path, false)
}

// Create opens a store file, creating it if absent. Used by provisioning.
func Create(ctx context.Context, path string) (*Store, error) {
	return open(ctx, path, true)
}

func open(ctx context.Context, path string, create bool) (*Store, error) {
	mode := "rw"
	if create {
		mode = "rwc"
	}
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=%s", path, mode))
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}

	// One connection serializes all store access and carries the pragma.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	for _, p := range []struct {
		stmt **sql.Stmt
		sql  string
	}{
		{&s.mailboxExists, mailboxExistsSQL},
		{&s.checkLogin, checkLoginSQL},
		{&s.listMessages, listMessagesSQL},
		{&s.fetchMessage, fetchMessageSQL},
	} {
		*p.stmt, err = db.PrepareContext(ctx, p.sql)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("prepare %q: %w", p.sql, err)
		}
	}

	return s, nil
}

// MailboxExists reports whether a mailbox with the given id is present.
func (s *Store) MailboxExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := s.mailboxExists.QueryRowContext(ctx, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check mailbox %q: %w", id, err)
	}
	return exists, nil
}

// CheckLogin reports whether the mailbox exists and its auth secret matches.
func (s *Store) CheckLogin(ctx context.Context, id, secret string) (bool, error) {
	var ok bool
	if err := s.checkLogin.QueryRowContext(ctx, id, secret).Scan(&ok); err != nil {
		return false, fmt.Errorf("check login %q: %w", id, err)
	}
	return ok, nil
}

// ListMessages returns the messages reachable through the mailbox in
// ascending message-id order.
func (s *Store) ListMessages(ctx context.Context, mailboxID string) ([]MessageInfo, error) {
	rows, err := s.listMessages.QueryContext(ctx, mailboxID)
	if err != nil {
		return nil, fmt.Errorf("list messages for %q: %w", mailboxID, err)
	}
	defer rows.Close()

	var msgs []MessageInfo
	for rows.Next() {
		var m MessageInfo
		if err := rows.Scan(&m.ID, &m.Size); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages for %q: %w", mailboxID, err)
	}
	return msgs, nil
}

// FetchMessage returns the raw body of a message reachable through the
// mailbox, or ErrNotFound if no such membership exists.
func (s *Store) FetchMessage(ctx context.Context, mailboxID string, messageID int64) ([]byte, error) {
	var data []byte
	err := s.fetchMessage.QueryRowContext(ctx, mailboxID, messageID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch message %d for %q: %w", messageID, mailboxID, err)
	}
	return data, nil
}

// InsertMessage stores one message body and links it to every recipient in
// a single transaction. On any failure nothing persists. Returns the new
// message id.
func (s *Store) InsertMessage(ctx context.Context, body []byte, recipients []string) (int64, error) {
	if body == nil {
		body = []byte{}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delivery: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, insertMessageSQL, body)
	if err != nil {
		return 0, fmt.Errorf("insert message body: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("message id: %w", err)
	}

	for _, rcpt := range recipients {
		if _, err := tx.ExecContext(ctx, insertMembershipSQL, rcpt, id); err != nil {
			return 0, fmt.Errorf("insert membership for %q: %w", rcpt, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delivery: %w", err)
	}
	return id, nil
}

// DeleteMemberships unlinks the given messages from the mailbox in a single
// transaction. Message rows without remaining memberships become
// unreachable.
func (s *Store) DeleteMemberships(ctx context.Context, mailboxID string, messageIDs []int64) error {
	if len(messageIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	for _, id := range messageIDs {
		if _, err := tx.ExecContext(ctx, deleteMembershipSQL, mailboxID, id); err != nil {
			return fmt.Errorf("delete membership %d for %q: %w", id, mailboxID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// Close releases the prepared statements and the database handle.
func (s *Store) Close() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{s.mailboxExists, s.checkLogin, s.listMessages, s.fetchMessage} {
		if stmt != nil {
			errs = append(errs, stmt.Close())
		}
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}
