package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrSchemaExists is returned by Init when the tables are already present
// and creation was not forced.
var ErrSchemaExists = errors.New("store: schema already exists")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS mailbox (
	id   TEXT PRIMARY KEY,
	auth TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS message (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	data BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS mailbox_message (
	mailbox_id TEXT    REFERENCES mailbox (id),
	message_id INTEGER REFERENCES message (id) ON DELETE CASCADE,
	PRIMARY KEY (mailbox_id, message_id)
);
`

const (
	schemaPresentSQL = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('mailbox', 'message', 'mailbox_message')`
	createMailboxSQL = `INSERT INTO mailbox (id, auth) VALUES (?, ?)`
	listMailboxesSQL = `SELECT m.id, COUNT(mm.message_id) FROM mailbox m LEFT JOIN mailbox_message mm ON mm.mailbox_id = m.id GROUP BY m.id ORDER BY m.id`
)

// MailboxInfo describes one provisioned mailbox.
type MailboxInfo struct {
	ID       string
	Messages int64
}

// Init creates the schema. Unless force is set, finding any of the tables
// already present fails with ErrSchemaExists.
func (s *Store) Init(ctx context.Context, force bool) error {
	if !force {
		var n int
		if err := s.db.QueryRowContext(ctx, schemaPresentSQL).Scan(&n); err != nil {
			return fmt.Errorf("inspect schema: %w", err)
		}
		if n > 0 {
			return ErrSchemaExists
		}
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// CreateMailbox provisions a mailbox with its auth secret.
func (s *Store) CreateMailbox(ctx context.Context, id, auth string) error {
	if _, err := s.db.ExecContext(ctx, createMailboxSQL, id, auth); err != nil {
		return fmt.Errorf("create mailbox %q: %w", id, err)
	}
	return nil
}

// Mailboxes returns every provisioned mailbox with its message count,
// ordered by id.
func (s *Store) Mailboxes(ctx context.Context) ([]MailboxInfo, error) {
	rows, err := s.db.QueryContext(ctx, listMailboxesSQL)
	if err != nil {
		return nil, fmt.Errorf("list mailboxes: %w", err)
	}
	defer rows.Close()

	var boxes []MailboxInfo
	for rows.Next() {
		var b MailboxInfo
		if err := rows.Scan(&b.ID, &b.Messages); err != nil {
			return nil, fmt.Errorf("scan mailbox row: %w", err)
		}
		boxes = append(boxes, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list mailboxes: %w", err)
	}
	return boxes, nil
}
