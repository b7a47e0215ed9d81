package state

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Message is the canonical envelope for a chat message once it has an
// authoritative row: either direct (RecipientID set) or group-addressed
// (GroupID set). Immutable within the gateway after insertion.
type Message struct {
	ID          int64     `json:"id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id,omitempty"`
	GroupID     string    `json:"group_id,omitempty"`
	Content     string    `json:"content"`
	Attachments []string  `json:"attachments,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	// Read is meaningful for direct messages only.
	Read bool `json:"read"`
}

// MessagesTable stores chat messages, direct and group-addressed.
type MessagesTable struct {
	db *sqlx.DB
}

func NewMessagesTable(db *sqlx.DB) *MessagesTable {
	// make sure tables are made
	db.MustExec(`
	CREATE TABLE IF NOT EXISTS gateway_messages (
		id BIGSERIAL PRIMARY KEY,
		sender_id TEXT NOT NULL,
		recipient_id TEXT,
		group_id TEXT,
		content TEXT NOT NULL,
		attachments TEXT[],
		read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS gateway_messages_recipient_idx ON gateway_messages(recipient_id);
	CREATE INDEX IF NOT EXISTS gateway_messages_group_idx ON gateway_messages(group_id);
	`)
	return &MessagesTable{db}
}

// InsertDirect persists a direct message and returns the envelope with the
// authoritative id and timestamp.
func (t *MessagesTable) InsertDirect(ctx context.Context, senderID, recipientID, content string, attachments []string) (*Message, error) {
	msg := &Message{
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		Attachments: attachments,
	}
	err := t.db.QueryRowContext(ctx,
		`INSERT INTO gateway_messages(sender_id, recipient_id, content, attachments)
		VALUES($1, $2, $3, $4) RETURNING id, created_at`,
		senderID, recipientID, content, pq.Array(attachments),
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// InsertGroup persists a group message and returns the envelope with the
// authoritative id and timestamp.
func (t *MessagesTable) InsertGroup(ctx context.Context, senderID, groupID, content string, attachments []string) (*Message, error) {
	msg := &Message{
		SenderID:    senderID,
		GroupID:     groupID,
		Content:     content,
		Attachments: attachments,
	}
	err := t.db.QueryRowContext(ctx,
		`INSERT INTO gateway_messages(sender_id, group_id, content, attachments)
		VALUES($1, $2, $3, $4) RETURNING id, created_at`,
		senderID, groupID, content, pq.Array(attachments),
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// MarkRead flags a single direct message as read.
func (t *MessagesTable) MarkRead(ctx context.Context, messageID int64) error {
	_, err := t.db.ExecContext(ctx, `UPDATE gateway_messages SET read=TRUE WHERE id=$1`, messageID)
	return err
}

// MarkReadBulk flags every listed direct message addressed to recipientID as
// read in one statement. Used when an offline backlog is flushed.
func (t *MessagesTable) MarkReadBulk(ctx context.Context, recipientID string, messageIDs []int64) error {
	if len(messageIDs) == 0 {
		return nil
	}
	_, err := t.db.ExecContext(ctx,
		`UPDATE gateway_messages SET read=TRUE WHERE id = ANY($1) AND recipient_id=$2`,
		pq.Array(messageIDs), recipientID,
	)
	return err
}

// SelectMessage reads a single envelope back, mostly for tests.
func (t *MessagesTable) SelectMessage(ctx context.Context, messageID int64) (*Message, error) {
	var msg Message
	var recipientID, groupID *string
	var attachments pq.StringArray
	err := t.db.QueryRowContext(ctx,
		`SELECT id, sender_id, recipient_id, group_id, content, attachments, read, created_at
		FROM gateway_messages WHERE id=$1`, messageID,
	).Scan(&msg.ID, &msg.SenderID, &recipientID, &groupID, &msg.Content, &attachments, &msg.Read, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	if recipientID != nil {
		msg.RecipientID = *recipientID
	}
	if groupID != nil {
		msg.GroupID = *groupID
	}
	msg.Attachments = attachments
	return &msg, nil
}
