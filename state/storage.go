package state

import (
	"context"
	"os"

	"github.com/getsentry/sentry-go"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

// Storage aggregates the relational reads and writes the gateway performs. The
// wider application owns these tables; the gateway only consumes them.
type Storage struct {
	Memberships *MembershipsTable
	Messages    *MessagesTable
	DB          *sqlx.DB
}

func NewStorage(postgresURI string) *Storage {
	db, err := sqlx.Open("postgres", postgresURI)
	if err != nil {
		sentry.CaptureException(err)
		logger.Panic().Err(err).Str("uri", postgresURI).Msg("failed to open SQL DB")
	}
	return NewStorageWithDB(db)
}

func NewStorageWithDB(db *sqlx.DB) *Storage {
	return &Storage{
		Memberships: NewMembershipsTable(db),
		Messages:    NewMessagesTable(db),
		DB:          db,
	}
}

// Delegation so callers can depend on *Storage alone.

func (s *Storage) GroupsForUser(ctx context.Context, userID string) ([]string, error) {
	return s.Memberships.GroupsForUser(ctx, userID)
}

func (s *Storage) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	return s.Memberships.GroupMembers(ctx, groupID)
}

func (s *Storage) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	return s.Memberships.IsGroupMember(ctx, groupID, userID)
}

func (s *Storage) InsertDirect(ctx context.Context, senderID, recipientID, content string, attachments []string) (*Message, error) {
	return s.Messages.InsertDirect(ctx, senderID, recipientID, content, attachments)
}

func (s *Storage) InsertGroup(ctx context.Context, senderID, groupID, content string, attachments []string) (*Message, error) {
	return s.Messages.InsertGroup(ctx, senderID, groupID, content, attachments)
}

func (s *Storage) MarkRead(ctx context.Context, messageID int64) error {
	return s.Messages.MarkRead(ctx, messageID)
}

func (s *Storage) MarkReadBulk(ctx context.Context, recipientID string, messageIDs []int64) error {
	return s.Messages.MarkReadBulk(ctx, recipientID, messageIDs)
}

func (s *Storage) Teardown() {
	err := s.DB.Close()
	if err != nil {
		panic("Storage.Teardown: " + err.Error())
	}
}
