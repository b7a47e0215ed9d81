// Package unread implements the per-user offline backlog: bounded,
// time-limited redis lists which hold serialized envelopes for users with no
// live connection, plus the read-state bookkeeping for notifications.
package unread

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

const (
	// chat messages queued for an offline recipient; flushed and deleted on reconnect
	chatKeyPrefix = "chat:unread:"
	// notifications queued for an offline recipient; replayed on reconnect, removed on ack
	notifKeyPrefix = "unread:"
	// per-notification read-state hash
	notifStateKeyPrefix = "notification:"
)

// Retention bounds an unread list: keep at most MaxItems entries (newest win)
// and expire the whole list TTL after the most recent write. A zero or
// negative bound disables that trim independently of the other.
type Retention struct {
	MaxItems int
	TTL      time.Duration
}

// Queue is the offline backlog over redis. Safe for concurrent use; each
// enqueue is a single pipelined round trip so a crash cannot leave a trimmed
// list without its TTL.
type Queue struct {
	client   *redis.Client
	defaults Retention
}

func NewQueue(client *redis.Client, defaults Retention) *Queue {
	return &Queue{
		client:   client,
		defaults: defaults,
	}
}

func chatKey(userID string) string  { return chatKeyPrefix + userID }
func notifKey(userID string) string { return notifKeyPrefix + userID }

// EnqueueMessage pushes a serialized message envelope onto the user's chat
// backlog, applying the process-wide retention defaults.
func (q *Queue) EnqueueMessage(ctx context.Context, userID string, raw []byte) error {
	return q.enqueue(ctx, chatKey(userID), raw, q.defaults)
}

// EnqueueMessageRetained is EnqueueMessage with per-call retention bounds.
func (q *Queue) EnqueueMessageRetained(ctx context.Context, userID string, raw []byte, r Retention) error {
	return q.enqueue(ctx, chatKey(userID), raw, r)
}

// EnqueueNotification pushes a serialized notification onto the user's
// notification backlog, applying the process-wide retention defaults.
func (q *Queue) EnqueueNotification(ctx context.Context, userID string, raw []byte) error {
	return q.enqueue(ctx, notifKey(userID), raw, q.defaults)
}

// EnqueueNotificationRetained is EnqueueNotification with per-call retention bounds.
func (q *Queue) EnqueueNotificationRetained(ctx context.Context, userID string, raw []byte, r Retention) error {
	return q.enqueue(ctx, notifKey(userID), raw, r)
}

func (q *Queue) enqueue(ctx context.Context, key string, raw []byte, r Retention) error {
	pipe := q.client.Pipeline()
	push := pipe.LPush(ctx, key, raw)
	if r.MaxItems > 0 {
		pipe.LTrim(ctx, key, 0, int64(r.MaxItems)-1)
	}
	if r.TTL > 0 {
		pipe.Expire(ctx, key, r.TTL)
	}
	cmds, err := pipe.Exec(ctx)
	if push.Err() != nil {
		return fmt.Errorf("enqueue %s: %w", key, push.Err())
	}
	if err != nil {
		// the entry is stored; a failed trim/expire only affects backlog bookkeeping
		for _, cmd := range cmds[1:] {
			if cmd.Err() != nil {
				logger.Err(cmd.Err()).Str("key", key).Str("cmd", cmd.Name()).Msg("retention step failed")
			}
		}
	}
	return nil
}

// FlushMessages drains the user's chat backlog: it returns every entry
// head-to-tail (most-recently-enqueued first, matching list storage order)
// and deletes the list. An empty backlog returns nil.
func (q *Queue) FlushMessages(ctx context.Context, userID string) ([]string, error) {
	key := chatKey(userID)
	entries, err := q.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("flush %s: %w", key, err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	if err := q.client.Del(ctx, key).Err(); err != nil {
		return nil, fmt.Errorf("flush %s: %w", key, err)
	}
	return entries, nil
}

// Notifications returns the user's queued notifications without removing
// them; entries leave the list individually via AckNotification.
func (q *Queue) Notifications(ctx context.Context, userID string) ([]string, error) {
	return q.client.LRange(ctx, notifKey(userID), 0, -1).Result()
}

// AckNotification removes the queued notification whose `id` field matches
// notificationID and records its read-state in the per-notification hash.
func (q *Queue) AckNotification(ctx context.Context, userID, notificationID string) error {
	key := notifKey(userID)
	entries, err := q.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("ack %s: %w", key, err)
	}
	for _, entry := range entries {
		if gjson.Get(entry, "id").String() != notificationID {
			continue
		}
		if err := q.client.LRem(ctx, key, 1, entry).Err(); err != nil {
			return fmt.Errorf("ack %s: %w", key, err)
		}
		break
	}
	pipe := q.client.Pipeline()
	stateKey := notifStateKeyPrefix + notificationID
	pipe.HSet(ctx, stateKey, "read", "1")
	pipe.HSet(ctx, stateKey, "readAt", time.Now().UTC().Format(time.RFC3339))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack state %s: %w", stateKey, err)
	}
	return nil
}
