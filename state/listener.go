package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lib/pq"
	"github.com/tidwall/gjson"

	"github.com/casacora/realtime-gateway/pubsub"
)

const (
	listenerMinReconnect = 10 * time.Second
	listenerMaxReconnect = time.Minute
)

// NotificationListener subscribes to a single postgres NOTIFY channel and
// republishes each payload as a typed pubsub payload on ChanFeed. Database
// triggers produce the notifications; the gateway never writes to this channel.
type NotificationListener struct {
	channel    string
	pgListener *pq.Listener
	notifier   pubsub.Notifier
}

func NewNotificationListener(postgresURI, channel string, notifier pubsub.Notifier) *NotificationListener {
	pgl := pq.NewListener(postgresURI, listenerMinReconnect, listenerMaxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Err(err).Int("event", int(ev)).Msg("NotificationListener: connection event")
			sentry.CaptureException(err)
		}
	})
	return &NotificationListener{
		channel:    channel,
		pgListener: pgl,
		notifier:   notifier,
	}
}

// Listen blocks, converting NOTIFY payloads to pubsub payloads until Teardown
// is called. Malformed or unrecognised payloads are logged and dropped; they
// never affect other notifications.
func (l *NotificationListener) Listen() error {
	if err := l.pgListener.Listen(l.channel); err != nil {
		return fmt.Errorf("LISTEN %s: %w", l.channel, err)
	}
	logger.Info().Str("channel", l.channel).Msg("NotificationListener: listening")
	for n := range l.pgListener.Notify {
		if n == nil {
			// connection re-established, nothing to relay
			continue
		}
		p, err := ParseFeedPayload(n.Extra)
		if err != nil {
			logger.Warn().Err(err).Msg("NotificationListener: dropping payload")
			continue
		}
		if err := l.notifier.Notify(pubsub.ChanFeed, p); err != nil {
			logger.Err(err).Str("payload", p.Type()).Msg("NotificationListener: failed to publish")
			sentry.CaptureException(err)
		}
	}
	return nil
}

func (l *NotificationListener) Teardown() {
	if err := l.pgListener.Close(); err != nil {
		logger.Err(err).Msg("NotificationListener: close failed")
	}
}

// ParseFeedPayload converts one raw NOTIFY payload into its typed form,
// keyed on the `type` discriminant.
func ParseFeedPayload(raw string) (pubsub.Payload, error) {
	parsed := gjson.Parse(raw)
	switch typ := parsed.Get("type").Str; typ {
	case "new_post":
		return &pubsub.FeedNewPost{
			PostID:     parsed.Get("post.id").String(),
			AuthorName: parsed.Get("post.author.name").Str,
			Post:       json.RawMessage(parsed.Get("post").Raw),
			Followers:  stringSlice(parsed.Get("followers")),
		}, nil
	case "new_comment":
		return &pubsub.FeedNewComment{
			PostID:        parsed.Get("post_id").String(),
			CommentAuthor: parsed.Get("comment.author.id").String(),
			AuthorName:    parsed.Get("comment.author.name").Str,
			Comment:       json.RawMessage(parsed.Get("comment").Raw),
			NotifyUsers:   stringSlice(parsed.Get("notify_users")),
		}, nil
	case "like_update":
		return &pubsub.FeedLikeUpdate{
			PostID:     parsed.Get("post_id").String(),
			PostAuthor: parsed.Get("author_id").String(),
			UserID:     parsed.Get("user_id").String(),
			UserName:   parsed.Get("user_name").Str,
			Action:     parsed.Get("action").Str,
			LikesCount: parsed.Get("likes_count").Int(),
		}, nil
	case "post_deleted":
		return &pubsub.FeedPostDeleted{
			PostID: parsed.Get("post_id").String(),
		}, nil
	default:
		return nil, fmt.Errorf("unknown notification type %q", typ)
	}
}

func stringSlice(res gjson.Result) []string {
	arr := res.Array()
	if len(arr) == 0 {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		out = append(out, v.String())
	}
	return out
}
