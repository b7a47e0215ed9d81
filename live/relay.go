package live

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/casacora/realtime-gateway/internal"
	"github.com/casacora/realtime-gateway/pubsub"
)

// FeedRelay fans database change notifications out to live clients and queues
// notifications for the users each change concerns. Consumers only ever see
// the payload forms defined in pubsub; the raw trigger JSON never leaves the
// listener.
type FeedRelay struct {
	hub *Hub
	sub *pubsub.FeedSub
}

func NewFeedRelay(hub *Hub, listener pubsub.Listener) *FeedRelay {
	r := &FeedRelay{
		hub: hub,
	}
	r.sub = pubsub.NewFeedSub(listener, r)
	return r
}

// Listen starts consuming in a background goroutine.
func (r *FeedRelay) Listen() {
	go func() {
		defer internal.ReportPanicsToSentry()
		err := r.sub.Listen()
		if err != nil {
			logger.Err(err).Msg("feed relay: Listen failed")
		}
	}()
}

func (r *FeedRelay) Teardown() {
	r.sub.Teardown()
}

func (r *FeedRelay) OnNewPost(p *pubsub.FeedNewPost) {
	r.hub.BroadcastAll(EventFeedNewPost, map[string]any{
		"post_id": p.PostID,
		"post":    p.Post,
	})
	for _, userID := range p.Followers {
		r.notify(userID, Notification{
			Type:    "new_post",
			Title:   "New post",
			Message: p.AuthorName + " published a new post",
			Data:    map[string]any{"post_id": p.PostID},
		})
	}
}

func (r *FeedRelay) OnNewComment(p *pubsub.FeedNewComment) {
	// viewers of the post see the comment itself; everyone else just
	// learns the comment count changed
	r.hub.BroadcastRoom(PostRoom(p.PostID), EventPostNewComment, map[string]any{
		"post_id": p.PostID,
		"comment": p.Comment,
	})
	r.hub.BroadcastAll(EventFeedNewComment, map[string]any{
		"post_id": p.PostID,
	})
	for _, userID := range p.NotifyUsers {
		if userID == p.CommentAuthor {
			continue
		}
		r.notify(userID, Notification{
			Type:    "new_comment",
			Title:   "New comment",
			Message: p.AuthorName + " commented on a post",
			Data:    map[string]any{"post_id": p.PostID},
		})
	}
}

func (r *FeedRelay) OnLikeUpdate(p *pubsub.FeedLikeUpdate) {
	data := map[string]any{
		"post_id":     p.PostID,
		"user_id":     p.UserID,
		"action":      p.Action,
		"likes_count": p.LikesCount,
	}
	r.hub.BroadcastRoom(PostRoom(p.PostID), EventPostLikeUpdate, data)
	r.hub.BroadcastAll(EventFeedLikeUpdate, data)
	// only the like edge notifies, and never the author liking their own post
	if p.Action == "like" && p.PostAuthor != "" && p.PostAuthor != p.UserID {
		r.notify(p.PostAuthor, Notification{
			Type:    "new_like",
			Title:   "New like",
			Message: p.UserName + " liked your post",
			Data:    map[string]any{"post_id": p.PostID},
		})
	}
}

func (r *FeedRelay) OnPostDeleted(p *pubsub.FeedPostDeleted) {
	r.hub.BroadcastAll(EventFeedPostDeleted, map[string]any{
		"post_id": p.PostID,
	})
}

func (r *FeedRelay) notify(userID string, n Notification) {
	n.ID = uuid.NewString()
	n.CreatedAt = time.Now().UTC()
	r.hub.SendNotification(context.Background(), userID, n)
}
