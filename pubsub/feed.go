package pubsub

import "encoding/json"

// The channel which has Feed* payloads, i.e database-originated change events.
const ChanFeed = "feedch"

// FeedListener is implemented by whoever wants to react to database change
// notifications. One method per payload so additions fail to compile rather
// than silently dropping events.
type FeedListener interface {
	OnNewPost(p *FeedNewPost)
	OnNewComment(p *FeedNewComment)
	OnLikeUpdate(p *FeedLikeUpdate)
	OnPostDeleted(p *FeedPostDeleted)
}

type FeedNewPost struct {
	PostID     string
	AuthorName string
	// The full post row as published by the trigger; relayed verbatim.
	Post json.RawMessage
	// Optional: users to push a notification to.
	Followers []string
}

func (f FeedNewPost) Type() string { return "new_post" }

type FeedNewComment struct {
	PostID        string
	CommentAuthor string // user ID of the commenter
	AuthorName    string
	Comment       json.RawMessage
	// Optional: the post author plus prior commenters.
	NotifyUsers []string
}

func (f FeedNewComment) Type() string { return "new_comment" }

type FeedLikeUpdate struct {
	PostID     string
	PostAuthor string // user ID of the post author
	UserID     string // user ID of the actor
	UserName   string
	Action     string // "like" or "unlike"
	LikesCount int64
}

func (f FeedLikeUpdate) Type() string { return "like_update" }

type FeedPostDeleted struct {
	PostID string
}

func (f FeedPostDeleted) Type() string { return "post_deleted" }

// FeedSub is a thin subscriber which fans Feed* payloads out to a FeedListener.
type FeedSub struct {
	listener Listener
	receiver FeedListener
}

func NewFeedSub(l Listener, recv FeedListener) *FeedSub {
	return &FeedSub{
		listener: l,
		receiver: recv,
	}
}

func (s *FeedSub) Teardown() {
	s.listener.Close()
}

func (s *FeedSub) onMessage(p Payload) {
	switch pl := p.(type) {
	case *FeedNewPost:
		s.receiver.OnNewPost(pl)
	case *FeedNewComment:
		s.receiver.OnNewComment(pl)
	case *FeedLikeUpdate:
		s.receiver.OnLikeUpdate(pl)
	case *FeedPostDeleted:
		s.receiver.OnPostDeleted(pl)
	}
}

func (s *FeedSub) Listen() error {
	return s.listener.Listen(ChanFeed, s.onMessage)
}
