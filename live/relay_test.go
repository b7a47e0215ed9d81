package live

import (
	"encoding/json"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/casacora/realtime-gateway/pubsub"
)

func newTestRelay(t *testing.T) (*Hub, *FeedRelay, *fakeQueue) {
	t.Helper()
	queue := newFakeQueue()
	h := newTestHub(newFakeStore(), queue)
	t.Cleanup(h.Teardown)
	ps := pubsub.NewPubSub(10)
	relay := NewFeedRelay(h, ps)
	t.Cleanup(relay.Teardown)
	return h, relay, queue
}

func TestRelayNewPost(t *testing.T) {
	h, relay, queue := newTestRelay(t)

	alice := connect(h, "alice")
	drainConnect(t, alice, true)

	relay.OnNewPost(&pubsub.FeedNewPost{
		PostID:     "p1",
		AuthorName: "Bob",
		Post:       json.RawMessage(`{"id":"p1","body":"hi"}`),
		Followers:  []string{"alice", "dora"},
	})

	// every live client sees the feed event
	data := expectEvent(t, alice, EventFeedNewPost)
	if data.Get("post_id").Str != "p1" || data.Get("post.body").Str != "hi" {
		t.Fatalf("feed_new_post: got %s", data.Raw)
	}
	// alice follows bob and is online: pushed directly
	data = expectEvent(t, alice, EventNotification)
	if data.Get("type").Str != "new_post" || data.Get("id").Str == "" {
		t.Fatalf("notification: got %s", data.Raw)
	}
	// dora follows bob and is offline: queued
	queued := queue.queuedNotifs("dora")
	if len(queued) != 1 {
		t.Fatalf("offline follower queue: got %v", queued)
	}
	if gjson.Get(queued[0], "type").Str != "new_post" {
		t.Fatalf("queued notification: got %s", queued[0])
	}
	if gjson.Get(queued[0], "id").Str == "" {
		t.Fatalf("queued notification has no id: %s", queued[0])
	}
}

func TestRelayNewComment(t *testing.T) {
	h, relay, _ := newTestRelay(t)

	alice := connect(h, "alice")
	drainConnect(t, alice, true)
	bob := connect(h, "bob")
	drainConnect(t, bob, true)
	expectEvent(t, alice, EventPresence)

	// alice has the post open; bob is elsewhere
	dispatch(h, alice, "join_room", `{"room_id":"post:p1"}`)

	relay.OnNewComment(&pubsub.FeedNewComment{
		PostID:        "p1",
		CommentAuthor: "bob",
		AuthorName:    "Bob",
		Comment:       json.RawMessage(`{"id":"c1","body":"nice"}`),
		NotifyUsers:   []string{"alice", "bob"},
	})

	// viewers get the comment body, everyone gets the count bump
	data := expectEvent(t, alice, EventPostNewComment)
	if data.Get("comment.id").Str != "c1" {
		t.Fatalf("post_new_comment: got %s", data.Raw)
	}
	expectEvent(t, alice, EventFeedNewComment)
	expectEvent(t, bob, EventFeedNewComment)

	// alice is notified; bob commented so he is not
	data = expectEvent(t, alice, EventNotification)
	if data.Get("type").Str != "new_comment" {
		t.Fatalf("notification: got %s", data.Raw)
	}
	expectNoEvent(t, bob)
}

func TestRelayLikeUpdate(t *testing.T) {
	h, relay, queue := newTestRelay(t)

	alice := connect(h, "alice")
	drainConnect(t, alice, true)
	dispatch(h, alice, "join_room", `{"room_id":"post:p1"}`)

	relay.OnLikeUpdate(&pubsub.FeedLikeUpdate{
		PostID:     "p1",
		PostAuthor: "dora",
		UserID:     "alice",
		UserName:   "Alice",
		Action:     "like",
		LikesCount: 3,
	})

	data := expectEvent(t, alice, EventPostLikeUpdate)
	if data.Get("likes_count").Int() != 3 || data.Get("action").Str != "like" {
		t.Fatalf("post_like_update: got %s", data.Raw)
	}
	expectEvent(t, alice, EventFeedLikeUpdate)

	// the offline author is notified of the like
	if queued := queue.queuedNotifs("dora"); len(queued) != 1 {
		t.Fatalf("author notification: got %v", queued)
	}

	// unlikes and self-likes stay silent
	relay.OnLikeUpdate(&pubsub.FeedLikeUpdate{
		PostID: "p1", PostAuthor: "dora", UserID: "alice", Action: "unlike", LikesCount: 2,
	})
	expectEvent(t, alice, EventPostLikeUpdate)
	expectEvent(t, alice, EventFeedLikeUpdate)
	if queued := queue.queuedNotifs("dora"); len(queued) != 1 {
		t.Fatalf("unlike queued a notification: %v", queued)
	}
	relay.OnLikeUpdate(&pubsub.FeedLikeUpdate{
		PostID: "p1", PostAuthor: "alice", UserID: "alice", Action: "like", LikesCount: 1,
	})
	expectEvent(t, alice, EventPostLikeUpdate)
	expectEvent(t, alice, EventFeedLikeUpdate)
	expectNoEvent(t, alice)
}

func TestRelayPostDeleted(t *testing.T) {
	h, relay, _ := newTestRelay(t)

	alice := connect(h, "alice")
	drainConnect(t, alice, true)

	relay.OnPostDeleted(&pubsub.FeedPostDeleted{PostID: "p1"})
	data := expectEvent(t, alice, EventFeedPostDeleted)
	if data.Get("post_id").Str != "p1" {
		t.Fatalf("feed_post_deleted: got %s", data.Raw)
	}
}

// End-to-end through the in-process pubsub: payloads published on the feed
// channel reach clients once Listen is running.
func TestRelayViaPubSub(t *testing.T) {
	queue := newFakeQueue()
	h := newTestHub(newFakeStore(), queue)
	t.Cleanup(h.Teardown)
	ps := pubsub.NewPubSub(10)
	relay := NewFeedRelay(h, ps)
	t.Cleanup(relay.Teardown)
	relay.Listen()

	alice := connect(h, "alice")
	drainConnect(t, alice, true)

	if err := ps.Notify(pubsub.ChanFeed, &pubsub.FeedPostDeleted{PostID: "p9"}); err != nil {
		t.Fatalf("Notify: %s", err)
	}
	data := expectEvent(t, alice, EventFeedPostDeleted)
	if data.Get("post_id").Str != "p9" {
		t.Fatalf("feed_post_deleted: got %s", data.Raw)
	}
}
