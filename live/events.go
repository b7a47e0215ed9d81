package live

import (
	"encoding/json"
	"time"
)

// Events pushed to clients.
const (
	EventConnected       = "connected"
	EventPresence        = "presence"
	EventTypingUpdate    = "typing_update"
	EventUserTyping      = "user_typing"
	EventNewMessage      = "new_message"
	EventMessageSent     = "message_sent"
	EventMessageError    = "message_error"
	EventMessageRead     = "message_read"
	EventNotification    = "notification"
	EventJoinedGroups    = "joined_groups"
	EventError           = "error"
	EventFeedNewPost     = "feed_new_post"
	EventPostNewComment  = "post_new_comment"
	EventFeedNewComment  = "feed_new_comment"
	EventPostLikeUpdate  = "post_like_update"
	EventFeedLikeUpdate  = "feed_like_update"
	EventFeedPostDeleted = "feed_post_deleted"
)

// Events accepted from clients. This is a closed set: dispatch happens in a
// single switch in the hub so adding an event without handling it is visible.
const (
	eventJoinGroups           = "join_groups"
	eventTyping               = "typing"
	eventTypingStart          = "typing_start"
	eventTypingStop           = "typing_stop"
	eventSendMessage          = "send_message"
	eventMarkMessageRead      = "mark_message_read"
	eventMarkNotificationRead = "mark_notification_read"
	eventJoinRoom             = "join_room"
	eventLeaveRoom            = "leave_room"
)

type inboundEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type sendMessageRequest struct {
	RecipientID string   `json:"recipient_id"`
	GroupID     string   `json:"group_id"`
	Content     string   `json:"content"`
	Attachments []string `json:"attachments"`
}

type typingRequest struct {
	ResourceID string `json:"resource_id"`
}

// typingRelayRequest targets a chat conversation rather than a resource room.
type typingRelayRequest struct {
	RecipientID string `json:"recipient_id"`
	GroupID     string `json:"group_id"`
	IsTyping    bool   `json:"is_typing"`
}

type roomRequest struct {
	RoomID string `json:"room_id"`
}

type markMessageReadRequest struct {
	MessageID int64 `json:"message_id"`
}

type markNotificationReadRequest struct {
	NotificationID string `json:"notification_id"`
}

// Notification is the envelope for a non-chat push (new post, comment, like).
// It gets an ID at creation so queued copies can be acknowledged individually.
type Notification struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// marshalEvent builds the wire form {"event": ..., "data": ...}. Marshalling
// only fails for unmarshallable Go types, which is a programming error here.
func marshalEvent(event string, data any) []byte {
	b, err := json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data,omitempty"`
	}{event, data})
	if err != nil {
		panic("marshalEvent: " + err.Error())
	}
	return b
}

// Room keys. A room is addressable by a single key: a group id, a post id, or
// an identity's own id for direct addressing.
func UserRoom(userID string) string   { return "user:" + userID }
func GroupRoom(groupID string) string { return "group:" + groupID }
func PostRoom(postID string) string   { return "post:" + postID }
