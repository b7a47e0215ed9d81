// Package live implements the realtime gateway core: the authentication gate,
// presence registry, room tracking, typing state, message delivery pipeline
// and the feed relay, all behind a single websocket endpoint.
package live

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/casacora/realtime-gateway/internal"
	"github.com/casacora/realtime-gateway/state"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

// Store is the slice of the relational layer the gateway consumes.
// *state.Storage satisfies it.
type Store interface {
	GroupsForUser(ctx context.Context, userID string) ([]string, error)
	GroupMembers(ctx context.Context, groupID string) ([]string, error)
	IsGroupMember(ctx context.Context, groupID, userID string) (bool, error)
	InsertDirect(ctx context.Context, senderID, recipientID, content string, attachments []string) (*state.Message, error)
	InsertGroup(ctx context.Context, senderID, groupID, content string, attachments []string) (*state.Message, error)
	MarkRead(ctx context.Context, messageID int64) error
	MarkReadBulk(ctx context.Context, recipientID string, messageIDs []int64) error
}

// OfflineQueue is the per-user backlog used when direct delivery is
// impossible. *unread.Queue satisfies it.
type OfflineQueue interface {
	EnqueueMessage(ctx context.Context, userID string, raw []byte) error
	EnqueueNotification(ctx context.Context, userID string, raw []byte) error
	FlushMessages(ctx context.Context, userID string) ([]string, error)
	Notifications(ctx context.Context, userID string) ([]string, error)
	AckNotification(ctx context.Context, userID, notificationID string) error
}

type HubOpts struct {
	// Zero means DefaultTypingTimeout.
	TypingTimeout    time.Duration
	EnablePrometheus bool
}

// Hub owns every live connection and routes all realtime traffic between
// them, the relational store and the offline queue. It is the http.Handler
// for the websocket endpoint.
type Hub struct {
	auth  *Authenticator
	store Store
	queue OfflineQueue

	presence *Presence
	rooms    *RoomTracker
	typing   *TypingTracker
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*Conn // conn ID -> conn

	numConns  prometheus.Gauge
	delivered *prometheus.CounterVec
}

func NewHub(auth *Authenticator, store Store, queue OfflineQueue, opts HubOpts) *Hub {
	h := &Hub{
		auth:     auth,
		store:    store,
		queue:    queue,
		presence: NewPresence(),
		rooms:    NewRoomTracker(),
		conns:    make(map[string]*Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	timeout := opts.TypingTimeout
	if timeout == 0 {
		timeout = DefaultTypingTimeout
	}
	h.typing = NewTypingTracker(timeout, h.onTypingExpired)
	if opts.EnablePrometheus {
		h.addPrometheusMetrics()
	}
	return h
}

func (h *Hub) addPrometheusMetrics() {
	h.numConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "realtime_gateway",
		Subsystem: "live",
		Name:      "num_connections",
		Help:      "Number of live websocket connections",
	})
	h.delivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "realtime_gateway",
		Subsystem: "live",
		Name:      "envelopes_delivered",
		Help:      "Number of envelopes fanned out, by outcome",
	}, []string{"outcome"})
	prometheus.MustRegister(h.numConns, h.delivered)
}

func (h *Hub) Teardown() {
	h.typing.Close()
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
	if h.numConns != nil {
		prometheus.Unregister(h.numConns)
	}
	if h.delivered != nil {
		prometheus.Unregister(h.delivered)
	}
}

// ServeHTTP is the authentication gate plus upgrade. A missing or invalid
// credential refuses the connection before any state is created.
func (h *Hub) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	identity, err := h.auth.Authenticate(TokenFromRequest(req))
	if err != nil {
		herr := &internal.HandlerError{
			StatusCode: 401,
			Err:        err,
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(herr.StatusCode)
		w.Write(herr.JSON())
		return
	}
	ws, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		logger.Err(err).Str("user", identity.ID).Msg("websocket upgrade failed")
		return
	}
	conn := newConn(ws, *identity)
	go conn.writePump()
	h.register(conn)
	go conn.readPump(h)
}

func (h *Hub) register(conn *Conn) {
	h.mu.Lock()
	_, exists := h.conns[conn.ID]
	h.conns[conn.ID] = conn
	h.mu.Unlock()
	internal.Assert("connection IDs are unique", !exists)
	if h.numConns != nil {
		h.numConns.Inc()
	}

	userID := conn.UserID()
	h.rooms.JoinRoom(conn.ID, UserRoom(userID))
	if first := h.presence.Register(userID, conn.ID); first {
		h.BroadcastAll(EventPresence, map[string]string{"user_id": userID, "status": "online"})
	}
	conn.trySend(marshalEvent(EventConnected, conn.user))
	h.flushUnread(context.Background(), conn)
	logger.Info().Str("user", userID).Str("conn", conn.ID).Msg("connected")
}

func (h *Hub) unregister(conn *Conn) {
	h.mu.Lock()
	if _, ok := h.conns[conn.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, conn.ID)
	h.mu.Unlock()
	if h.numConns != nil {
		h.numConns.Dec()
	}

	userID := conn.UserID()
	h.rooms.RemoveConn(conn.ID)
	for _, resourceID := range h.typing.StopAll(userID) {
		h.broadcastTyping(resourceID, conn.user, "stopped", conn.ID)
	}
	if last := h.presence.Unregister(userID, conn.ID); last {
		h.BroadcastAll(EventPresence, map[string]string{"user_id": userID, "status": "offline"})
	}
	logger.Info().Str("user", userID).Str("conn", conn.ID).Msg("disconnected")
}

// IsOnline reports whether the identity owns at least one live connection.
func (h *Hub) IsOnline(userID string) bool {
	return h.presence.IsOnline(userID)
}

func (h *Hub) conn(connID string) *Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[connID]
}

// dispatch routes one inbound frame. Handlers run on the connection's read
// goroutine; anything shared is guarded by the owning service.
func (h *Hub) dispatch(conn *Conn, payload []byte) {
	var ev inboundEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		conn.trySend(marshalEvent(EventError, map[string]string{"message": "malformed event"}))
		return
	}
	ctx := context.Background()
	switch ev.Event {
	case eventJoinGroups:
		h.onJoinGroups(ctx, conn)
	case eventTyping:
		var req typingRelayRequest
		if h.decode(conn, ev.Data, &req) {
			h.onTypingRelay(conn, req)
		}
	case eventTypingStart:
		var req typingRequest
		if h.decode(conn, ev.Data, &req) {
			h.onTypingStart(conn, req.ResourceID)
		}
	case eventTypingStop:
		var req typingRequest
		if h.decode(conn, ev.Data, &req) {
			h.onTypingStop(conn, req.ResourceID)
		}
	case eventSendMessage:
		var req sendMessageRequest
		if h.decode(conn, ev.Data, &req) {
			h.onSendMessage(ctx, conn, req)
		}
	case eventMarkMessageRead:
		var req markMessageReadRequest
		if h.decode(conn, ev.Data, &req) {
			h.onMarkMessageRead(ctx, conn, req.MessageID)
		}
	case eventMarkNotificationRead:
		var req markNotificationReadRequest
		if h.decode(conn, ev.Data, &req) {
			h.onMarkNotificationRead(ctx, conn, req.NotificationID)
		}
	case eventJoinRoom:
		var req roomRequest
		if h.decode(conn, ev.Data, &req) {
			h.onJoinRoom(conn, req.RoomID)
		}
	case eventLeaveRoom:
		var req roomRequest
		if h.decode(conn, ev.Data, &req) {
			h.rooms.LeaveRoom(conn.ID, req.RoomID)
		}
	default:
		conn.trySend(marshalEvent(EventError, map[string]string{"message": "unknown event: " + ev.Event}))
	}
}

func (h *Hub) decode(conn *Conn, data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		conn.trySend(marshalEvent(EventError, map[string]string{"message": "malformed event"}))
		return false
	}
	return true
}

// onJoinGroups resolves the identity's group memberships and joins the
// connection to one room per group. A failed query acks {ok:false} without
// dropping the connection.
func (h *Hub) onJoinGroups(ctx context.Context, conn *Conn) {
	groupIDs, err := h.store.GroupsForUser(ctx, conn.UserID())
	if err != nil {
		logger.Err(err).Str("user", conn.UserID()).Msg("failed to resolve group memberships")
		conn.trySend(marshalEvent(EventJoinedGroups, map[string]any{"ok": false}))
		return
	}
	for _, groupID := range groupIDs {
		h.rooms.JoinRoom(conn.ID, GroupRoom(groupID))
	}
	conn.trySend(marshalEvent(EventJoinedGroups, map[string]any{"ok": true, "groups": groupIDs}))
}

// onJoinRoom handles explicit room joins. Only post rooms may be joined this
// way; user and group rooms are assigned by the gateway.
func (h *Hub) onJoinRoom(conn *Conn, roomID string) {
	if !strings.HasPrefix(roomID, "post:") {
		conn.trySend(marshalEvent(EventError, map[string]string{"message": "cannot join room: " + roomID}))
		return
	}
	h.rooms.JoinRoom(conn.ID, roomID)
}

func (h *Hub) onTypingStart(conn *Conn, resourceID string) {
	if resourceID == "" {
		return
	}
	if h.typing.Start(resourceID, conn.UserID()) {
		h.broadcastTyping(resourceID, conn.user, "typing", conn.ID)
	}
}

func (h *Hub) onTypingStop(conn *Conn, resourceID string) {
	if h.typing.Stop(resourceID, conn.UserID()) {
		h.broadcastTyping(resourceID, conn.user, "stopped", conn.ID)
	}
}

// onTypingExpired fires from the typing tracker when an entry times out
// without an explicit stop. There is no single conn to exclude, so every
// connection owned by the typist is filtered out instead.
func (h *Hub) onTypingExpired(resourceID, userID string) {
	connIDs := h.rooms.ConnsForRoom(resourceID, func(connID string) bool {
		c := h.conn(connID)
		return c != nil && c.UserID() != userID
	})
	h.sendToConns(connIDs, EventTypingUpdate, map[string]any{
		"resource_id": resourceID,
		"user":        Identity{ID: userID},
		"status":      "stopped",
	})
}

// onTypingRelay is the stateless typing signal for chat conversations: no
// debounce, no expiry, just a relay to the destination room. The post typing
// state machine is separate.
func (h *Hub) onTypingRelay(conn *Conn, req typingRelayRequest) {
	data := map[string]any{
		"user":      conn.user,
		"is_typing": req.IsTyping,
	}
	switch {
	case req.GroupID != "":
		data["group_id"] = req.GroupID
		h.broadcastRoom(GroupRoom(req.GroupID), EventUserTyping, data, conn.ID)
	case req.RecipientID != "":
		h.broadcastRoom(UserRoom(req.RecipientID), EventUserTyping, data, conn.ID)
	}
}

func (h *Hub) broadcastTyping(resourceID string, user Identity, status, exceptConnID string) {
	h.broadcastRoom(resourceID, EventTypingUpdate, map[string]any{
		"resource_id": resourceID,
		"user":        user,
		"status":      status,
	}, exceptConnID)
}

// onSendMessage is the message delivery pipeline: validate, persist, fan out,
// acknowledge. Failures before persistence abort visibly; failures after
// persistence are logged and the sender still gets message_sent.
func (h *Hub) onSendMessage(ctx context.Context, conn *Conn, req sendMessageRequest) {
	content := strings.TrimSpace(req.Content)
	if content == "" || (req.RecipientID == "" && req.GroupID == "") {
		h.sendMessageError(conn, "content and a recipient or group are required")
		return
	}

	if req.GroupID != "" {
		h.sendGroupMessage(ctx, conn, req.GroupID, content, req.Attachments)
		return
	}
	h.sendDirectMessage(ctx, conn, req.RecipientID, content, req.Attachments)
}

func (h *Hub) sendDirectMessage(ctx context.Context, conn *Conn, recipientID, content string, attachments []string) {
	msg, err := h.store.InsertDirect(ctx, conn.UserID(), recipientID, content, attachments)
	if err != nil {
		logger.Err(err).Str("user", conn.UserID()).Msg("failed to persist direct message")
		internal.GetSentryHubFromContextOrDefault(ctx).CaptureException(err)
		h.sendMessageError(conn, "failed to send message")
		return
	}
	h.deliverToUser(ctx, recipientID, msg)
	conn.trySend(marshalEvent(EventMessageSent, msg))
}

func (h *Hub) sendGroupMessage(ctx context.Context, conn *Conn, groupID, content string, attachments []string) {
	senderID := conn.UserID()
	isMember, err := h.store.IsGroupMember(ctx, groupID, senderID)
	if err != nil {
		logger.Err(err).Str("group", groupID).Msg("failed to verify group membership")
		h.sendMessageError(conn, "failed to verify group membership")
		return
	}
	if !isMember {
		h.sendMessageError(conn, "you are not a member of this group")
		return
	}

	msg, err := h.store.InsertGroup(ctx, senderID, groupID, content, attachments)
	if err != nil {
		logger.Err(err).Str("group", groupID).Msg("failed to persist group message")
		internal.GetSentryHubFromContextOrDefault(ctx).CaptureException(err)
		h.sendMessageError(conn, "failed to send message")
		return
	}

	// the message is durable: everything below is best-effort.
	// Each online member is reached through their identity room as well as
	// the group room, so membership alone is enough to receive the message;
	// conns already joined to the group room are excluded from the identity
	// leg to keep delivery exactly-once. Offline members get a queued copy.
	groupRoom := GroupRoom(groupID)
	memberIDs, err := h.store.GroupMembers(ctx, groupID)
	if err != nil {
		logger.Err(err).Str("group", groupID).Msg("failed to resolve group members for fan-out")
	}
	for _, memberID := range memberIDs {
		if memberID == senderID {
			continue
		}
		if !h.presence.IsOnline(memberID) {
			h.queueMessage(ctx, memberID, msg)
			continue
		}
		connIDs := h.rooms.ConnsForRoom(UserRoom(memberID), func(connID string) bool {
			return !h.rooms.IsJoined(connID, groupRoom)
		})
		h.sendToConns(connIDs, EventNewMessage, msg)
	}
	h.broadcastRoom(groupRoom, EventNewMessage, msg, "")
	h.countDelivery("live")
	conn.trySend(marshalEvent(EventMessageSent, msg))
}

// deliverToUser routes one envelope to a single recipient: broadcast to the
// identity room when online, otherwise onto the offline queue.
func (h *Hub) deliverToUser(ctx context.Context, userID string, msg *state.Message) {
	if h.presence.IsOnline(userID) {
		h.broadcastRoom(UserRoom(userID), EventNewMessage, msg, "")
		h.countDelivery("live")
		return
	}
	h.queueMessage(ctx, userID, msg)
}

func (h *Hub) queueMessage(ctx context.Context, userID string, msg *state.Message) {
	raw, err := json.Marshal(msg)
	if err != nil {
		logger.Err(err).Int64("message", msg.ID).Msg("failed to serialize envelope for queueing")
		return
	}
	if err := h.queue.EnqueueMessage(ctx, userID, raw); err != nil {
		logger.Err(err).Str("user", userID).Int64("message", msg.ID).Msg("failed to queue offline message")
		internal.GetSentryHubFromContextOrDefault(ctx).CaptureException(err)
		return
	}
	h.countDelivery("queued")
}

func (h *Hub) sendMessageError(conn *Conn, message string) {
	conn.trySend(marshalEvent(EventMessageError, map[string]string{"message": message}))
}

func (h *Hub) countDelivery(outcome string) {
	if h.delivered != nil {
		h.delivered.WithLabelValues(outcome).Inc()
	}
}

func (h *Hub) onMarkMessageRead(ctx context.Context, conn *Conn, messageID int64) {
	if messageID == 0 {
		return
	}
	if err := h.store.MarkRead(ctx, messageID); err != nil {
		logger.Err(err).Int64("message", messageID).Msg("failed to mark message read")
		return
	}
	h.BroadcastAll(EventMessageRead, map[string]any{"message_id": messageID, "read_by": conn.UserID()})
}

func (h *Hub) onMarkNotificationRead(ctx context.Context, conn *Conn, notificationID string) {
	if notificationID == "" {
		return
	}
	if err := h.queue.AckNotification(ctx, conn.UserID(), notificationID); err != nil {
		logger.Err(err).Str("user", conn.UserID()).Str("notification", notificationID).Msg("failed to ack notification")
	}
}

// flushUnread replays the backlog to a freshly admitted connection:
// notifications first (they stay queued until acked), then chat messages,
// which are bulk marked read and deleted.
func (h *Hub) flushUnread(ctx context.Context, conn *Conn) {
	userID := conn.UserID()

	notifs, err := h.queue.Notifications(ctx, userID)
	if err != nil {
		logger.Err(err).Str("user", userID).Msg("failed to read queued notifications")
	}
	for _, raw := range notifs {
		conn.trySend(marshalEvent(EventNotification, json.RawMessage(raw)))
	}

	entries, err := h.queue.FlushMessages(ctx, userID)
	if err != nil {
		logger.Err(err).Str("user", userID).Msg("failed to flush queued messages")
		return
	}
	var directIDs []int64
	for _, raw := range entries {
		conn.trySend(marshalEvent(EventNewMessage, json.RawMessage(raw)))
		parsed := gjson.Parse(raw)
		if parsed.Get("recipient_id").String() == userID {
			if id := parsed.Get("id").Int(); id != 0 {
				directIDs = append(directIDs, id)
			}
		}
	}
	if len(directIDs) > 0 {
		if err := h.store.MarkReadBulk(ctx, userID, directIDs); err != nil {
			logger.Err(err).Str("user", userID).Int("count", len(directIDs)).Msg("failed to bulk mark flushed messages read")
		}
	}
}

// SendNotification pushes a notification to the identity: over the live
// connection when online, onto the offline queue otherwise. Fire-and-forget;
// errors are logged only.
func (h *Hub) SendNotification(ctx context.Context, userID string, n Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if h.presence.IsOnline(userID) {
		h.broadcastRoom(UserRoom(userID), EventNotification, n, "")
		return
	}
	raw, err := json.Marshal(n)
	if err != nil {
		logger.Err(err).Str("user", userID).Msg("failed to serialize notification")
		return
	}
	if err := h.queue.EnqueueNotification(ctx, userID, raw); err != nil {
		logger.Err(err).Str("user", userID).Msg("failed to queue notification")
		sentry.CaptureException(err)
	}
}

// BroadcastRoom sends the event to every connection joined to the room.
func (h *Hub) BroadcastRoom(roomID, event string, data any) {
	h.broadcastRoom(roomID, event, data, "")
}

func (h *Hub) broadcastRoom(roomID, event string, data any, exceptConnID string) {
	connIDs := h.rooms.ConnsForRoom(roomID, func(connID string) bool {
		return connID != exceptConnID
	})
	h.sendToConns(connIDs, event, data)
}

func (h *Hub) sendToConns(connIDs []string, event string, data any) {
	if len(connIDs) == 0 {
		return
	}
	payload := marshalEvent(event, data)
	for _, connID := range connIDs {
		conn := h.conn(connID)
		if conn == nil {
			continue
		}
		if !conn.trySend(payload) {
			logger.Warn().Str("conn", connID).Str("event", event).Msg("dropping broadcast: slow consumer")
		}
	}
}

// BroadcastAll sends the event to every live connection.
func (h *Hub) BroadcastAll(event string, data any) {
	payload := marshalEvent(event, data)
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, conn := range conns {
		if !conn.trySend(payload) {
			logger.Warn().Str("conn", conn.ID).Str("event", event).Msg("dropping broadcast: slow consumer")
		}
	}
}
