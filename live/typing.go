package live

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Clients rarely send explicit stops, so entries expire on their own.
const DefaultTypingTimeout = 3 * time.Second

type typingKey struct {
	ResourceID string
	UserID     string
}

// TypingTracker holds the ephemeral "who is typing where" state. Each
// (resource, user) entry carries an expiry timer; a fresh start while the
// entry is live only rearms the timer (debounce), so each typing burst yields
// exactly one started and one stopped broadcast. onStop fires when an entry
// expires without an explicit stop.
type TypingTracker struct {
	cache  *ttlcache.Cache[typingKey, struct{}]
	onStop func(resourceID, userID string)
}

func NewTypingTracker(timeout time.Duration, onStop func(resourceID, userID string)) *TypingTracker {
	t := &TypingTracker{
		onStop: onStop,
	}
	t.cache = ttlcache.New[typingKey, struct{}](
		ttlcache.WithTTL[typingKey, struct{}](timeout),
	)
	t.cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[typingKey, struct{}]) {
		// explicit stops delete their own entries and broadcast themselves
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		key := item.Key()
		t.onStop(key.ResourceID, key.UserID)
	})
	go t.cache.Start()
	return t
}

// Start marks the user as typing on the resource. Returns true iff the entry
// is fresh, i.e. the caller should broadcast a "typing" update; a re-start
// inside the window rearms the expiry and returns false.
func (t *TypingTracker) Start(resourceID, userID string) bool {
	key := typingKey{ResourceID: resourceID, UserID: userID}
	// Get touches the item, resetting its TTL
	if item := t.cache.Get(key); item != nil {
		return false
	}
	t.cache.Set(key, struct{}{}, ttlcache.DefaultTTL)
	return true
}

// Stop clears the entry. Returns true iff the user was typing, i.e. the
// caller should broadcast a "stopped" update.
func (t *TypingTracker) Stop(resourceID, userID string) bool {
	key := typingKey{ResourceID: resourceID, UserID: userID}
	if t.cache.Get(key, ttlcache.WithDisableTouchOnHit[typingKey, struct{}]()) == nil {
		return false
	}
	t.cache.Delete(key)
	return true
}

// StopAll force-clears every typing entry owned by the user, returning the
// affected resource IDs so the caller can broadcast a stop for each. Called
// on disconnect.
func (t *TypingTracker) StopAll(userID string) []string {
	var resourceIDs []string
	for key := range t.cache.Items() {
		if key.UserID == userID {
			resourceIDs = append(resourceIDs, key.ResourceID)
		}
	}
	for _, resourceID := range resourceIDs {
		t.cache.Delete(typingKey{ResourceID: resourceID, UserID: userID})
	}
	return resourceIDs
}

// IsTyping reports the current state without touching the expiry.
func (t *TypingTracker) IsTyping(resourceID, userID string) bool {
	key := typingKey{ResourceID: resourceID, UserID: userID}
	return t.cache.Get(key, ttlcache.WithDisableTouchOnHit[typingKey, struct{}]()) != nil
}

func (t *TypingTracker) Close() {
	t.cache.Stop()
}
