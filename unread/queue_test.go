package unread

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func connectToRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable at %s: %s", addr, err)
	}
	t.Cleanup(func() {
		client.Close()
	})
	return client
}

// unique per test so runs don't interfere
func testUser(t *testing.T) string {
	return fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())
}

func TestQueueFlushMessages(t *testing.T) {
	client := connectToRedis(t)
	q := NewQueue(client, Retention{})
	ctx := context.Background()
	userID := testUser(t)

	got, err := q.FlushMessages(ctx, userID)
	if err != nil {
		t.Fatalf("FlushMessages: %s", err)
	}
	if got != nil {
		t.Fatalf("FlushMessages on empty backlog: got %v want nil", got)
	}

	for i := 1; i <= 3; i++ {
		raw := []byte(fmt.Sprintf(`{"id":%d}`, i))
		if err := q.EnqueueMessage(ctx, userID, raw); err != nil {
			t.Fatalf("EnqueueMessage: %s", err)
		}
	}

	got, err = q.FlushMessages(ctx, userID)
	if err != nil {
		t.Fatalf("FlushMessages: %s", err)
	}
	// newest first
	want := []string{`{"id":3}`, `{"id":2}`, `{"id":1}`}
	if len(got) != len(want) {
		t.Fatalf("FlushMessages: got %d entries want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("FlushMessages: got %v want %v", got, want)
		}
	}

	// flush deletes
	got, err = q.FlushMessages(ctx, userID)
	if err != nil {
		t.Fatalf("FlushMessages: %s", err)
	}
	if got != nil {
		t.Fatalf("FlushMessages after flush: got %v want nil", got)
	}
}

func TestQueueRetentionMaxItems(t *testing.T) {
	client := connectToRedis(t)
	q := NewQueue(client, Retention{MaxItems: 2})
	ctx := context.Background()
	userID := testUser(t)

	for i := 1; i <= 5; i++ {
		raw := []byte(fmt.Sprintf(`{"id":%d}`, i))
		if err := q.EnqueueMessage(ctx, userID, raw); err != nil {
			t.Fatalf("EnqueueMessage: %s", err)
		}
	}
	got, err := q.FlushMessages(ctx, userID)
	if err != nil {
		t.Fatalf("FlushMessages: %s", err)
	}
	if len(got) != 2 {
		t.Fatalf("retention: got %d entries want 2", len(got))
	}
	// newest survive
	if got[0] != `{"id":5}` || got[1] != `{"id":4}` {
		t.Fatalf("retention: got %v", got)
	}
}

func TestQueueRetentionTTL(t *testing.T) {
	client := connectToRedis(t)
	q := NewQueue(client, Retention{TTL: time.Hour})
	ctx := context.Background()
	userID := testUser(t)

	if err := q.EnqueueMessage(ctx, userID, []byte(`{"id":1}`)); err != nil {
		t.Fatalf("EnqueueMessage: %s", err)
	}
	ttl, err := client.TTL(ctx, chatKey(userID)).Result()
	if err != nil {
		t.Fatalf("TTL: %s", err)
	}
	if ttl <= 0 || ttl > time.Hour {
		t.Fatalf("TTL: got %s want (0, 1h]", ttl)
	}
	client.Del(ctx, chatKey(userID))
}

func TestQueueRetentionDisabled(t *testing.T) {
	client := connectToRedis(t)
	q := NewQueue(client, Retention{})
	ctx := context.Background()
	userID := testUser(t)

	if err := q.EnqueueMessage(ctx, userID, []byte(`{"id":1}`)); err != nil {
		t.Fatalf("EnqueueMessage: %s", err)
	}
	ttl, err := client.TTL(ctx, chatKey(userID)).Result()
	if err != nil {
		t.Fatalf("TTL: %s", err)
	}
	// negative sentinel means no expiry set
	if ttl > 0 {
		t.Fatalf("TTL: got %s want no expiry", ttl)
	}
	client.Del(ctx, chatKey(userID))
}

func TestQueueNotificationsAndAck(t *testing.T) {
	client := connectToRedis(t)
	q := NewQueue(client, Retention{})
	ctx := context.Background()
	userID := testUser(t)

	for _, id := range []string{"n1", "n2", "n3"} {
		raw := []byte(fmt.Sprintf(`{"id":%q,"type":"new_post"}`, id))
		if err := q.EnqueueNotification(ctx, userID, raw); err != nil {
			t.Fatalf("EnqueueNotification: %s", err)
		}
	}

	// replay does not remove
	for i := 0; i < 2; i++ {
		notifs, err := q.Notifications(ctx, userID)
		if err != nil {
			t.Fatalf("Notifications: %s", err)
		}
		if len(notifs) != 3 {
			t.Fatalf("Notifications: got %d want 3", len(notifs))
		}
	}

	if err := q.AckNotification(ctx, userID, "n2"); err != nil {
		t.Fatalf("AckNotification: %s", err)
	}
	notifs, err := q.Notifications(ctx, userID)
	if err != nil {
		t.Fatalf("Notifications: %s", err)
	}
	if len(notifs) != 2 {
		t.Fatalf("Notifications after ack: got %d want 2", len(notifs))
	}
	for _, n := range notifs {
		if n == `{"id":"n2","type":"new_post"}` {
			t.Fatalf("AckNotification: n2 still queued")
		}
	}

	// read-state hash written
	read, err := client.HGet(ctx, "notification:n2", "read").Result()
	if err != nil {
		t.Fatalf("HGet: %s", err)
	}
	if read != "1" {
		t.Fatalf("read state: got %q want 1", read)
	}

	// acking an unknown id still succeeds; it only records read-state
	if err := q.AckNotification(ctx, userID, "missing"); err != nil {
		t.Fatalf("AckNotification(missing): %s", err)
	}

	client.Del(ctx, notifKey(userID), "notification:n2", "notification:missing")
}
