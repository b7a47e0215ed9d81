package main

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"

	gateway "github.com/casacora/realtime-gateway"
	"github.com/casacora/realtime-gateway/internal"
	"github.com/casacora/realtime-gateway/live"
	"github.com/casacora/realtime-gateway/pubsub"
	"github.com/casacora/realtime-gateway/state"
	"github.com/casacora/realtime-gateway/unread"
)

var (
	flagBindAddr = flag.String("port", ":8008", "Bind address")
	flagPostgres = flag.String("db", "user=postgres dbname=gateway sslmode=disable", "Postgres DB connection string (see lib/pq docs)")
	flagRedis    = flag.String("redis", "redis://localhost:6379/0", "Redis connection URL")
)

const (
	// EnvSecret is the HMAC secret that signed client credentials. Required.
	EnvSecret = "GATEWAY_SECRET"
	// EnvSentryDSN enables sentry reporting when set.
	EnvSentryDSN = "GATEWAY_SENTRY_DSN"
	// EnvNotifyChannel is the postgres NOTIFY channel carrying feed changes.
	EnvNotifyChannel = "GATEWAY_NOTIFY_CHANNEL"
	// EnvRetentionMaxItems bounds each offline backlog list.
	EnvRetentionMaxItems = "GATEWAY_RETENTION_MAX_ITEMS"
	// EnvRetentionTTLSecs expires idle backlog lists.
	EnvRetentionTTLSecs = "GATEWAY_RETENTION_TTL_SECS"

	defaultNotifyChannel     = "feed_notifications"
	defaultRetentionMaxItems = 200
	defaultRetentionTTLSecs  = 86400
)

func envDefault(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envDefaultInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		panic("invalid " + name + ": " + v)
	}
	return n
}

func main() {
	flag.Parse()
	secret := os.Getenv(EnvSecret)
	if secret == "" {
		panic(EnvSecret + " must be set")
	}

	if dsn := os.Getenv(EnvSentryDSN); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
			panic(err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	store := state.NewStorage(*flagPostgres)
	defer store.Teardown()

	redisOpts, err := redis.ParseURL(*flagRedis)
	if err != nil {
		panic(err)
	}
	queue := unread.NewQueue(redis.NewClient(redisOpts), unread.Retention{
		MaxItems: envDefaultInt(EnvRetentionMaxItems, defaultRetentionMaxItems),
		TTL:      time.Duration(envDefaultInt(EnvRetentionTTLSecs, defaultRetentionTTLSecs)) * time.Second,
	})

	hub := live.NewHub(live.NewAuthenticator([]byte(secret)), store, queue, live.HubOpts{
		EnablePrometheus: true,
	})
	defer hub.Teardown()

	ps := pubsub.NewPubSub(100)
	notifier := pubsub.NewPromNotifier(ps, "relay")

	listener := state.NewNotificationListener(*flagPostgres, envDefault(EnvNotifyChannel, defaultNotifyChannel), notifier)
	defer listener.Teardown()
	go func() {
		defer internal.ReportPanicsToSentry()
		if err := listener.Listen(); err != nil {
			panic(err)
		}
	}()

	relay := live.NewFeedRelay(hub, ps)
	defer relay.Teardown()
	relay.Listen()

	gateway.RunGatewayServer(hub, *flagBindAddr)
}
