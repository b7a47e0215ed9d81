package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// How long to wait for sentry to flush buffered events before a panic is re-raised.
const sentryFlushTimeout = 2 * time.Second

// GetSentryHubFromContextOrDefault is a version of sentry.GetHubFromContext which
// automatically falls back to sentry.CurrentHub if the given context has not been
// attached a hub.
//
// The various golang sentry integrations automatically attach a hub to contexts that
// are generated when serving HTTP requests. If that accounts for all your contexts,
// you have no need for this function; you can use sentry.GetHubFromContext without
// fear.
//
// The returned pointer is always nonnil.
func GetSentryHubFromContextOrDefault(ctx context.Context) *sentry.Hub {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return hub
}

// ReportPanicsToSentry checks for panics and reports them. Call in a defer at the
// top of long-lived goroutines; the panic is re-raised afterwards.
func ReportPanicsToSentry() {
	err := recover()
	if err != nil {
		sentry.CurrentHub().Recover(err)
		sentry.Flush(sentryFlushTimeout)
		panic(fmt.Sprintf("panic sent to sentry: %v", err))
	}
}
