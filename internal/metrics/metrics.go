// Package metrics provides interfaces and implementations for collecting
// mail bridge metrics. This package defines the Collector interface for
// recording protocol and store activity and the Server interface for
// exposing the recorded values over HTTP.
package metrics

import "context"

// Collector defines the interface for recording mail bridge metrics.
// protocol is "smtp" or "pop3" throughout.
type Collector interface {
	// Connection metrics.
	ConnectionOpened(protocol string)
	ConnectionClosed(protocol string)

	// Command metrics. verb is the uppercased protocol verb.
	CommandProcessed(protocol, verb string)
	LineOverflow(protocol string)

	// Delivery metrics (SMTP side).
	MessageDelivered(recipients int, sizeBytes int64)
	DeliveryFailed(reason string)

	// Retrieval metrics (POP3 side).
	AuthAttempt(success bool)
	MessageRetrieved(sizeBytes int64)
	MessagesDeleted(count int)
}

// Server defines the interface for a metrics HTTP server.
type Server interface {
	// Start begins serving metrics. It blocks until the context is canceled
	// or an error occurs.
	Start(ctx context.Context) error

	// Shutdown gracefully stops the metrics server.
	Shutdown(ctx context.Context) error
}
