package out

import "context"

// Message is a single bus delivery.
type Message struct {
	Subject string
	// Reply is the ephemeral reply address, empty for plain publishes.
	Reply string
	Data  []byte
}

// MessageHandler receives deliveries for a subscription. Handlers for the same
// subscription are invoked sequentially; long work must be moved off the
// calling goroutine.
type MessageHandler func(msg *Message)

// Subscription is an active interest in a subject.
type Subscription interface {
	Unsubscribe() error
}

// Bus defines the contract for the message bus the mesh runs on. Subjects are
// dot-separated tokens; subscriptions accept "*" (one token) and ">" (rest).
type Bus interface {
	// Publish sends data to every subscriber of subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers handler for subject.
	Subscribe(subject string, handler MessageHandler) (Subscription, error)

	// Request publishes data with an ephemeral reply address and waits for
	// the first reply. Without a deadline on ctx the transport default
	// timeout applies.
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)

	// Flush waits until previously published messages have been processed
	// by the transport.
	Flush(ctx context.Context) error

	// Close releases the connection.
	Close() error
}
