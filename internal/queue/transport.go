package queue

import (
	"context"
	"time"
)

// Delivery is one message as handed over by a transport.
type Delivery struct {
	// ID identifies the message within the transport.
	ID string

	// Handle is used for Ack and ExtendVisibility. Empty on broadcast
	// transports.
	Handle string

	// Body is the raw payload: []byte, string or map[string]any.
	Body any

	// Attempts counts deliveries of this message, 1 on first delivery.
	Attempts int64
}

// Receiver blocks for the next delivery. It returns (nil, nil) when nothing
// arrived within the transport's poll window so callers can check for
// shutdown between messages.
type Receiver interface {
	Receive(ctx context.Context) (*Delivery, error)
}

// Sender publishes a raw payload.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// Acknowledger is implemented by pull transports.
type Acknowledger interface {
	// Ack removes the message so it is never redelivered.
	Ack(ctx context.Context, handle string) error

	// ExtendVisibility keeps the message hidden from other consumers for at
	// least d from now.
	ExtendVisibility(ctx context.Context, handle string, d time.Duration) error
}
