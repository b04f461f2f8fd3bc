package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const payloadField = "payload"

// StreamConfig configures the pull transport.
type StreamConfig struct {
	Stream   string
	Group    string
	Consumer string

	// Block is how long one Receive waits for a new entry.
	Block time.Duration

	// VisibilityTimeout is how long a delivered, unacknowledged entry stays
	// with its consumer before another consumer may claim it.
	VisibilityTimeout time.Duration

	// MaxDeliveries moves an entry to the dead-letter stream once it has been
	// delivered more often than this. Zero disables dead-lettering.
	MaxDeliveries int64
}

// Stream is the pull transport built on a Redis Streams consumer group.
// Entry IDs double as delivery handles.
type Stream struct {
	client *redis.Client
	cfg    StreamConfig
	logger *slog.Logger
}

// NewStream creates the consumer group (and the stream) if missing.
func NewStream(ctx context.Context, client *redis.Client, cfg StreamConfig, logger *slog.Logger) (*Stream, error) {
	if cfg.Block <= 0 {
		cfg.Block = time.Second
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	err := client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group %s/%s: %w", cfg.Stream, cfg.Group, err)
	}

	return &Stream{client: client, cfg: cfg, logger: logger}, nil
}

// DeadLetterStream is where entries go after MaxDeliveries.
func (s *Stream) DeadLetterStream() string {
	return s.cfg.Stream + ":dead"
}

// Send appends payload to the stream.
func (s *Stream) Send(ctx context.Context, payload []byte) error {
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.cfg.Stream,
		Values: map[string]any{payloadField: string(payload)},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.cfg.Stream, err)
	}
	return nil
}

// Receive first reclaims an entry whose visibility timeout expired on some
// other consumer, then falls back to new entries.
func (s *Stream) Receive(ctx context.Context) (*Delivery, error) {
	d, err := s.reclaim(ctx)
	if err != nil || d != nil {
		return d, err
	}

	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		Streams:  []string{s.cfg.Stream, ">"},
		Count:    1,
		Block:    s.cfg.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s: %w", s.cfg.Stream, err)
	}

	for _, st := range res {
		for _, msg := range st.Messages {
			return toDelivery(msg, 1), nil
		}
	}
	return nil, nil
}

func (s *Stream) reclaim(ctx context.Context) (*Delivery, error) {
	msgs, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.cfg.Stream,
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		MinIdle:  s.cfg.VisibilityTimeout,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xautoclaim %s: %w", s.cfg.Stream, err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	msg := msgs[0]
	// A claimed entry was delivered at least once before.
	attempts := max(s.deliveryCount(ctx, msg.ID), 2)

	if s.cfg.MaxDeliveries > 0 && attempts > s.cfg.MaxDeliveries {
		if err := s.deadLetter(ctx, msg, attempts); err != nil {
			return nil, err
		}
		return nil, nil
	}

	s.logger.Info("reclaimed envelope", "message_id", msg.ID, "attempts", attempts)
	return toDelivery(msg, attempts), nil
}

func (s *Stream) deliveryCount(ctx context.Context, id string) int64 {
	pending, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: s.cfg.Stream,
		Group:  s.cfg.Group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 1
	}
	return pending[0].RetryCount
}

func (s *Stream) deadLetter(ctx context.Context, msg redis.XMessage, attempts int64) error {
	values := map[string]any{
		"message_id": msg.ID,
		"attempts":   attempts,
	}
	if payload, ok := msg.Values[payloadField]; ok {
		values[payloadField] = payload
	}

	if err := s.client.XAdd(ctx, &redis.XAddArgs{Stream: s.DeadLetterStream(), Values: values}).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.DeadLetterStream(), err)
	}
	if err := s.Ack(ctx, msg.ID); err != nil {
		return err
	}

	s.logger.Warn("envelope dead-lettered", "message_id", msg.ID, "attempts", attempts)
	return nil
}

// Ack acknowledges and deletes the entry.
func (s *Stream) Ack(ctx context.Context, handle string) error {
	if err := s.client.XAck(ctx, s.cfg.Stream, s.cfg.Group, handle).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", handle, err)
	}
	if err := s.client.XDel(ctx, s.cfg.Stream, handle).Err(); err != nil {
		return fmt.Errorf("xdel %s: %w", handle, err)
	}
	return nil
}

// ExtendVisibility resets the entry's idle time by claiming it again for this
// consumer. The delivery counter is not incremented. d is accepted for
// interface symmetry; the window is always VisibilityTimeout from now.
func (s *Stream) ExtendVisibility(ctx context.Context, handle string, _ time.Duration) error {
	err := s.client.XClaimJustID(ctx, &redis.XClaimArgs{
		Stream:   s.cfg.Stream,
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		MinIdle:  0,
		Messages: []string{handle},
	}).Err()
	if err != nil {
		return fmt.Errorf("xclaim %s: %w", handle, err)
	}
	return nil
}

// Pending returns the number of delivered but unacknowledged entries.
func (s *Stream) Pending(ctx context.Context) (int64, error) {
	p, err := s.client.XPending(ctx, s.cfg.Stream, s.cfg.Group).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending %s: %w", s.cfg.Stream, err)
	}
	return p.Count, nil
}

func toDelivery(msg redis.XMessage, attempts int64) *Delivery {
	d := &Delivery{ID: msg.ID, Handle: msg.ID, Attempts: attempts}
	if payload, ok := msg.Values[payloadField]; ok {
		d.Body = payload
	}
	return d
}
