package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PubSub is the broadcast transport. It has no acknowledgement: a message
// not received while subscribed is gone.
type PubSub struct {
	client  *redis.Client
	channel string
	poll    time.Duration

	sub  *redis.PubSub
	msgs <-chan *redis.Message
}

// NewPubSub returns a publisher for channel. Call Subscribe before Receive.
func NewPubSub(client *redis.Client, channel string, poll time.Duration) *PubSub {
	if poll <= 0 {
		poll = time.Second
	}
	return &PubSub{client: client, channel: channel, poll: poll}
}

// Subscribe joins the channel and waits for the server's confirmation, so
// envelopes published after it returns are not missed.
func (p *PubSub) Subscribe(ctx context.Context) error {
	sub := p.client.Subscribe(ctx, p.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", p.channel, err)
	}
	p.sub = sub
	p.msgs = sub.Channel(redis.WithChannelSize(100))
	return nil
}

// Send publishes payload to the channel.
func (p *PubSub) Send(ctx context.Context, payload []byte) error {
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.channel, err)
	}
	return nil
}

// Receive waits up to the poll window for the next message.
func (p *PubSub) Receive(ctx context.Context) (*Delivery, error) {
	if p.msgs == nil {
		return nil, fmt.Errorf("receive %s: not subscribed", p.channel)
	}

	timer := time.NewTimer(p.poll)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case msg, ok := <-p.msgs:
		if !ok {
			return nil, fmt.Errorf("receive %s: subscription closed", p.channel)
		}
		return &Delivery{Body: msg.Payload, Attempts: 1}, nil
	}
}

// Close leaves the channel.
func (p *PubSub) Close() error {
	if p.sub == nil {
		return nil
	}
	return p.sub.Close()
}
