// Package pubsub delivers user notifications over Redis pub/sub. Every
// recipient has a dedicated channel, so a subscriber only sees its own
// traffic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dpetukhov/tokengate/internal/logging"
)

const channelPrefix = "notifications:user:"

// ChannelFor returns the pub/sub channel name for a recipient.
func ChannelFor(recipientID string) string {
	return channelPrefix + recipientID
}

// Notification is the message format on the wire.
type Notification struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipient_id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Type        string    `json:"type"`
	Priority    string    `json:"priority"`
	CreatedAt   time.Time `json:"created_at"`
}

// Handler processes one delivered notification.
type Handler func(ctx context.Context, n *Notification) error

// conn is the slice of the Redis client the notifier uses.
type conn interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// subscription is the slice of *redis.PubSub the notifier uses. Channels can
// be added and removed while the consume loop is running.
type subscription interface {
	Subscribe(ctx context.Context, channels ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

// Notifier publishes notifications and fans incoming messages out to
// per-channel handlers registered with Subscribe.
type Notifier struct {
	client conn
	logger logging.Logger

	mu       sync.RWMutex
	sub      subscription
	handlers map[string]Handler
}

// NewNotifier builds a Notifier on top of a Redis client.
func NewNotifier(client *redis.Client, logger logging.Logger) *Notifier {
	return &Notifier{client: client, logger: logger, handlers: make(map[string]Handler)}
}

// Publish sends a notification to its recipient's channel. A missing ID or
// CreatedAt is filled in before marshalling.
func (n *Notifier) Publish(ctx context.Context, notification *Notification) error {
	if notification.RecipientID == "" {
		return fmt.Errorf("notification has no recipient")
	}
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("error marshalling notification: %w", err)
	}

	if err := n.client.Publish(ctx, ChannelFor(notification.RecipientID), payload).Err(); err != nil {
		return fmt.Errorf("error publishing notification: %w", err)
	}

	n.logger.Debug(ctx, "notification published", "recipient_id", notification.RecipientID, "type", notification.Type)
	return nil
}

// Subscribe registers handler for the recipient's channel and adds the
// channel to the broker subscription. Subscribing the same recipient again
// replaces the handler.
func (n *Notifier) Subscribe(ctx context.Context, recipientID string, handler Handler) error {
	channel := ChannelFor(recipientID)

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.sub == nil {
		n.sub = n.client.Subscribe(ctx)
	}
	if err := n.sub.Subscribe(ctx, channel); err != nil {
		return fmt.Errorf("error subscribing to %s: %w", channel, err)
	}
	n.handlers[channel] = handler

	n.logger.Debug(ctx, "subscribed to notifications", "recipient_id", recipientID)
	return nil
}

// Unsubscribe drops the recipient's broker subscription together with the
// local handler entry. Unsubscribing a recipient that was never subscribed is
// a no-op.
func (n *Notifier) Unsubscribe(ctx context.Context, recipientID string) error {
	channel := ChannelFor(recipientID)

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, found := n.handlers[channel]; !found {
		return nil
	}
	delete(n.handlers, channel)

	if err := n.sub.Unsubscribe(ctx, channel); err != nil {
		return fmt.Errorf("error unsubscribing from %s: %w", channel, err)
	}

	n.logger.Debug(ctx, "unsubscribed from notifications", "recipient_id", recipientID)
	return nil
}

// Listen consumes the shared subscription and dispatches incoming messages
// until ctx is cancelled. A malformed payload, a missing handler, or a
// handler failure is logged and skipped; the loop itself only stops with the
// context. Listen can be started before the first Subscribe call.
func (n *Notifier) Listen(ctx context.Context) error {
	n.mu.Lock()
	if n.sub == nil {
		n.sub = n.client.Subscribe(ctx)
	}
	sub := n.sub
	n.mu.Unlock()
	defer func() { _ = sub.Close() }()

	n.logger.Info(ctx, "notification listener started")
	return n.consume(ctx, sub.Channel())
}

func (n *Notifier) consume(ctx context.Context, msgs <-chan *redis.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			n.dispatch(ctx, msg)
		}
	}
}

func (n *Notifier) dispatch(ctx context.Context, msg *redis.Message) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error(ctx, "notification handler panicked", "channel", msg.Channel, "panic", fmt.Sprint(r))
		}
	}()

	n.mu.RLock()
	handler, found := n.handlers[msg.Channel]
	n.mu.RUnlock()
	if !found {
		n.logger.Warn(ctx, "no handler for channel", "channel", msg.Channel)
		return
	}

	var notification Notification
	if err := json.Unmarshal([]byte(msg.Payload), &notification); err != nil {
		n.logger.Error(ctx, "error decoding notification", "channel", msg.Channel, "error", err)
		return
	}

	if err := handler(ctx, &notification); err != nil {
		n.logger.Error(ctx, "error handling notification", "channel", msg.Channel, "error", err)
	}
}
