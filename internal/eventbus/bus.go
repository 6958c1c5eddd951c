// Package eventbus wires an in-process watermill pub/sub used to take
// ingestion's fire-and-forget fan-out (trigger pipeline invocation,
// analytics cache invalidation) off the request path.
package eventbus

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
)

// Topics published by ingestion.
const (
	TopicTrigger             = "ingest.trigger"
	TopicAnalyticsInvalidate = "ingest.analytics_invalidate"
)

// Bus is a thin wrapper over a watermill gochannel pub/sub, scoped to
// this process.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *zap.SugaredLogger
}

// New creates a Bus backed by an in-memory channel pub/sub. No
// messages are persisted across process restarts: a crash between
// ingestion's commit and the trigger pipeline's consumption drops that
// invocation, which is acceptable because occurrence counts do not
// depend on trigger evaluation having run.
func New(logger *zap.SugaredLogger) *Bus {
	watermillLogger := watermill.NopLogger{}
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, watermillLogger)

	return &Bus{pubsub: pubsub, logger: logger}
}

// Publish sends payload on topic, fire-and-forget. Errors are logged,
// never returned to the caller, matching ingestion's contract that the
// trigger path must never fail the ingestion response.
func (b *Bus) Publish(topic string, payload []byte) {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		b.logger.Errorw("eventbus publish failed", "topic", topic, "error", err)
	}
}

// Subscribe returns the channel of messages for topic. Callers must
// Ack() or Nack() every message they receive.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	return ch, nil
}

// Close shuts down the underlying pub/sub.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
