package ingestion

import (
	"context"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/saasml/mlaas-platform/pkg/logger"
)

// Consumer polls the object-created topic and feeds events to the trigger.
// Offsets commit only after a record is handled, so a crash replays the
// drop instead of losing it; the trigger's idempotency absorbs the replay.
type Consumer struct {
	client  *kgo.Client
	trigger *Trigger
	log     *logger.Logger
}

// ConsumerConfig holds Kafka consumer settings.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	Group   string
}

func NewConsumer(cfg ConsumerConfig, trigger *Trigger, log *logger.Logger) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, err
	}
	return &Consumer{client: client, trigger: trigger, log: log}, nil
}

// Run polls until the context is cancelled or the client is closed.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.log.ErrorContext(ctx, "fetch error",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
				zap.Error(err),
			)
		})

		fetches.EachRecord(func(record *kgo.Record) {
			event, err := DecodeEvent(record.Value)
			if err != nil {
				// Malformed events are dropped, not retried: replaying
				// them can never succeed.
				c.log.WarnContext(ctx, "dropping malformed event", zap.Error(err))
				return
			}
			if err := c.trigger.Handle(ctx, event); err != nil {
				c.log.ErrorContext(ctx, "event handling failed",
					zap.String("key", event.Object.Key),
					zap.Error(err),
				)
			}
		})

		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			c.log.ErrorContext(ctx, "offset commit failed", zap.Error(err))
		}
	}
}

// Close shuts the underlying Kafka client down.
func (c *Consumer) Close() {
	c.client.Close()
}
