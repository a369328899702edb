package worker

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/openedx/event-sink-clickhouse/pkg/config"
	"github.com/openedx/event-sink-clickhouse/pkg/errors"
)

// Consumer feeds task messages from a Kafka topic to a Handler.
type Consumer struct {
	cfg     config.KafkaConfig
	codec   MessageCodec
	handler Handler
	group   sarama.ConsumerGroup
	logger  *zap.Logger
}

// NewConsumer joins the consumer group of cfg.
func NewConsumer(cfg config.KafkaConfig, handler Handler, logger *zap.Logger) (*Consumer, error) {
	codec, err := NewCodec(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create consumer group")
	}
	return newConsumer(cfg, codec, handler, group, logger), nil
}

func newConsumer(cfg config.KafkaConfig, codec MessageCodec, handler Handler, group sarama.ConsumerGroup, logger *zap.Logger) *Consumer {
	return &Consumer{
		cfg:     cfg,
		codec:   codec,
		handler: handler,
		group:   group,
		logger:  logger.With(zap.String("component", "kafka_consumer")),
	}
}

func saramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true
	return cfg
}

// Run consumes until ctx is done, rejoining the group after each rebalance.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("subscribed to Kafka topic",
		zap.String("topic", c.cfg.Topic),
		zap.String("consumer_group", c.cfg.GroupID),
		zap.String("encoding", c.cfg.Encoding))

	go func() {
		for err := range c.group.Errors() {
			c.logger.Error("consumer group error", zap.Error(err))
		}
	}()

	for {
		if err := c.group.Consume(ctx, []string{c.cfg.Topic}, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.Error("consumer group error", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close leaves the consumer group
func (c *Consumer) Close() error {
	return c.group.Close()
}

// Setup implements sarama.ConsumerGroupHandler
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup implements sarama.ConsumerGroupHandler
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim implements sarama.ConsumerGroupHandler. Every message is marked
// once handled, failed ones included.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			c.process(session.Context(), message)
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) {
	log := c.logger.With(
		zap.String("topic", message.Topic),
		zap.Int32("partition", message.Partition),
		zap.Int64("offset", message.Offset))

	msg, err := c.codec.Decode(message.Value)
	if err != nil {
		log.Error("dropping undecodable message", zap.Error(err))
		return
	}
	if err := c.handler.Handle(ctx, msg); err != nil {
		log.Error("failed to process message", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	log.Debug("processed Kafka message", zap.String("type", msg.Type))
}
