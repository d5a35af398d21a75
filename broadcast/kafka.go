package broadcast

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/dailyyoga/mongoconfigs/logger"
	"github.com/dailyyoga/mongoconfigs/routine"
	"go.uber.org/zap"
)

type kafkaTransport struct {
	log     logger.Logger
	cfg     *Config
	groupID string

	producer *kafka.Producer

	mu       sync.Mutex
	consumer *kafka.Consumer

	wg     sync.WaitGroup
	done   chan struct{}
	closed atomic.Bool
}

// NewKafka creates a transport publishing to and consuming from cfg.Topic.
// instance names the consumer group of this process.
func NewKafka(log logger.Logger, cfg *Config, instance string) (Transport, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.MergeDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = logger.Component(log, "broadcast-kafka")

	if err := validateCluster(log, cfg.Brokers); err != nil {
		return nil, err
	}

	producer, err := kafka.NewProducer(cfg.BuildProducerConfigMap())
	if err != nil {
		return nil, ErrConnection(err)
	}

	t := &kafkaTransport{
		log:      log,
		cfg:      cfg,
		groupID:  cfg.GroupID(instance),
		producer: producer,
		done:     make(chan struct{}),
	}
	t.wg.Add(1)
	routine.GoNamed(log, "broadcast-delivery-reports", t.handleDeliveryReports)

	log.Info("reload signal transport initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.String("group_id", t.groupID),
	)
	return t, nil
}

// handleDeliveryReports drains the producer's event channel
func (t *kafkaTransport) handleDeliveryReports() {
	defer t.wg.Done()

	for {
		select {
		case <-t.done:
			return
		case e := <-t.producer.Events():
			switch ev := e.(type) {
			case *kafka.Message:
				if ev.TopicPartition.Error != nil {
					t.log.Error("failed to deliver reload signal", zap.Error(ev.TopicPartition.Error))
				} else {
					t.log.Debug("reload signal delivered",
						zap.Int32("partition", ev.TopicPartition.Partition),
						zap.Int64("offset", int64(ev.TopicPartition.Offset)),
					)
				}
			case kafka.Error:
				t.log.Error("kafka producer error",
					zap.Int("code", int(ev.Code())),
					zap.String("error", ev.String()),
				)
			case nil:
				// events channel closed
				return
			default:
				t.log.Debug("received unknown event", zap.String("type", fmt.Sprintf("%T", ev)))
			}
		}
	}
}

func (t *kafkaTransport) Publish(_ context.Context, payload []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	topic := t.cfg.Topic
	return t.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          payload,
	}, nil)
}

func (t *kafkaTransport) Subscribe(ctx context.Context, handler PayloadHandler) error {
	if t.closed.Load() {
		return ErrClosed
	}
	consumer, err := kafka.NewConsumer(t.cfg.BuildConsumerConfigMap(t.groupID))
	if err != nil {
		return ErrConnection(err)
	}
	if err := consumer.SubscribeTopics([]string{t.cfg.Topic}, nil); err != nil {
		_ = consumer.Close()
		return ErrSubscribe(t.cfg.Topic, err)
	}

	t.mu.Lock()
	t.consumer = consumer
	t.mu.Unlock()

	t.wg.Add(1)
	routine.GoNamedWithContext(ctx, t.log, "broadcast-consumer", func(ctx context.Context) {
		defer t.wg.Done()
		if err := t.consumeLoop(ctx, consumer, handler); err != nil {
			t.log.Error("reload signal consumer exited with error", zap.Error(err))
		}
	})
	t.log.Info("reload signal consumer started", zap.String("group_id", t.groupID))
	return nil
}

// consumeLoop polls until ctx is done, the transport closes or every broker is down
func (t *kafkaTransport) consumeLoop(ctx context.Context, consumer *kafka.Consumer, handler PayloadHandler) error {
	poll := int(t.cfg.PollTimeout.Milliseconds())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.done:
			return nil
		default:
		}

		switch e := consumer.Poll(poll).(type) {
		case nil:
		case *kafka.Message:
			if err := t.handleMessage(ctx, consumer, e, handler); err != nil {
				t.log.Error("reload signal handling failed",
					zap.Int32("partition", e.TopicPartition.Partition),
					zap.Int64("offset", int64(e.TopicPartition.Offset)),
					zap.Error(err),
				)
			}
		case kafka.Error:
			t.log.Error("kafka consumer error", zap.Int("code", int(e.Code())), zap.String("error", e.String()))
			if e.Code() == kafka.ErrAllBrokersDown {
				return ErrConsume(e)
			}
		case kafka.OffsetsCommitted:
			if e.Error != nil {
				t.log.Error("failed to commit offsets", zap.Error(e.Error))
			}
		default:
			t.log.Debug("received unknown event", zap.String("type", fmt.Sprintf("%T", e)))
		}
	}
}

func (t *kafkaTransport) handleMessage(ctx context.Context, consumer *kafka.Consumer, msg *kafka.Message, handler PayloadHandler) error {
	start := time.Now()

	var err error
	for i := 1; i <= t.cfg.MaxRetries; i++ {
		if err = handler(ctx, msg.Value); err == nil {
			break
		}
	}
	if err != nil {
		return err
	}

	if _, err := consumer.CommitMessage(msg); err != nil {
		return fmt.Errorf("broadcast: commit offsets failed: %w", err)
	}
	t.log.Debug("reload signal handled",
		zap.Int64("offset", int64(msg.TopicPartition.Offset)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func (t *kafkaTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(t.done)
	t.wg.Wait()

	t.mu.Lock()
	consumer := t.consumer
	t.mu.Unlock()
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			t.log.Warn("failed to close kafka consumer", zap.Error(err))
		}
	}

	if remaining := t.producer.Flush(10000); remaining > 0 {
		t.log.Warn("reload signals left unflushed at shutdown", zap.Int("remaining", remaining))
	}
	t.producer.Close()
	t.log.Info("reload signal transport closed")
	return nil
}
