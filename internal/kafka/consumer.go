package kafka

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
	"vn.io.arda/pinnotify/internal/domain"
	"vn.io.arda/pinnotify/internal/kafka/registry"

	// Blank imports trigger init() in each handler file,
	// registering all event handlers into the registry.
	_ "vn.io.arda/pinnotify/internal/kafka/handlers"
)

// ActivityRecorder is satisfied by application.Service.
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, in domain.ActivityInput) (*domain.Notification, error)
}

// Consumer wraps the franz-go Kafka client.
type Consumer struct {
	client   *kgo.Client
	recorder ActivityRecorder
}

// New creates a Consumer with the given brokers, group ID, and topics.
func New(brokers []string, groupID string, topics []string, rec ActivityRecorder) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, err
	}
	return &Consumer{client: client, recorder: rec}, nil
}

// Start begins polling Kafka and processing records. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	log.Info().Msg("kafka consumer started")

	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			break
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			log.Error().Err(err).Str("topic", topic).Int32("partition", partition).Msg("kafka fetch error")
		})

		fetches.EachRecord(func(r *kgo.Record) {
			process(ctx, c.recorder, r)
		})

		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			log.Error().Err(err).Msg("kafka commit error")
		}
	}

	c.client.Close()
	log.Info().Msg("kafka consumer stopped")
}

// process maps a Kafka record to activities via the registry and records
// each of them. Returns the number of activities recorded.
func process(ctx context.Context, rec ActivityRecorder, r *kgo.Record) int {
	log.Debug().
		Str("topic", r.Topic).
		Str("key", string(r.Key)).
		Msg("processing kafka record")

	// activity-commands doesn't use eventType routing
	activities, ok := registry.DispatchDirect(r.Topic, r.Value)
	if !ok {
		activities = registry.Dispatch(r.Topic, r.Value)
	}

	if len(activities) == 0 {
		log.Debug().Str("topic", r.Topic).Msg("no handler matched, skipping")
		return 0
	}

	recorded := 0
	for _, in := range activities {
		if _, err := rec.RecordActivity(ctx, in); err != nil {
			log.Error().Err(err).
				Str("topic", r.Topic).
				Str("type", string(in.Type)).
				Str("recipient", in.RecipientID).
				Str("source_event_id", in.SourceEventID).
				Msg("failed to record activity from kafka event")
			continue
		}
		recorded++
	}
	return recorded
}
