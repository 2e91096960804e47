// Package kafkasink optionally publishes one JSON event per VRP Store
// install to a Kafka topic, for downstream consumers that want a delta
// feed without polling the RTR protocol (SPEC_FULL.md §4.7
// domain-stack wiring for github.com/twmb/franz-go).
package kafkasink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Event is the JSON payload published for each successful install.
type Event struct {
	Serial    uint32    `json:"serial"`
	Installed time.Time `json:"installed_at"`
	VRPCount  int       `json:"vrp_count"`
	KeyCount  int       `json:"routerkey_count"`
}

// Sink publishes Events to a Kafka topic, creating it first if absent.
type Sink struct {
	Log    zerolog.Logger
	Topic  string
	client *kgo.Client
}

// New connects to brokers and ensures Topic exists, creating it with a
// single partition if it does not (fine for a low-volume delta feed;
// operators with multiple rtrd instances behind a shared broker should
// pre-create the topic with the partition count they want).
func New(ctx context.Context, log zerolog.Logger, brokers []string, topic string) (*Sink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.WithLogger(kgoLogger{log}),
	)
	if err != nil {
		return nil, fmt.Errorf("kafkasink: creating client: %w", err)
	}

	admin := kadm.NewClient(client)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := admin.CreateTopic(ctx, 1, -1, nil, topic); err != nil && !isTopicExistsErr(err) {
		client.Close()
		return nil, fmt.Errorf("kafkasink: ensuring topic %q: %w", topic, err)
	}

	return &Sink{Log: log, Topic: topic, client: client}, nil
}

func isTopicExistsErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "ALREADY_EXISTS")
}

// Publish sends ev to the topic asynchronously; delivery errors are
// logged, not returned, since a lost notification never corrupts the
// VRP Store (the RTR protocol remains authoritative).
func (s *Sink) Publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.Log.Warn().Err(err).Msg("kafkasink: marshal failed")
		return
	}

	rec := &kgo.Record{Topic: s.Topic, Value: payload}
	s.client.Produce(ctx, rec, func(_ *kgo.Record, err error) {
		if err != nil {
			s.Log.Warn().Err(err).Msg("kafkasink: publish failed")
		}
	})
}

// Close flushes pending records (waiting at most 5 seconds) and
// releases the client.
func (s *Sink) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Flush(ctx); err != nil {
		s.Log.Warn().Err(err).Msg("kafkasink: flush on close failed")
	}
	s.client.Close()
}
