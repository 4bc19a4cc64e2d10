package kafkasink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/Rito-w/drone/pkg/notifications"
)

type Config struct {
	Brokers  []string `env:"KAFKA_BROKERS" envSeparator:","`
	ClientID string   `env:"KAFKA_CLIENT_ID" envDefault:"notifier"`
	Topic    string   `env:"KAFKA_DLQ_TOPIC" envDefault:"notification.dlq"`

	Partitions        int32 `env:"KAFKA_DLQ_PARTITIONS" envDefault:"3"`
	ReplicationFactor int16 `env:"KAFKA_DLQ_REPLICATION_FACTOR" envDefault:"1"`
}

// Enabled reports whether dead letters should also go to Kafka.
func (c Config) Enabled() bool { return len(c.Brokers) > 0 }

// Event is the message value published for each dead letter.
type Event struct {
	Notification notifications.Notification `json:"notification"`
	Reason       string                     `json:"reason"`
	RecordedAt   time.Time                  `json:"recorded_at"`
}

// Sink publishes dead letters to a Kafka topic, keyed by notification id so
// repeats of one notification land on the same partition. A repeated Record
// publishes again; consumers dedupe on the key and the generation header.
type Sink struct {
	producer sarama.SyncProducer
	topic    string
	now      func() time.Time
}

var _ notifications.DeadLetterSink = (*Sink)(nil)

// New dials the brokers with an idempotent, all-acks producer.
func New(cfg Config) (*Sink, error) {
	if !cfg.Enabled() {
		return nil, ErrNoBrokers
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, producerConfig(cfg.ClientID))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewWithProducer(producer, cfg.Topic)
}

// NewWithProducer wraps an existing producer. The sink owns it from here on.
func NewWithProducer(producer sarama.SyncProducer, topic string) (*Sink, error) {
	if producer == nil {
		return nil, ErrProducerNil
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	return &Sink{producer: producer, topic: topic, now: time.Now}, nil
}

func producerConfig(clientID string) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	sc.ClientID = strings.TrimSpace(clientID)
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 10
	sc.Producer.Retry.Backoff = 100 * time.Millisecond
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	return sc
}

func (s *Sink) Record(ctx context.Context, n notifications.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(Event{Notification: n, Reason: n.FailReason, RecordedAt: s.now()})
	if err != nil {
		return fmt.Errorf("encode dead letter %s: %w", n.ID, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(n.ID.String()),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("channel"), Value: []byte(n.Channel.String())},
			{Key: []byte("recipient_type"), Value: []byte(n.RecipientType.String())},
			{Key: []byte("generation"), Value: []byte(strconv.Itoa(n.Generation))},
		},
	}
	if _, _, err := s.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("publish dead letter %s: %w", n.ID, err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s == nil || s.producer == nil {
		return nil
	}
	return s.producer.Close()
}

// EnsureTopic creates the dead-letter topic unless it already exists.
func EnsureTopic(cfg Config) error {
	if !cfg.Enabled() {
		return ErrNoBrokers
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		return ErrEmptyTopic
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	sc.ClientID = strings.TrimSpace(cfg.ClientID)

	admin, err := sarama.NewClusterAdmin(cfg.Brokers, sc)
	if err != nil {
		return fmt.Errorf("create kafka admin: %w", err)
	}
	defer admin.Close()

	return ensureTopic(admin, topic, cfg.Partitions, cfg.ReplicationFactor)
}

// topicAdmin is the part of sarama.ClusterAdmin EnsureTopic uses.
type topicAdmin interface {
	ListTopics() (map[string]sarama.TopicDetail, error)
	CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error
}

func ensureTopic(admin topicAdmin, topic string, partitions int32, replication int16) error {
	topics, err := admin.ListTopics()
	if err != nil {
		return fmt.Errorf("list kafka topics: %w", err)
	}
	if _, ok := topics[topic]; ok {
		return nil
	}

	err = admin.CreateTopic(topic, &sarama.TopicDetail{
		NumPartitions:     max(partitions, 1),
		ReplicationFactor: max(replication, 1),
	}, false)
	if err != nil && !errors.Is(err, sarama.ErrTopicAlreadyExists) {
		return fmt.Errorf("create kafka topic %s: %w", topic, err)
	}
	return nil
}
