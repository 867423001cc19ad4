package kafka

import (
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Config selects the brokers and topics of the Kafka transport
type Config struct {
	Brokers         []string
	Topic           string
	GroupID         string
	ReplyTopic      string
	DeadLetterTopic string
}

// NewReader creates a consumer group reader for the inbound topic
func NewReader(cfg Config) *kafkago.Reader {
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,
		MaxBytes:    1 << 20,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafkago.FirstOffset,
		Dialer:      &kafkago.Dialer{Timeout: 10 * time.Second},
	})
}

// NewWriter creates a writer for topic. The hash balancer keeps messages with
// the same key on one partition.
func NewWriter(brokers []string, topic string) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		MaxAttempts:  5,
		RequiredAcks: kafkago.RequireAll,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
