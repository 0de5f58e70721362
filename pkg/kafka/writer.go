package kafka

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/angelmondragon/projecthub-backend/pkg/config"
	"github.com/angelmondragon/projecthub-backend/pkg/logger"
)

const (
	defaultWriteTimeout = 10 * time.Second
	dialTimeout         = 5 * time.Second
)

var errNoBrokers = errors.New("kafka brokers are required")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Message is one record bound for a topic. Key picks the partition, so all
// events of one aggregate stay ordered.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
	Time    time.Time
}

// Writer publishes domain events to Kafka.
type Writer struct {
	writer  messageWriter
	brokers []string
	topic   string
	dial    func(ctx context.Context, network, address string) (*kafkago.Conn, error)
}

// NewWriter builds a hash-balanced writer that waits for all in-sync replicas.
func NewWriter(cfg config.KafkaConfig, logg *logger.Logger) (*Writer, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, broker := range cfg.Brokers {
		if trimmed := strings.TrimSpace(broker); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, errNoBrokers
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic is required")
	}
	w := &Writer{
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(brokers...),
			Balancer:     &kafkago.Hash{},
			RequiredAcks: kafkago.RequireAll,
			WriteTimeout: defaultWriteTimeout,
		},
		brokers: brokers,
		topic:   strings.TrimSpace(cfg.Topic),
		dial:    kafkago.DialContext,
	}
	if logg != nil {
		logg.Info(logg.WithFields(context.Background(), map[string]any{
			"brokers": strings.Join(brokers, ","),
			"topic":   w.topic,
		}), "kafka writer initialized")
	}
	return w, nil
}

// Topic returns the configured domain topic.
func (w *Writer) Topic() string {
	if w == nil {
		return ""
	}
	return w.topic
}

// Publish writes msg synchronously; an empty msg.Topic uses the domain topic.
func (w *Writer) Publish(ctx context.Context, msg Message) error {
	if w == nil || w.writer == nil {
		return errors.New("kafka writer not initialized")
	}
	topic := msg.Topic
	if topic == "" {
		topic = w.topic
	}
	at := msg.Time
	if at.IsZero() {
		at = time.Now().UTC()
	}
	record := kafkago.Message{
		Topic:   topic,
		Key:     []byte(msg.Key),
		Value:   msg.Value,
		Headers: toHeaders(msg.Headers),
		Time:    at,
	}
	if err := w.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("write kafka message to %s: %w", topic, err)
	}
	return nil
}

// Ping dials the brokers until one answers.
func (w *Writer) Ping(ctx context.Context) error {
	if w == nil {
		return errors.New("kafka writer not initialized")
	}
	var lastErr error
	for _, broker := range w.brokers {
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		conn, err := w.dial(dialCtx, "tcp", broker)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return nil
	}
	return fmt.Errorf("no kafka broker reachable: %w", lastErr)
}

// Close flushes pending writes and releases connections.
func (w *Writer) Close() error {
	if w == nil || w.writer == nil {
		return nil
	}
	return w.writer.Close()
}

func toHeaders(headers map[string]string) []kafkago.Header {
	if len(headers) == 0 {
		return nil
	}
	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]kafkago.Header, 0, len(keys))
	for _, key := range keys {
		out = append(out, kafkago.Header{Key: key, Value: []byte(headers[key])})
	}
	return out
}
