package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/projecthub-backend/pkg/kafka"
	"github.com/angelmondragon/projecthub-backend/pkg/outbox/registry"
)

// outboundMessage is a resolved outbox row ready for a broker.
type outboundMessage struct {
	Key        string
	Data       []byte
	Attributes map[string]string
	CreatedAt  time.Time
}

type sink interface {
	Name() string
	Ping(context.Context) error
	Publish(ctx context.Context, topic string, msg outboundMessage) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type pubSubSink struct {
	client  pubSubClient
	factory publisherFactory
	cache   map[string]publisher
}

func newPubSubSink(client pubSubClient, factory publisherFactory) *pubSubSink {
	if factory == nil {
		factory = func(topic string) publisher {
			return newGCPPublisher(client.Publisher(topic))
		}
	}
	return &pubSubSink{client: client, factory: factory, cache: map[string]publisher{}}
}

func (s *pubSubSink) Name() string { return "pubsub" }

func (s *pubSubSink) Ping(ctx context.Context) error { return s.client.Ping(ctx) }

func (s *pubSubSink) Publish(ctx context.Context, topic string, msg outboundMessage) error {
	pub, ok := s.cache[topic]
	if !ok {
		pub = s.factory(topic)
		if pub == nil {
			return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
		}
		s.cache[topic] = pub
	}
	result := pub.Publish(ctx, &gcppubsub.Message{Data: msg.Data, Attributes: msg.Attributes})
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	_, err := result.Get(ctx)
	return err
}

type kafkaPublisher interface {
	Ping(context.Context) error
	Publish(ctx context.Context, msg kafka.Message) error
}

type kafkaSink struct {
	writer kafkaPublisher
}

func (s *kafkaSink) Name() string { return "kafka" }

func (s *kafkaSink) Ping(ctx context.Context) error { return s.writer.Ping(ctx) }

func (s *kafkaSink) Publish(ctx context.Context, topic string, msg outboundMessage) error {
	return s.writer.Publish(ctx, kafka.Message{
		Topic:   topic,
		Key:     msg.Key,
		Value:   msg.Data,
		Headers: msg.Attributes,
		Time:    msg.CreatedAt,
	})
}

func newGCPPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{Publisher: p}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
