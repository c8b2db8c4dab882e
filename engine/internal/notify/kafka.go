package notify

import (
	"context"
	"fmt"
	"time"

	"venue-execution-engine/engine/config"
	"venue-execution-engine/engine/internal/events"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"
)

const defaultTopicPrefix = "engine"

// messageWriter is the part of *kafka.Writer the sink uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// envelope is the JSON body of every published event
type envelope struct {
	Type      events.Kind  `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Payload   events.Event `json:"payload"`
}

// KafkaSink publishes each event kind to its own topic, <prefix>.<kind>
type KafkaSink struct {
	writer messageWriter
	prefix string
}

// NewKafkaSink creates a sink writing to the configured brokers
func NewKafkaSink(cfg config.NotifyConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("notify: no kafka brokers configured")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return newKafkaSink(w, cfg.TopicPrefix), nil
}

func newKafkaSink(w messageWriter, prefix string) *KafkaSink {
	if prefix == "" {
		prefix = defaultTopicPrefix
	}
	return &KafkaSink{writer: w, prefix: prefix}
}

func (s *KafkaSink) Name() string { return "kafka" }

// Topic returns the topic an event kind is published to
func (s *KafkaSink) Topic(k events.Kind) string {
	return s.prefix + "." + string(k)
}

func (s *KafkaSink) Deliver(ctx context.Context, e events.Event) error {
	body, err := sonic.Marshal(envelope{Type: e.Kind(), Timestamp: e.At(), Payload: e})
	if err != nil {
		return fmt.Errorf("notify: encode %s: %w", e.Kind(), err)
	}
	msg := kafka.Message{
		Topic: s.Topic(e.Kind()),
		Key:   []byte(messageKey(e)),
		Value: body,
		Time:  e.At(),
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("notify: publish %s: %w", e.Kind(), err)
	}
	return nil
}

// messageKey keeps one venue's events on one partition
func messageKey(e events.Event) string {
	switch ev := e.(type) {
	case events.TradeExecuted:
		return ev.Contract.Venue
	case events.TradeClosed:
		return ev.Contract.Venue
	case events.BalanceUpdate:
		return ev.Venue
	case events.PriceTick:
		return ev.Venue
	case events.VenueConnected:
		return ev.Venue
	case events.VenueUnavailable:
		return ev.Venue
	case events.RiskAlert:
		return ev.Type
	}
	return string(e.Kind())
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
