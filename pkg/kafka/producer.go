package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Event types published on the events topic
const (
	EventAuthorized              = "integration.authorized"
	EventReauthorizationRequired = "integration.reauthorization_required"
	EventImportCompleted         = "integration.import.completed"
	EventDeleted                 = "integration.deleted"
)

// Config holds Kafka configuration
type Config struct {
	Brokers     []string
	EventsTopic string
	// MaxRetries bounds publish attempts after the first one.
	MaxRetries uint64
}

// ParseConfig parses a comma-separated broker string
func ParseConfig(brokers string, eventsTopic string) Config {
	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}

	return Config{
		Brokers:     brokerList,
		EventsTopic: eventsTopic,
		MaxRetries:  3,
	}
}

// Event is a lifecycle event of an integration.
type Event struct {
	Type          string         `json:"type"`
	TenantID      string         `json:"tenant_id"`
	RoadmapID     string         `json:"roadmap_id"`
	IntegrationID string         `json:"integration_id"`
	Provider      string         `json:"provider"`
	Timestamp     time.Time      `json:"timestamp"`
	TraceID       string         `json:"trace_id,omitempty"`
	SpanID        string         `json:"span_id,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

// MessageWriter is the subset of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes integration events to Kafka
type Producer struct {
	writer     MessageWriter
	logger     ectologger.Logger
	topic      string
	maxRetries uint64
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.EventsTopic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		// Dev brokers may not have the topic yet.
		AllowAutoTopicCreation: true,
	}

	return NewProducerWithWriter(writer, cfg, logger)
}

// NewProducerWithWriter creates a producer over an existing writer
func NewProducerWithWriter(writer MessageWriter, cfg Config, logger ectologger.Logger) *Producer {
	return &Producer{
		writer:     writer,
		logger:     logger,
		topic:      cfg.EventsTopic,
		maxRetries: cfg.MaxRetries,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Publish writes the event keyed by tenant and integration, so events of one
// integration stay ordered within a partition.
func (p *Producer) Publish(ctx context.Context, evt *Event) error {
	if evt == nil {
		return fmt.Errorf("event is nil")
	}

	ctx, span := tracing.StartSpan(ctx, "Kafka.Publish")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.topic),
		attribute.String("messaging.operation", "publish"),
		attribute.String("event_type", evt.Type),
		attribute.String("integration_id", evt.IntegrationID),
	)

	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.TraceID = tracing.GetTraceID(ctx)
	evt.SpanID = tracing.GetSpanID(ctx)

	data, err := json.Marshal(evt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal event")
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	headers := []kafka.Header{
		{Key: "tenant_id", Value: []byte(evt.TenantID)},
		{Key: "integration_id", Value: []byte(evt.IntegrationID)},
		{Key: "provider", Value: []byte(evt.Provider)},
		{Key: "type", Value: []byte(evt.Type)},
	}
	traceparent, tracestate := tracing.TraceHeaders(ctx)
	if traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}
	if tracestate != "" {
		headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(tracestate)})
	}

	msg := kafka.Message{
		Key:     []byte(fmt.Sprintf("%s:%s", evt.TenantID, evt.IntegrationID)),
		Value:   data,
		Headers: headers,
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.maxRetries), ctx)
	err = backoff.Retry(func() error {
		return p.writer.WriteMessages(ctx, msg)
	}, policy)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish event")
		metrics.EventsPublishedTotal.WithLabelValues(evt.Type, metrics.OutcomeFailure).Inc()
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish %s to Kafka topic %s", evt.Type, p.topic)
		return err
	}

	span.SetStatus(codes.Ok, "event published")
	metrics.EventsPublishedTotal.WithLabelValues(evt.Type, metrics.OutcomeSuccess).Inc()
	p.logger.WithContext(ctx).Debugf("Published %s to Kafka: integration=%s trace=%s", evt.Type, evt.IntegrationID, evt.TraceID)
	return nil
}
