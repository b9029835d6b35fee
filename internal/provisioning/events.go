package provisioning

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/saasml/mlaas-platform/internal/domain"
)

// StackEvent requests infrastructure work that runs outside the control
// plane: a dedicated serving stack for a premium tenant. The event is the
// boundary; the stack itself is provisioned asynchronously.
type StackEvent struct {
	TenantID    string    `json:"tenant_id"`
	Tier        string    `json:"tier"`
	Action      string    `json:"action"`
	StackName   string    `json:"stack_name"`
	RequestedAt time.Time `json:"requested_at"`
}

const ActionProvisionDedicatedStack = "provision_dedicated_stack"

// EventPublisher emits provisioning events to the platform event bus.
type EventPublisher interface {
	Publish(ctx context.Context, event *StackEvent) error
}

// KafkaPublisher publishes provisioning events to a Kafka topic, keyed by
// tenant id so events for one tenant stay ordered.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerLinger(5*time.Millisecond),
	)
	if err != nil {
		return nil, err
	}
	return &KafkaPublisher{client: client, topic: topic}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, event *StackEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.TenantID),
		Value: payload,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("%w: publish provisioning event: %v", domain.ErrUpstream, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() {
	p.client.Close()
}

// MemoryPublisher collects events in memory for tests.
type MemoryPublisher struct {
	Events []*StackEvent
	Err    error
}

func (p *MemoryPublisher) Publish(_ context.Context, event *StackEvent) error {
	if p.Err != nil {
		return p.Err
	}
	p.Events = append(p.Events, event)
	return nil
}
