package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/evencrop/brain/internal/logic"
)

const pendingCapacity = 256

// RealPublisher publishes to an actual MQTT broker. Messages published
// while the broker is unreachable are held in a bounded ring buffer and
// replayed on reconnect.
type RealPublisher struct {
	client paho.Client

	mu      sync.Mutex
	pending *ringBuffer
}

// NewRealPublisher creates a publisher connected to the given broker.
func NewRealPublisher(broker string) (*RealPublisher, error) {
	p := &RealPublisher{
		pending: newRingBuffer(pendingCapacity),
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID("evencrop-brain").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(paho.Client) {
			p.drainPending()
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		// Connect retry keeps going in the background; messages buffer
		// until it lands. The daemon must run with the broker down.
		log.Printf("mqtt: broker %s not reachable yet, retrying in background", broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// PublishDelay announces a changed auto-delay value.
func (p *RealPublisher) PublishDelay(ms int, at time.Time) error {
	payload, err := FormatDelayPayload(ms, at)
	if err != nil {
		return fmt.Errorf("format delay payload: %w", err)
	}
	return p.publish(TopicEvents, 0, false, payload)
}

// PublishCycle announces a planned delivery cycle.
func (p *RealPublisher) PublishCycle(entries []logic.ScheduleEntry, at time.Time) error {
	payload, err := FormatCyclePayload(entries, at)
	if err != nil {
		return fmt.Errorf("format cycle payload: %w", err)
	}
	return p.publish(TopicEvents, 0, false, payload)
}

// PublishActuation announces a finished unit actuation.
func (p *RealPublisher) PublishActuation(unit int, outcome string, at time.Time) error {
	payload, err := FormatActuationPayload(unit, outcome, at)
	if err != nil {
		return fmt.Errorf("format actuation payload: %w", err)
	}
	return p.publish(TopicEvents, 0, false, payload)
}

// PublishSystem sends a system lifecycle event. QoS 1: we want delivery
// of startup/shutdown confirmed.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(TopicSystem, 1, event.Retained, payload)
}

// IsConnected reports whether the broker connection is active.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // milliseconds to flush in-flight work
	return nil
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.pending.push(pendingMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// drainPending replays messages buffered while disconnected.
func (p *RealPublisher) drainPending() {
	p.mu.Lock()
	msgs, dropped := p.pending.drainAll()
	p.mu.Unlock()

	if dropped > 0 {
		log.Printf("mqtt: dropped %d buffered messages while disconnected", dropped)
	}
	for _, m := range msgs {
		token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
		if !token.WaitTimeout(5 * time.Second) {
			log.Printf("mqtt: replay timeout on %s", m.topic)
			continue
		}
		if err := token.Error(); err != nil {
			log.Printf("mqtt: replay failed on %s: %v", m.topic, err)
		}
	}
}
