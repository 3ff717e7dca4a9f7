// Package notify publishes announcements to an MQTT broker.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/logger"
)

// Event is the message payload
type Event struct {
	Session  string    `json:"session,omitempty"`
	Time     time.Time `json:"time"`
	Action   string    `json:"action"`
	Count    int       `json:"count"`
	Stable   int       `json:"stable"`
	Replayed bool      `json:"replayed,omitempty"`
	Status   string    `json:"status"`
}

// Config holds the broker settings
type Config struct {
	Broker         string
	Topic          string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	Retain         bool
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// MQTTPublisher queues events and publishes them from Run
type MQTTPublisher struct {
	cfg    Config
	client mqtt.Client
	queue  chan Event

	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// NewMQTT creates a publisher; Connect must be called before Run
func NewMQTT(cfg Config) *MQTTPublisher {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("MQTT", "Connected to broker %s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT", "Connection to %s lost: %v", cfg.Broker, err)
	})
	return newWithClient(cfg, mqtt.NewClient(opts))
}

func newWithClient(cfg Config, client mqtt.Client) *MQTTPublisher {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &MQTTPublisher{
		cfg:    cfg,
		client: client,
		queue:  make(chan Event, 16),
	}
}

// Connect dials the broker
func (p *MQTTPublisher) Connect() error {
	token := p.client.Connect()
	if !token.WaitTimeout(p.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt connect to %s: timeout", p.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", p.cfg.Broker, err)
	}
	return nil
}

// Publish queues an event (non-blocking); false means it was dropped
func (p *MQTTPublisher) Publish(e Event) bool {
	select {
	case p.queue <- e:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// Run publishes queued events until ctx is cancelled, then disconnects
func (p *MQTTPublisher) Run(ctx context.Context) error {
	defer p.client.Disconnect(250)

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-p.queue:
			if err := p.send(e); err != nil {
				p.failed.Add(1)
				logger.Warn("MQTT", "Publish failed: %v", err)
				continue
			}
			p.published.Add(1)
		}
	}
}

func (p *MQTTPublisher) send(e Event) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("not connected to %s", p.cfg.Broker)
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	token := p.client.Publish(p.cfg.Topic, p.cfg.QoS, p.cfg.Retain, payload)
	if !token.WaitTimeout(p.cfg.PublishTimeout) {
		return fmt.Errorf("publish to %s: timeout", p.cfg.Topic)
	}
	return token.Error()
}

// Stats are the publisher's delivery counters
type Stats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

// Stats reports delivery counters
func (p *MQTTPublisher) Stats() Stats {
	return Stats{
		Connected: p.client.IsConnected(),
		Published: p.published.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
	}
}
