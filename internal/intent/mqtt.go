package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type MQTTConfig struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// MQTT publishes intents as JSON on <prefix>/intent with QoS 1.
type MQTT struct {
	client paho.Client
	topic  string
}

func NewMQTT(cfg MQTTConfig) (*MQTT, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Printf("[intent] mqtt connection lost: %v", err)
	})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("intent: mqtt connect: %w", token.Error())
	}
	log.Printf("[intent] mqtt connected broker=%s", cfg.BrokerURL)
	return newMQTTWithClient(client, cfg.TopicPrefix), nil
}

func newMQTTWithClient(client paho.Client, prefix string) *MQTT {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "avatar"
	}
	return &MQTT{client: client, topic: prefix + "/intent"}
}

func (m *MQTT) Topic() string { return m.topic }

func (m *MQTT) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("intent: encode: %w", err)
	}
	token := m.client.Publish(m.topic, 1, false, body)
	select {
	case <-token.Done():
	case <-ctx.Done():
		metricPublished.WithLabelValues("mqtt", "timeout").Inc()
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		metricPublished.WithLabelValues("mqtt", "error").Inc()
		return fmt.Errorf("intent: publish: %w", err)
	}
	metricPublished.WithLabelValues("mqtt", "ok").Inc()
	return nil
}

func (m *MQTT) Close() { m.client.Disconnect(100) }
