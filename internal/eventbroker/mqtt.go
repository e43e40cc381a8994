package eventbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// topicPrefix namespaces MQTT topics by EventType, one topic per type so
// Subscribe can filter at the broker rather than client-side.
const topicPrefix = "flowerpower/events/"

// MQTT publishes envelopes over eclipse/paho.mqtt.golang. Grounded on
// original_source's worker/apscheduler/setup/eventbroker.py and
// io/loader/mqtt.py, which the distilled spec.md dropped but which the
// original implementation supports as a first-class event broker kind.
type MQTT struct {
	client mqtt.Client
}

func NewMQTT(brokerURI, clientID string) (*MQTT, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURI).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", brokerURI, token.Error())
	}
	return &MQTT{client: client}, nil
}

func (m *MQTT) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	token := m.client.Publish(topicPrefix+string(env.EventType), 1, false, body)
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		return fmt.Errorf("publish %s: %w", env.EventType, token.Error())
	}
	return nil
}

func (m *MQTT) Subscribe(ctx context.Context, types ...EventType) (<-chan Envelope, error) {
	if len(types) == 0 {
		types = allEventTypes
	}
	out := make(chan Envelope, 64)

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		var env Envelope
		if err := json.Unmarshal(msg.Payload(), &env); err != nil {
			return
		}
		select {
		case out <- env:
		case <-ctx.Done():
		}
	}

	for _, t := range types {
		token := m.client.Subscribe(topicPrefix+string(t), 1, handler)
		if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			close(out)
			return nil, fmt.Errorf("subscribe %s: %w", t, token.Error())
		}
	}

	go func() {
		<-ctx.Done()
		for _, t := range types {
			m.client.Unsubscribe(topicPrefix + string(t))
		}
		close(out)
	}()

	return out, nil
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
