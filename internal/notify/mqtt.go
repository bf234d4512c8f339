package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTPublisher publishes each event to <prefix>/<type>, for example
// refurbline/qc.failed.
type MQTTPublisher struct {
	Client      mqtt.Client
	TopicPrefix string
	QoS         byte
	Timeout     time.Duration
}

// DialMQTT connects to broker and returns a ready client.
func DialMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker %s: %w", broker, token.Error())
	}
	return client, nil
}

func (p MQTTPublisher) Topic(evtType string) string {
	prefix := strings.TrimSuffix(p.TopicPrefix, "/")
	if prefix == "" {
		return evtType
	}
	return prefix + "/" + evtType
}

func (p MQTTPublisher) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	topic := p.Topic(evt.Type)
	token := p.Client.Publish(topic, p.QoS, false, data)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}
