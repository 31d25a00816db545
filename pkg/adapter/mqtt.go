package adapter

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/m-mizutani/goerr/v2"
)

// Publisher publishes payloads to a message broker
type Publisher interface {
	Publish(topic string, payload []byte) error
	Close()
}

type mqttClient struct {
	raw     mqtt.Client
	qos     byte
	timeout time.Duration
}

// NewMQTT connects to an MQTT broker such as tcp://localhost:1883
func NewMQTT(brokerURL, clientID string) (Publisher, error) {
	o := mqtt.NewClientOptions()
	o.AddBroker(brokerURL)
	o.SetClientID(clientID)
	o.SetConnectRetry(true)
	o.SetConnectRetryInterval(2 * time.Second)
	o.SetAutoReconnect(true)
	c := mqtt.NewClient(o)

	token := c.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, goerr.New("MQTT connect timed out", goerr.V("broker", brokerURL))
	}
	if err := token.Error(); err != nil {
		return nil, goerr.Wrap(err, "failed to connect MQTT broker", goerr.V("broker", brokerURL))
	}

	return &mqttClient{
		raw:     c,
		qos:     1,
		timeout: 5 * time.Second,
	}, nil
}

func (c *mqttClient) Publish(topic string, payload []byte) error {
	token := c.raw.Publish(topic, c.qos, false, payload)
	if !token.WaitTimeout(c.timeout) {
		return goerr.New("MQTT publish timed out", goerr.V("topic", topic))
	}
	if err := token.Error(); err != nil {
		return goerr.Wrap(err, "failed to publish MQTT message", goerr.V("topic", topic))
	}
	return nil
}

func (c *mqttClient) Close() {
	c.raw.Disconnect(250)
}
