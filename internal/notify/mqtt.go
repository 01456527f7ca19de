package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTOptions configures an MQTTPublisher.
type MQTTOptions struct {
	// Broker is a URL such as tcp://localhost:1883.
	Broker   string
	ClientID string
	Username string
	Password string
	// TopicPrefix defaults to "airquality/alerts".
	TopicPrefix    string
	QoS            byte
	ConnectTimeout time.Duration
}

type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes each message as JSON to <prefix>/<locationId>/<channel>.
type MQTTPublisher struct {
	client mqttClient
	prefix string
	qos    byte
}

// NewMQTTPublisher connects to the broker and returns a publisher.
func NewMQTTPublisher(opts MQTTOptions, logger *zap.Logger) (*MQTTPublisher, error) {
	if strings.TrimSpace(opts.Broker) == "" {
		return nil, errors.New("mqtt: broker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ClientID == "" {
		opts.ClientID = "airquality-dashboard"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" && opts.Password != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.SetAutoReconnect(true)
	co.OnConnect = func(c mqtt.Client) {
		logger.Info("connected to mqtt broker", zap.Strings("servers", brokerStrings(c)))
	}
	co.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Error("mqtt connection lost", zap.Error(err))
	}

	c := mqtt.NewClient(co)
	token := c.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt: connect to %s timed out", opts.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", opts.Broker, err)
	}
	return newMQTTPublisherWithClient(c, opts.TopicPrefix, opts.QoS), nil
}

func newMQTTPublisherWithClient(c mqttClient, prefix string, qos byte) *MQTTPublisher {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "airquality/alerts"
	}
	return &MQTTPublisher{client: c, prefix: prefix, qos: qos}
}

func brokerStrings(c mqtt.Client) []string {
	r := c.OptionsReader()
	out := make([]string, 0, len(r.Servers()))
	for _, u := range r.Servers() {
		out = append(out, u.String())
	}
	return out
}

// Topic returns the topic a message is published to.
func (p *MQTTPublisher) Topic(msg Message) string {
	return fmt.Sprintf("%s/%s/%s", p.prefix, msg.LocationID, msg.Channel)
}

// Publish implements Publisher. It waits for the broker acknowledgement or ctx.
func (p *MQTTPublisher) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	topic := p.Topic(msg)
	token := p.client.Publish(topic, p.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt publish to %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", topic, err)
	}
	return nil
}

// Name implements Publisher.
func (p *MQTTPublisher) Name() string { return BackendMQTT }

// Close disconnects, allowing 250ms for in-flight work.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
