// Package trigger bridges the booth to an MQTT bus so a physical arcade
// button, a remote display or a venue controller can drive sessions and
// follow their progress.
package trigger

import (
	"errors"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	operationTimeout = 10 * time.Second
	qos              = 1
)

// ErrTimeout is returned when the broker does not acknowledge in time.
var ErrTimeout = errors.New("mqtt operation timed out")

// MessageHandler receives a message payload for a topic.
type MessageHandler func(topic string, payload []byte)

// Conn is the broker connection the bridge needs.
type Conn interface {
	Subscribe(topic string, handler MessageHandler) error
	Publish(topic string, payload []byte, retained bool) error
}

// ClientOptions configures a broker connection.
type ClientOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// Client wraps the Paho MQTT client.
type Client struct {
	client paho.Client
	mu     sync.Mutex
}

var _ Conn = (*Client)(nil)

// NewClient creates a client but does not connect. It reconnects on its own
// after the first successful connection.
func NewClient(o ClientOptions) *Client {
	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetCleanSession(true)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	return &Client{client: paho.NewClient(opts)}
}

// Connect attempts to connect to the broker without blocking indefinitely.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wait(c.client.Connect())
}

// Subscribe subscribes to a topic at QoS 1.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wait(c.client.Subscribe(topic, qos, func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	}))
}

// Publish sends payload at QoS 1.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	return wait(c.client.Publish(topic, qos, retained, payload))
}

// Disconnect cleanly disconnects from the broker.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client.Disconnect(1000)
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

func wait(token paho.Token) error {
	if !token.WaitTimeout(operationTimeout) {
		return ErrTimeout
	}
	return token.Error()
}
