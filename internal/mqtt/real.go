package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/basic-switch/internal/credentials"
	"github.com/sweeney/basic-switch/internal/router"
)

// Options configures a RealClient.
type Options struct {
	// ConnectRetryInterval is the wait between connection attempts.
	ConnectRetryInterval time.Duration
	// PublishTimeout bounds how long Publish waits for the client to
	// accept a message.
	PublishTimeout time.Duration
	// BufferSize is the number of topics held while disconnected.
	BufferSize int
	// InboxSize is the capacity of the inbound command channel.
	InboxSize int
}

// DefaultOptions returns the options used by the switch.
func DefaultOptions() Options {
	return Options{
		ConnectRetryInterval: 5 * time.Second,
		PublishTimeout:       2 * time.Second,
		BufferSize:           DefaultBufferSize,
		InboxSize:            16,
	}
}

// RealClient talks to an actual MQTT broker. Inbound commands are handed to
// the control loop through Inbox; the paho goroutines never touch device state.
type RealClient struct {
	opts      Options
	log       logrus.FieldLogger
	newClient func(*paho.ClientOptions) paho.Client

	inbox     chan router.Message
	connected chan struct{}

	mu     sync.Mutex
	client paho.Client
	rec    credentials.Record
	topics router.Topics
	buffer *outbox
}

// NewRealClient creates a disconnected client. Call Accept with a complete
// record to connect.
func NewRealClient(opts Options, log logrus.FieldLogger) *RealClient {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.InboxSize < 1 {
		opts.InboxSize = 1
	}
	return &RealClient{
		opts:      opts,
		log:       log,
		newClient: paho.NewClient,
		inbox:     make(chan router.Message, opts.InboxSize),
		connected: make(chan struct{}, 1),
		buffer:    newOutbox(opts.BufferSize, log),
	}
}

// Inbox delivers inbound command messages.
func (c *RealClient) Inbox() <-chan router.Message {
	return c.inbox
}

// Connected signals after every successful (re)connect, once the command
// topics are subscribed. The receiver is expected to publish fresh status
// and identity reports; publishes buffered while offline are not replayed.
func (c *RealClient) Connected() <-chan struct{} {
	return c.connected
}

// Accept replaces the credential record and reconnects with it. The previous
// connection, if any, is closed in the background.
func (c *RealClient) Accept(rec credentials.Record) {
	if err := c.connect(rec); err != nil {
		c.log.WithError(err).Error("mqtt connect")
	}
}

func (c *RealClient) connect(rec credentials.Record) error {
	if rec.IsZero() {
		return ErrNotProvisioned
	}

	opts := paho.NewClientOptions().
		AddBroker(rec.BrokerURL()).
		SetClientID(rec.Device()).
		SetUsername(rec.Login()).
		SetPassword(rec.Password()).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(c.opts.ConnectRetryInterval).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.log.WithError(err).Warn("mqtt connection lost")
		})

	client := c.newClient(opts)
	topics := router.NewTopics(rec.Device())

	c.mu.Lock()
	old := c.client
	c.client = client
	c.rec = rec
	c.topics = topics
	stale := c.buffer.retain(topics.Owns)
	c.mu.Unlock()

	if stale > 0 {
		c.log.WithFields(logrus.Fields{
			"device":  rec.Device(),
			"dropped": stale,
		}).Info("dropped buffered publishes for previous device")
	}

	if old != nil {
		go old.Disconnect(250)
	}

	// With connect retry the token only completes once connected
	token := client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			c.log.WithError(err).WithField("broker", rec.BrokerURL()).Error("mqtt connect failed")
		}
	}()

	c.log.WithFields(logrus.Fields{
		"broker": rec.BrokerURL(),
		"device": rec.Device(),
	}).Info("mqtt connecting")
	return nil
}

// onConnect runs on a paho goroutine after every (re)connect.
func (c *RealClient) onConnect(client paho.Client) {
	c.mu.Lock()
	if client != c.client {
		// Superseded by a newer record
		c.mu.Unlock()
		return
	}
	topics := c.topics
	// Superseded by the reports the loop sends on Connected
	superseded := c.buffer.drainAll()
	c.mu.Unlock()

	filters := make(map[string]byte)
	for _, t := range topics.Subscriptions() {
		filters[t] = QoS
	}
	sub := client.SubscribeMultiple(filters, c.handle)
	go func() {
		sub.Wait()
		if err := sub.Error(); err != nil {
			c.log.WithError(err).Error("mqtt subscribe failed")
		}
	}()

	c.log.WithFields(logrus.Fields{
		"subscriptions": len(filters),
		"superseded":    len(superseded),
	}).Info("mqtt connected")

	select {
	case c.connected <- struct{}{}:
	default:
	}
}

// handle runs on a paho goroutine for every inbound message.
func (c *RealClient) handle(_ paho.Client, m paho.Message) {
	msg := toMessage(m)
	select {
	case c.inbox <- msg:
	default:
		c.log.WithField("topic", msg.Topic).Warn("inbox full, dropping command")
	}
}

// Publish sends a report to the broker. While disconnected the latest
// payload per topic is held and nil is returned.
func (c *RealClient) Publish(topic string, payload []byte, retained bool) error {
	c.mu.Lock()
	client := c.client
	if client == nil || !client.IsConnectionOpen() {
		c.buffer.push(bufferedMsg{topic: topic, payload: payload, retained: retained})
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	token := client.Publish(topic, QoS, retained, payload)
	if !token.WaitTimeout(c.opts.PublishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports whether the broker link is currently open.
func (c *RealClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil && c.client.IsConnectionOpen()
}

// Buffered returns the number of topics held while disconnected.
func (c *RealClient) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer.len()
}

// Dropped returns the number of held publishes lost to buffer overflow or
// a device rename.
func (c *RealClient) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer.dropped
}

// Close disconnects from the broker.
func (c *RealClient) Close() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client != nil {
		client.Disconnect(1000) // 1 second timeout
	}
	return nil
}
