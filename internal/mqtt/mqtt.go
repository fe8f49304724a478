package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

var ErrTimeout = errors.New("mqtt operation timed out")

// Message is the part of a paho message the bridge reads.
type Message interface {
	Topic() string
	Payload() []byte
	Retained() bool
}

type Handler func(Message)

// Publisher is the minimal surface command emitters need. It lets the
// reconcile and httpapi packages run without a live broker in tests.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

type Options struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

type Client struct {
	cli            paho.Client
	publishTimeout time.Duration

	mu   sync.Mutex
	subs map[string]Handler
}

func Connect(o Options) (*Client, error) {
	server, user, err := brokerAddress(o.BrokerURL)
	if err != nil {
		return nil, err
	}

	c := &Client{publishTimeout: o.PublishTimeout, subs: map[string]Handler{}}
	if c.publishTimeout <= 0 {
		c.publishTimeout = 5 * time.Second
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(server)
	clientID := strings.TrimSpace(o.ClientID)
	if clientID == "" {
		clientID = "iot-bridge-" + uuid.NewString()[:8]
	}
	opts.SetClientID(clientID)
	if user != nil {
		pw, _ := user.Password()
		opts.SetUsername(user.Username())
		opts.SetPassword(pw)
	}
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	if strings.HasPrefix(server, "ssl://") || strings.HasPrefix(server, "wss://") {
		// ESP brokers commonly run self-signed certificates.
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		slog.Warn("mqtt connection lost", "error", err)
	}
	opts.OnConnect = c.onConnect

	c.cli = paho.NewClient(opts)
	connectTimeout := o.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 15 * time.Second
	}
	tok := c.cli.Connect()
	if ok := tok.WaitTimeout(connectTimeout); !ok {
		return nil, fmt.Errorf("connect %s: %w", server, ErrTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", server, err)
	}
	return c, nil
}

// brokerAddress turns mqtt://, tcp://, ssl://, tls://, ws:// and wss:// URLs (or a
// bare host:port) into a paho server string plus optional credentials.
func brokerAddress(raw string) (string, *url.Userinfo, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "mqtt://localhost:1883"
	}
	if !strings.Contains(raw, "://") {
		raw = "tcp://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", nil, fmt.Errorf("parse broker url: %w", err)
	}
	var server string
	switch u.Scheme {
	case "mqtt", "tcp":
		server = "tcp://" + u.Host
	case "ssl", "tls", "mqtts":
		server = "ssl://" + u.Host
	case "ws", "wss":
		server = u.Scheme + "://" + u.Host + u.Path
	default:
		return "", nil, fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
	return server, u.User, nil
}

// onConnect restores every subscription after a (re)connect; the session is clean.
func (c *Client) onConnect(cli paho.Client) {
	slog.Info("mqtt connected")
	c.mu.Lock()
	subs := make(map[string]Handler, len(c.subs))
	for k, v := range c.subs {
		subs[k] = v
	}
	c.mu.Unlock()
	for topic, h := range subs {
		if err := c.subscribe(cli, topic, h); err != nil {
			slog.Error("mqtt resubscribe failed", "topic", topic, "error", err)
		}
	}
}

func (c *Client) Subscribe(topic string, handler Handler) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()
	return c.subscribe(c.cli, topic, handler)
}

func (c *Client) subscribe(cli paho.Client, topic string, handler Handler) error {
	tok := cli.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		handler(msg)
	})
	if ok := tok.WaitTimeout(c.publishTimeout); !ok {
		return fmt.Errorf("subscribe %s: %w", topic, ErrTimeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	slog.Info("mqtt subscribed", "topic", topic)
	return nil
}

// Publish sends payload with QoS 1 and waits at most the publish timeout for the
// broker acknowledgement.
func (c *Client) Publish(topic string, payload []byte) error {
	tok := c.cli.Publish(topic, 1, false, payload)
	if ok := tok.WaitTimeout(c.publishTimeout); !ok {
		return fmt.Errorf("publish %s: %w", topic, ErrTimeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (c *Client) Close() {
	if c == nil || c.cli == nil {
		return
	}
	c.cli.Disconnect(1000)
}
