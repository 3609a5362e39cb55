// Package mqtt connects the rig to a broker for remote control and status.
package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Default broker ports.
const (
	PlainPort = 1883
	TLSPort   = 8883
)

// Config holds MQTT connection settings.
type Config struct {
	Host       string `yaml:"host"` // empty = MQTT off
	Port       int    `yaml:"port"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
	Prefix     string `yaml:"prefix"` // topic root, default "semafor"

	// Credentials come from MQTT_USERNAME / MQTT_PASSWORD, not the file.
	Username string `yaml:"-"`
	Password string `yaml:"-"`
}

// Handlers are called from paho's goroutines.
type Handlers struct {
	OnConnect    func()
	OnDisconnect func()
	OnMessage    func(topic string, payload []byte)
}

// Topics are the per-rig topic names.
type Topics struct {
	Control string
	Phase   string
	State   string
	Ping    string
}

// TopicsFor builds the topic names for clientID under prefix.
func TopicsFor(prefix, clientID string) Topics {
	if prefix == "" {
		prefix = "semafor"
	}
	root := prefix + "/" + clientID
	return Topics{
		Control: root + "/control",
		Phase:   root + "/status/phase",
		State:   root + "/status/state",
		Ping:    root + "/ping",
	}
}

// Client is a broker session. Without a host every call succeeds and
// nothing is sent, so callers need no MQTT checks of their own.
type Client struct {
	conn     paho.Client // nil when off
	handlers Handlers
	log      *log.Entry
}

// pahoLogger routes paho's internal logging into logrus.
type pahoLogger struct {
	entry *log.Entry
	level log.Level
}

func (l pahoLogger) Println(v ...interface{}) {
	l.entry.Log(l.level, fmt.Sprint(v...))
}

func (l pahoLogger) Printf(format string, v ...interface{}) {
	l.entry.Logf(l.level, format, v...)
}

// New prepares a client; Connect dials.
func New(cfg Config, clientID string, handlers Handlers) (*Client, error) {
	c := &Client{handlers: handlers, log: log.WithField("component", "mqtt")}
	if cfg.Host == "" {
		c.log.Info("MQTT disabled (no host configured)")
		return c, nil
	}

	broker, tlsConfig, err := endpoint(cfg)
	if err != nil {
		return nil, err
	}
	if tlsConfig == nil {
		c.log.Warn("MQTT using non-TLS connection")
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetKeepAlive(time.Minute).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.log.Warnf("MQTT connection lost: %v", err)
			call(handlers.OnDisconnect)
		}).
		SetOnConnectHandler(func(paho.Client) {
			c.log.Info("MQTT connection established")
			call(handlers.OnConnect)
		}).
		SetDefaultPublishHandler(func(_ paho.Client, msg paho.Message) {
			if handlers.OnMessage != nil {
				handlers.OnMessage(msg.Topic(), msg.Payload())
			}
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}
	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	paho.ERROR = pahoLogger{c.log, log.ErrorLevel}
	paho.CRITICAL = pahoLogger{c.log, log.ErrorLevel}
	paho.WARN = pahoLogger{c.log, log.WarnLevel}

	c.conn = paho.NewClient(opts)
	return c, nil
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}

// endpoint picks the broker URL. Any certificate setting means TLS.
func endpoint(cfg Config) (string, *tls.Config, error) {
	if cfg.CACert == "" && cfg.ClientCert == "" {
		if cfg.Port == 0 {
			cfg.Port = PlainPort
		}
		return fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port), nil, nil
	}

	if cfg.Port == 0 {
		cfg.Port = TLSPort
	}
	tlsConfig := &tls.Config{}
	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return "", nil, fmt.Errorf("build TLS config: read CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return "", nil, fmt.Errorf("build TLS config: no certificates in %s", cfg.CACert)
		}
		tlsConfig.RootCAs = pool
	}
	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return "", nil, fmt.Errorf("build TLS config: load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return fmt.Sprintf("ssl://%s:%d", cfg.Host, cfg.Port), tlsConfig, nil
}

// IsEnabled reports whether a broker is configured.
func (c *Client) IsEnabled() bool {
	return c.conn != nil
}

// Connect dials the broker. With MQTT off it reports a connection at once
// so startup runs the same path.
func (c *Client) Connect() error {
	if c.conn == nil {
		call(c.handlers.OnConnect)
		return nil
	}
	if token := c.conn.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect: %w", token.Error())
	}
	c.log.Info("MQTT connected")
	return nil
}

// Disconnect closes the session, waiting up to 250 ms for pending work.
func (c *Client) Disconnect() {
	if c.conn != nil {
		c.conn.Disconnect(250)
	}
}

// Subscribe adds topic at QoS 0; messages go to Handlers.OnMessage.
func (c *Client) Subscribe(topic string) error {
	if c.conn == nil {
		return nil
	}
	if token := c.conn.Subscribe(topic, 0, nil); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	return nil
}

// Publish sends payload at QoS 0 without waiting for delivery.
func (c *Client) Publish(topic string, payload string) {
	c.publish(topic, false, payload)
}

// PublishJSON marshals v and publishes it retained, so a new subscriber
// sees the latest state.
func (c *Client) PublishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	c.publish(topic, true, payload)
	return nil
}

func (c *Client) publish(topic string, retained bool, payload any) {
	if c.conn == nil {
		return
	}
	c.conn.Publish(topic, 0, retained, payload)
}
