// Package mqttlink bridges two nodes' packet streams over an MQTT broker,
// for running the simulation across separate processes or machines instead
// of sharing an in-process channel.
package mqttlink

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sourcerouted/overlay/internal/link"
	"github.com/sourcerouted/overlay/internal/wire"
)

// DefaultTopicPrefix is the default MQTT topic prefix for overlay packets.
const DefaultTopicPrefix = "overlay"

// Config holds the configuration needed to bridge one edge over MQTT.
type Config struct {
	Broker      string
	Username    string
	Password    string
	UseTLS      bool
	ClientID    string
	TopicPrefix string
	// EdgeID identifies this edge's pub/sub topic; both ends of the link
	// must use the same value.
	EdgeID string
	Logger *slog.Logger
}

// Link implements link.Link over an MQTT broker.
type Link struct {
	cfg    Config
	client paho.Client
	log    *slog.Logger
	in     chan *wire.Packet
}

var _ link.Link = (*Link)(nil)

// Dial connects to the broker and subscribes to the edge topic. The
// returned Link is ready for Send/Inbound use once Dial returns nil error.
func Dial(ctx context.Context, cfg Config) (*Link, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqttlink: broker URL is required")
	}
	if cfg.EdgeID == "" {
		return nil, errors.New("mqttlink: edge id is required")
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	l := &Link{
		cfg: cfg,
		log: cfg.Logger.WithGroup("mqttlink"),
		in:  make(chan *wire.Packet, 64),
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "overlay-" + randomString(16)
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(60 * time.Second).
		SetCleanSession(true).
		SetOnConnectHandler(l.onConnected)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	l.client = paho.NewClient(opts)

	token := l.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return nil, errors.New("mqttlink: connection timeout")
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("mqttlink: connecting to broker: %w", token.Error())
	}

	return l, nil
}

func (l *Link) topic() string { return l.cfg.TopicPrefix + "/" + l.cfg.EdgeID }

func (l *Link) onConnected(c paho.Client) {
	c.Subscribe(l.topic(), 0, l.handleMessage)
	l.log.Debug("subscribed", "topic", l.topic())
}

func (l *Link) handleMessage(_ paho.Client, m paho.Message) {
	raw, err := base64.StdEncoding.DecodeString(string(m.Payload()))
	if err != nil {
		l.log.Debug("failed to decode base64 payload", "error", err)
		return
	}
	var p wire.Packet
	if err := p.ReadFrom(raw); err != nil {
		l.log.Debug("failed to parse packet", "error", err)
		return
	}
	select {
	case l.in <- &p:
	default:
		l.log.Warn("inbound buffer full, dropping packet")
	}
}

// Send publishes p to the edge topic.
func (l *Link) Send(p *wire.Packet) error {
	if !l.client.IsConnected() {
		return errors.New("mqttlink: not connected")
	}
	payload := base64.StdEncoding.EncodeToString(p.WriteTo())
	token := l.client.Publish(l.topic(), 0, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("mqttlink: timeout publishing")
	}
	return token.Error()
}

// Inbound exposes packets received over MQTT.
func (l *Link) Inbound() <-chan *wire.Packet { return l.in }

// Close disconnects from the broker.
func (l *Link) Close() error {
	if l.client != nil {
		l.client.Disconnect(250)
	}
	return nil
}

func randomString(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
