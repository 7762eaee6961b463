package telemetry

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	mqtt "github.com/soypat/natiu-mqtt"
)

// MQTTConfig configures an MQTT publisher.
type MQTTConfig struct {
	ClientID string
	// Topic is the topic link events are published on.
	Topic   string
	Timeout time.Duration
}

func (c *MQTTConfig) defaults() {
	if c.ClientID == "" {
		c.ClientID = "adin2111"
	}
	if c.Topic == "" {
		c.Topic = "adin2111/link"
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
}

var errMQTTConnect = errors.New("telemetry: mqtt connect not acknowledged")

// MQTT publishes link events with QoS 0.
type MQTT struct {
	mu     sync.Mutex
	conn   net.Conn
	client *mqtt.Client
	flags  mqtt.PacketFlags
	vars   mqtt.VariablesPublish
	cfg    MQTTConfig
	buf    []byte
}

// DialMQTT connects to the broker at address over TCP.
func DialMQTT(ctx context.Context, address string, cfg MQTTConfig) (*MQTT, error) {
	cfg.defaults()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	m, err := NewMQTT(ctx, conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return m, nil
}

// NewMQTT performs the MQTT connect handshake over conn.
func NewMQTT(ctx context.Context, conn net.Conn, cfg MQTTConfig) (*MQTT, error) {
	cfg.defaults()
	flags, err := mqtt.NewPublishFlags(mqtt.QoS0, false, false)
	if err != nil {
		return nil, err
	}
	client := mqtt.NewClient(mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: make([]byte, 1024)},
		OnPub: func(_ mqtt.Header, _ mqtt.VariablesPublish, r io.Reader) error {
			_, err := io.Copy(io.Discard, r)
			return err
		},
	})
	deadline := time.Now().Add(cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)
	defer conn.SetDeadline(time.Time{})

	var varconn mqtt.VariablesConnect
	varconn.SetDefaultMQTT([]byte(cfg.ClientID))
	if err = client.StartConnect(conn, &varconn); err != nil {
		return nil, err
	}
	for !client.IsConnected() {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		if err = client.HandleNext(); err != nil {
			return nil, errors.Join(errMQTTConnect, err)
		}
	}
	return &MQTT{
		conn:   conn,
		client: client,
		flags:  flags,
		vars:   mqtt.VariablesPublish{TopicName: []byte(cfg.Topic)},
		cfg:    cfg,
	}, nil
}

func (m *MQTT) PublishLink(ev LinkEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.client.IsConnected() {
		return errors.Join(errMQTTConnect, m.client.Err())
	}
	m.buf = ev.AppendPayload(m.buf[:0])
	m.conn.SetWriteDeadline(time.Now().Add(m.cfg.Timeout))
	return m.client.PublishPayload(m.flags, m.vars, m.buf)
}

func (m *MQTT) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client.IsConnected() {
		m.conn.SetWriteDeadline(time.Now().Add(m.cfg.Timeout))
		m.client.Disconnect(errors.New("telemetry: closed"))
	}
	return m.conn.Close()
}
