package radio

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"rfm-gateway/internal/config"
)

const (
	mqttConnectTimeout   = 10 * time.Second
	mqttSubscribeTimeout = 2 * time.Second
	mqttPublishTimeout   = 5 * time.Second
	mqttQueueSize        = 16
)

// rawRxPacket and rawTxPacket are the JSON documents exchanged with a remote radio bridge on
// <prefix>/rx and <prefix>/tx. Packet bytes include the RadioHead header.
type rawRxPacket struct {
	Packet []byte    `json:"packet"`
	Rssi   int       `json:"rssi"`
	Snr    int       `json:"snr"`
	At     time.Time `json:"at"`
}

type rawTxPacket struct {
	Packet []byte `json:"packet"`
}

// MQTTBridge is a Transceiver backed by a radio that lives behind an MQTT broker.
type MQTTBridge struct {
	client  mqtt.Client
	rxTopic string
	txTopic string
	logger  *slog.Logger
	packets chan Packet
	done    chan struct{}
	once    sync.Once
}

func DialMQTTBridge(cfg config.MQTTConfig, clientID string, logger *slog.Logger) (*MQTTBridge, error) {
	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "broker", cfg.Broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	b, err := NewMQTTBridge(client, cfg.TopicPrefix, logger)
	if err != nil {
		client.Disconnect(250)
		return nil, err
	}
	return b, nil
}

// NewMQTTBridge subscribes to the bridge's receive topic on an already connected client.
func NewMQTTBridge(client mqtt.Client, prefix string, logger *slog.Logger) (*MQTTBridge, error) {
	prefix = strings.TrimSuffix(prefix, "/")
	b := &MQTTBridge{
		client:  client,
		rxTopic: prefix + "/rx",
		txTopic: prefix + "/tx",
		logger:  logger,
		packets: make(chan Packet, mqttQueueSize),
		done:    make(chan struct{}),
	}
	token := client.Subscribe(b.rxTopic, 1, b.handle)
	if !token.WaitTimeout(mqttSubscribeTimeout) {
		return nil, fmt.Errorf("mqtt subscribe %s: timeout", b.rxTopic)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt subscribe %s: %w", b.rxTopic, err)
	}
	return b, nil
}

func (b *MQTTBridge) handle(_ mqtt.Client, m mqtt.Message) {
	var rx rawRxPacket
	if err := json.Unmarshal(m.Payload(), &rx); err != nil {
		b.logger.Warn("cannot decode bridge packet", "topic", m.Topic(), "error", err)
		return
	}
	if rx.At.IsZero() {
		rx.At = time.Now()
	}
	select {
	case b.packets <- Packet{Data: rx.Packet, RSSI: rx.Rssi, SNR: rx.Snr, At: rx.At}:
	default:
		b.logger.Warn("bridge packet queue full, dropping packet", "topic", m.Topic())
	}
}

func (b *MQTTBridge) Receive(timeout time.Duration) (*Packet, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case p := <-b.packets:
		return &p, nil
	case <-b.done:
		return nil, ErrNotConnected
	case <-t.C:
		return nil, nil
	}
}

func (b *MQTTBridge) Send(payload []byte) error {
	body, err := json.Marshal(rawTxPacket{Packet: payload})
	if err != nil {
		return fmt.Errorf("encode bridge packet: %w", err)
	}
	token := b.client.Publish(b.txTopic, 1, false, body)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("mqtt publish %s: timeout", b.txTopic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", b.txTopic, err)
	}
	return nil
}

func (b *MQTTBridge) Close() error {
	var err error
	b.once.Do(func() {
		close(b.done)
		token := b.client.Unsubscribe(b.rxTopic)
		if token.WaitTimeout(mqttSubscribeTimeout) {
			err = token.Error()
		} else {
			err = errors.New("mqtt unsubscribe: timeout")
		}
		b.client.Disconnect(250)
	})
	return err
}
