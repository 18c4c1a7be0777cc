// Package bus connects the detector to an MQTT broker: power commands switch
// detection on and off, detections are published as toggle commands.
package bus

import (
	"errors"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/chrizbee/whistledetector/internal/recovery"
)

const (
	PayloadOn     = "ON"
	PayloadOff    = "OFF"
	PayloadToggle = "TOGGLE"

	// qos 0, no retain, as a plain power switch integration expects
	qos      byte = 0
	retained      = false

	disconnectQuiesce = 250 // ms
)

var (
	// ErrSwitchRequired indicates the bridge needs something to switch
	ErrSwitchRequired = errors.New("switch is required")
	// ErrBrokerRequired indicates no broker URL was configured
	ErrBrokerRequired = errors.New("mqtt broker is required")
)

// Client is the part of mqtt.Client the bridge uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Switch is turned on and off by power commands.
type Switch interface {
	SetEnabled(enabled bool)
	Enabled() bool
}

// Config holds the broker connection and topics
type Config struct {
	Broker       string
	ClientID     string
	Username     string
	Password     string
	SubTopic     string   // power commands are received here
	PubTopic     string   // power state is published here
	ToggleTopics []string // TOGGLE is published here on every detection
}

// Bridge maps MQTT power commands onto a Switch and detections onto toggle
// publications.
type Bridge struct {
	client Client
	config Config
	sw     Switch
}

// New creates a bridge on an existing client. Call Subscribe once the
// client is connected.
func New(client Client, cfg Config, sw Switch) (*Bridge, error) {
	if sw == nil {
		return nil, ErrSwitchRequired
	}
	return &Bridge{
		client: client,
		config: cfg,
		sw:     sw,
	}, nil
}

// Connect configures a paho client with auto reconnect and starts
// connecting in the background. The bridge subscribes on every (re)connect,
// so detection keeps running while the broker is unreachable.
func Connect(cfg Config, sw Switch) (*Bridge, error) {
	if sw == nil {
		return nil, ErrSwitchRequired
	}
	if cfg.Broker == "" {
		return nil, ErrBrokerRequired
	}

	b := &Bridge{config: cfg, sw: sw}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Printf("MQTT: Connected to broker %s", cfg.Broker)
		b.Subscribe()
		b.PublishState(b.sw.Enabled())
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT: Connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(client mqtt.Client, opts *mqtt.ClientOptions) {
		log.Println("MQTT: Attempting to reconnect...")
	})

	client := mqtt.NewClient(opts)
	b.client = client

	// with connect retry the token only completes once connected
	token := client.Connect()
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Printf("MQTT ERROR: Failed to connect to %s: %v", cfg.Broker, token.Error())
		}
	}()

	return b, nil
}

// Subscribe subscribes to the power command topic.
func (b *Bridge) Subscribe() {
	topic := b.config.SubTopic
	token := b.client.Subscribe(topic, qos, b.onMessage)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Printf("MQTT ERROR: Failed to subscribe to %s: %v", topic, token.Error())
		} else {
			log.Printf("MQTT: Subscribed to %s", topic)
		}
	}()
}

func (b *Bridge) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if err := recovery.Call("mqtt command handler", func() {
		b.HandleCommand(msg.Payload())
	}); err != nil {
		log.Printf("MQTT ERROR: Dropped command on %s: %v", msg.Topic(), err)
	}
}

// HandleCommand applies a power command. A payload containing ON, in any
// case, enables the switch; everything else disables it. The resulting
// state is published.
func (b *Bridge) HandleCommand(payload []byte) {
	enabled := strings.Contains(strings.ToUpper(string(payload)), PayloadOn)
	b.sw.SetEnabled(enabled)
	log.Printf("MQTT: Detection %s", stateText(enabled))
	b.PublishState(enabled)
}

// PublishState publishes ON or OFF to the state topic.
func (b *Bridge) PublishState(enabled bool) {
	b.publish(b.config.PubTopic, stateText(enabled))
}

// PatternDetected publishes TOGGLE to every toggle topic in configured order.
func (b *Bridge) PatternDetected() {
	for _, topic := range b.config.ToggleTopics {
		b.publish(topic, PayloadToggle)
	}
}

func (b *Bridge) publish(topic, payload string) {
	if topic == "" {
		return
	}

	// Publish asynchronously
	token := b.client.Publish(topic, qos, retained, payload)

	go func() {
		if token.Wait() && token.Error() != nil {
			log.Printf("MQTT ERROR: Failed to publish %s to %s: %v", payload, topic, token.Error())
		}
	}()
}

// Close disconnects from the broker.
func (b *Bridge) Close() {
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(disconnectQuiesce)
		log.Println("MQTT: Disconnected from broker")
	}
}

func stateText(enabled bool) string {
	if enabled {
		return PayloadOn
	}
	return PayloadOff
}
