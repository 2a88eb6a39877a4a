package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tastamat/fandomon/internal/domain"
)

const (
	mqttQoS            = 1
	mqttPublishTimeout = 10 * time.Second
	// mqttPublishRate caps publishes so a large backlog drains without
	// flooding the broker.
	mqttPublishRate  = 20
	mqttPublishBurst = 5
)

// MQTTConfig holds the broker connection parameters derived from settings.
type MQTTConfig struct {
	BrokerURL     string
	ClientID      string
	Username      string
	Password      string
	CommandTopics []string
}

// MQTTConfigFromSettings builds the connection config for s.
func MQTTConfigFromSettings(s domain.Settings) MQTTConfig {
	topics := []string{s.MQTTCommandsTopic}
	if dev := s.DeviceCommandTopic(); dev != "" {
		topics = append(topics, dev)
	}
	return MQTTConfig{
		BrokerURL:     fmt.Sprintf("tcp://%s:%d", s.MQTTBroker, s.MQTTPort),
		ClientID:      "fandomon_" + s.DeviceID,
		Username:      s.MQTTUsername,
		Password:      s.MQTTPassword,
		CommandTopics: topics,
	}
}

// MessageHandler receives raw command payloads.
type MessageHandler func(topic string, payload []byte)

// MQTTClient wraps a paho client used both to publish and to receive commands.
type MQTTClient struct {
	cfg     MQTTConfig
	client  mqtt.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewMQTTClient builds (but does not connect) a client. onCommand is invoked
// on paho's callback goroutine and must return quickly.
func NewMQTTClient(cfg MQTTConfig, onCommand MessageHandler, logger *zap.Logger) *MQTTClient {
	c := &MQTTClient{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(mqttPublishRate), mqttPublishBurst),
		logger:  logger,
	}

	h := func(_ mqtt.Client, msg mqtt.Message) {
		if onCommand != nil {
			onCommand(msg.Topic(), msg.Payload())
		}
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetOrderMatters(false).
		SetCleanSession(false).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	// Subscriptions are re-established on every (re)connect.
	opts.OnConnect = func(cl mqtt.Client) {
		logger.Info("mqtt connected", zap.String("broker", cfg.BrokerURL))
		for _, topic := range cfg.CommandTopics {
			if token := cl.Subscribe(topic, mqttQoS, h); token.Wait() && token.Error() != nil {
				logger.Error("mqtt subscribe failed", zap.String("topic", topic), zap.Error(token.Error()))
			} else {
				logger.Info("mqtt subscribed", zap.String("topic", topic))
			}
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	}

	c.client = mqtt.NewClient(opts)
	return c
}

// Config returns the parameters the client was built with.
func (c *MQTTClient) Config() MQTTConfig {
	return c.cfg
}

// ConnectWithBackoff blocks until connected or ctx is done, doubling the wait
// between attempts up to max.
func (c *MQTTClient) ConnectWithBackoff(ctx context.Context, start, max time.Duration) error {
	backoff := start
	for {
		token := c.client.Connect()
		if token.Wait() && token.Error() == nil {
			return nil
		}
		c.logger.Warn("mqtt connect failed",
			zap.String("broker", c.cfg.BrokerURL),
			zap.Duration("retry_in", backoff),
			zap.Error(token.Error()))
		select {
		case <-time.After(backoff):
			if backoff < max {
				backoff *= 2
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// IsConnected reports whether the client currently has a live session.
func (c *MQTTClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Publish sends payload at QoS 1, not retained.
func (c *MQTTClient) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		return domain.ErrNotConnected
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	token := c.client.Publish(topic, mqttQoS, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("publish to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Disconnect closes the session, waiting briefly for in-flight work.
func (c *MQTTClient) Disconnect() {
	c.client.Disconnect(250)
}

// MQTTSink publishes events and status through whichever MQTTClient is
// currently attached. The daemon swaps the client when broker settings change.
type MQTTSink struct {
	mu     sync.RWMutex
	client *MQTTClient
}

// NewMQTTSink creates a sink with no client attached.
func NewMQTTSink() *MQTTSink {
	return &MQTTSink{}
}

// Attach sets the client used for publishing and returns the previous one.
func (s *MQTTSink) Attach(c *MQTTClient) *MQTTClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.client
	s.client = c
	return prev
}

// Client returns the attached client, or nil.
func (s *MQTTSink) Client() *MQTTClient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// Name identifies the sink in logs and metrics.
func (s *MQTTSink) Name() string { return "mqtt" }

// Enabled reports whether MQTT is configured.
func (s *MQTTSink) Enabled(settings domain.Settings) bool {
	return settings.MQTTEnabled && settings.MQTTBroker != ""
}

// PublishEvent sends one event to the events topic.
func (s *MQTTSink) PublishEvent(ctx context.Context, settings domain.Settings, p domain.EventPayload) error {
	return s.publishJSON(ctx, settings.MQTTEventsTopic, p)
}

// PublishStatus sends a status snapshot to the status topic.
func (s *MQTTSink) PublishStatus(ctx context.Context, settings domain.Settings, p domain.StatusPayload) error {
	return s.publishJSON(ctx, settings.MQTTStatusTopic, p)
}

func (s *MQTTSink) publishJSON(ctx context.Context, topic string, v any) error {
	c := s.Client()
	if c == nil {
		return domain.ErrNotConnected
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return c.Publish(ctx, topic, payload)
}

var _ domain.Sink = (*MQTTSink)(nil)
