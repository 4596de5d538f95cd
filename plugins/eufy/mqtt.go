package eufy

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/joshp123/eufyscope/internal/auth"
	"github.com/joshp123/eufyscope/internal/logging"
)

const (
	defaultMQTTPort = 8883
	mqttAppName     = "eufy_home"
	mqttStaleAfter  = 300 * time.Second
)

type mqttSubscriber struct {
	client mqtt.Client
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	subs        map[string]func(map[string]any)
	lastMessage time.Time
}

func mqttOptions(creds *auth.MQTTCredentials, openUDID, userID string, now time.Time) (*mqtt.ClientOptions, error) {
	if !creds.Complete() {
		return nil, errors.New("bootstrap is missing mqtt credentials")
	}
	cert, err := tls.X509KeyPair([]byte(creds.CertificatePEM), []byte(creds.PrivateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("mqtt client certificate: %w", err)
	}
	port := creds.Port
	if port == 0 {
		port = defaultMQTTPort
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("ssl://%s:%d", creds.Endpoint, port))
	opts.SetTLSConfig(&tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12})
	opts.SetUsername(creds.ThingName)
	opts.SetClientID(mqttClientID(openUDID, userID, now))
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	return opts, nil
}

func mqttClientID(openUDID, userID string, now time.Time) string {
	return fmt.Sprintf("android-%s-eufy_android_%s_%s-%d", mqttAppName, openUDID, userID, now.UnixMilli())
}

func mqttTopic(model, deviceID string) string {
	return fmt.Sprintf("cmd/eufy_home/%s/%s/res", model, deviceID)
}

func newMQTTSubscriber(bootstrap auth.Bootstrap, logger *zap.Logger) (*mqttSubscriber, error) {
	opts, err := mqttOptions(bootstrap.MQTT, bootstrap.OpenUDID, bootstrap.UserID, time.Now())
	if err != nil {
		return nil, err
	}

	s := &mqttSubscriber{
		logger: logging.OrNop(logger).With(zap.String("component", "mqtt")),
		now:    time.Now,
		subs:   make(map[string]func(map[string]any)),
	}
	opts.SetDefaultPublishHandler(s.dispatch)
	opts.OnConnect = func(c mqtt.Client) {
		s.logger.Info("mqtt connected")
		s.resubscribeAll(c)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		s.logger.Warn("mqtt connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	s.client = client
	return s, nil
}

// subscribe registers cb for decoded data points on topic.
func (s *mqttSubscriber) subscribe(topic string, cb func(map[string]any)) error {
	s.mu.Lock()
	s.subs[topic] = cb
	s.mu.Unlock()

	if token := s.client.Subscribe(topic, 0, nil); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (s *mqttSubscriber) dispatch(_ mqtt.Client, msg mqtt.Message) {
	s.handle(msg.Topic(), msg.Payload())
}

func (s *mqttSubscriber) handle(topic string, payload []byte) {
	dps, ok := parseMQTTPayload(payload)
	if !ok {
		s.logger.Debug("mqtt message without data", zap.String("topic", topic))
		return
	}

	s.mu.Lock()
	s.lastMessage = s.now()
	cb := s.subs[topic]
	s.mu.Unlock()
	if cb != nil {
		cb(dps)
	}
}

// resubscribeAll restores every registered topic on c and returns how many
// subscriptions failed.
func (s *mqttSubscriber) resubscribeAll(c mqtt.Client) int {
	s.mu.Lock()
	topics := make([]string, 0, len(s.subs))
	for topic := range s.subs {
		topics = append(topics, topic)
	}
	s.mu.Unlock()
	sort.Strings(topics)

	failed := 0
	for _, topic := range topics {
		token := c.Subscribe(topic, 0, nil)
		if token.Wait() && token.Error() != nil {
			failed++
			s.logger.Warn("mqtt resubscribe failed", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}
	return failed
}

// reconnectIfStale restarts the connection after a long silence. It
// reports whether a reconnect was attempted.
func (s *mqttSubscriber) reconnectIfStale() bool {
	s.mu.Lock()
	last := s.lastMessage
	now := s.now()
	if last.IsZero() {
		s.lastMessage = now
		s.mu.Unlock()
		return false
	}
	if now.Sub(last) < mqttStaleAfter {
		s.mu.Unlock()
		return false
	}
	s.lastMessage = now
	s.mu.Unlock()

	s.logger.Warn("no mqtt data, reconnecting", zap.Duration("silence", now.Sub(last)))
	s.client.Disconnect(250)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		s.logger.Warn("mqtt reconnect failed", zap.Error(token.Error()))
	}
	return true
}

func (s *mqttSubscriber) close() {
	if s.client != nil {
		s.client.Disconnect(250)
	}
}

// parseMQTTPayload extracts data points from payload.data, from a payload
// string holding JSON with data, or from a top-level data object.
func parseMQTTPayload(raw []byte) (map[string]any, bool) {
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, false
	}
	switch p := msg["payload"].(type) {
	case map[string]any:
		if data, ok := p["data"].(map[string]any); ok && len(data) > 0 {
			return data, true
		}
	case string:
		var inner map[string]any
		if err := json.Unmarshal([]byte(p), &inner); err == nil {
			if data, ok := inner["data"].(map[string]any); ok && len(data) > 0 {
				return data, true
			}
		}
	}
	if data, ok := msg["data"].(map[string]any); ok && len(data) > 0 {
		return data, true
	}
	return nil, false
}
