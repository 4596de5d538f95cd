package eufy

import (
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/joshp123/eufyscope/internal/auth"
)

func TestParseMQTTPayload(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want map[string]any
		ok   bool
	}{
		{"payload object", `{"payload":{"data":{"163":50}}}`, map[string]any{"163": float64(50)}, true},
		{"payload string", `{"payload":"{\"data\":{\"153\":5}}"}`, map[string]any{"153": float64(5)}, true},
		{"top-level data", `{"head":{},"data":{"180":"AAE="}}`, map[string]any{"180": "AAE="}, true},
		{"no data", `{"payload":{"cmd":1}}`, nil, false},
		{"not json", `garbage`, nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parseMQTTPayload([]byte(tc.raw))
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMQTTNames(t *testing.T) {
	assert.Equal(t, "cmd/eufy_home/T2351/dev-1/res", mqttTopic("T2351", "dev-1"))
	assert.Equal(t,
		"android-eufy_home-eufy_android_udid_42-1700000000000",
		mqttClientID("udid", "42", time.UnixMilli(1700000000000)),
	)
}

func TestMQTTOptionsRequireCredentials(t *testing.T) {
	_, err := mqttOptions(nil, "udid", "42", time.Now())
	require.Error(t, err)

	_, err = mqttOptions(&auth.MQTTCredentials{
		ThingName:      "thing",
		CertificatePEM: "not a cert",
		PrivateKeyPEM:  "not a key",
		Endpoint:       "broker.example",
	}, "udid", "42", time.Now())
	require.ErrorContains(t, err, "client certificate")
}

func TestMQTTHandleDispatchesToTopic(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	s := &mqttSubscriber{
		logger: zap.NewNop(),
		now:    func() time.Time { return now },
		subs:   map[string]func(map[string]any){},
	}
	var got map[string]any
	s.subs["cmd/eufy_home/T2351/dev-1/res"] = func(dps map[string]any) { got = dps }

	s.handle("cmd/eufy_home/T2351/dev-1/res", []byte(`{"data":{"163":12}}`))
	assert.Equal(t, map[string]any{"163": float64(12)}, got)
	assert.Equal(t, now, s.lastMessage)

	got = nil
	s.handle("cmd/eufy_home/T2351/other/res", []byte(`{"data":{"163":12}}`))
	assert.Nil(t, got)
}

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// subscribeClient fails subscriptions to the topics in failing.
type subscribeClient struct {
	mqtt.Client
	failing    map[string]bool
	subscribed []string
}

func (c *subscribeClient) Subscribe(topic string, _ byte, _ mqtt.MessageHandler) mqtt.Token {
	c.subscribed = append(c.subscribed, topic)
	if c.failing[topic] {
		return doneToken{err: errors.New("not authorized")}
	}
	return doneToken{}
}

func TestMQTTResubscribeLogsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := &mqttSubscriber{
		logger: zap.New(core),
		now:    time.Now,
		subs: map[string]func(map[string]any){
			"cmd/eufy_home/T2351/a/res": nil,
			"cmd/eufy_home/T2351/b/res": nil,
		},
	}
	client := &subscribeClient{failing: map[string]bool{"cmd/eufy_home/T2351/b/res": true}}

	assert.Equal(t, 1, s.resubscribeAll(client))
	assert.Equal(t, []string{"cmd/eufy_home/T2351/a/res", "cmd/eufy_home/T2351/b/res"}, client.subscribed)
	entries := logs.FilterMessage("mqtt resubscribe failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "cmd/eufy_home/T2351/b/res", entries[0].ContextMap()["topic"])
	assert.Equal(t, "not authorized", entries[0].ContextMap()["error"])
}
