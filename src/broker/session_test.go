package broker

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagoio/mqtt-relay/src/config"
	"github.com/tagoio/mqtt-relay/src/security/validation"
)

// fakeToken is a trivially-resolved mqtt.Token for test fakes.
type fakeToken struct {
	err  error
	done chan struct{}
}

func resolvedToken(err error) *fakeToken {
	done := make(chan struct{})
	close(done)
	return &fakeToken{err: err, done: done}
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool  { return true }
func (t *fakeToken) Done() <-chan struct{}           { return t.done }
func (t *fakeToken) Error() error                    { return t.err }

// fakeClient is a minimal mqtt.Client fake driven entirely by test code; it
// never touches the network, mirroring the teacher's own fake-collaborator
// test posture in src/connectors/mqtt.
type fakeClient struct {
	mu            sync.Mutex
	connectErr    error
	subscribeErr  error
	published     []PublishMessage
	defaultHandle mqtt.MessageHandler
	disconnected  bool
}

func (c *fakeClient) IsConnected() bool       { return !c.disconnected }
func (c *fakeClient) IsConnectionOpen() bool  { return !c.disconnected }
func (c *fakeClient) Connect() mqtt.Token     { return resolvedToken(c.connectErr) }
func (c *fakeClient) Disconnect(quiesce uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b []byte
	switch v := payload.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	}
	c.published = append(c.published, PublishMessage{Topic: topic, Message: b, QoS: qos, Retain: retained})
	return resolvedToken(nil)
}

func (c *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return resolvedToken(c.subscribeErr)
}

func (c *fakeClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	return resolvedToken(c.subscribeErr)
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token { return resolvedToken(nil) }
func (c *fakeClient) AddRoute(topic string, callback mqtt.MessageHandler) {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

type fakeForwarder struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeForwarder) ForwardBufferMessages(relay *config.RelayConfig, topic string, payload []byte, qos int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, topic)
	return f.err
}

func testRelay() *config.RelayConfig {
	return &config.RelayConfig{
		ID: "self-hosted",
		MQTT: config.MQTTConfig{
			ClientID: "tagoio-relay",
			Address:  "broker.example.com",
			Port:     1883,
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestSessionStateStartsConnecting(t *testing.T) {
	s := NewSession(testRelay(), &fakeForwarder{}, make(chan PublishMessage), discardLogger())
	assert.Equal(t, StateConnecting, s.State())
}

func TestSessionOnPublishForwardsAndDropsWhenClosed(t *testing.T) {
	fwd := &fakeForwarder{}
	s := NewSession(testRelay(), fwd, make(chan PublishMessage), discardLogger())

	msg := &fakeMessage{topic: "t", payload: []byte("hello"), qos: 1}
	s.onPublish(nil, msg)

	require.Eventually(t, func() bool {
		fwd.mu.Lock()
		defer fwd.mu.Unlock()
		return len(fwd.calls) == 1
	}, time.Second, 10*time.Millisecond)

	s.limiter.Close()
	s.onPublish(nil, msg)
	time.Sleep(20 * time.Millisecond)

	fwd.mu.Lock()
	defer fwd.mu.Unlock()
	assert.Equal(t, 1, len(fwd.calls))
}

func TestSessionOnPublishDropsOversizedPayload(t *testing.T) {
	fwd := &fakeForwarder{}
	s := NewSession(testRelay(), fwd, make(chan PublishMessage), discardLogger())

	msg := &fakeMessage{topic: "t", payload: make([]byte, validation.MaxPublishBodySize+1), qos: 1}
	s.onPublish(nil, msg)

	time.Sleep(20 * time.Millisecond)
	fwd.mu.Lock()
	defer fwd.mu.Unlock()
	assert.Equal(t, 0, len(fwd.calls))
}

func TestSessionPublishPumpDropsOversizedMessage(t *testing.T) {
	ch := make(chan PublishMessage, 1)
	s := NewSession(testRelay(), &fakeForwarder{}, ch, discardLogger())
	client := &fakeClient{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go s.publishPump(ctx, client, done)

	ch <- PublishMessage{Topic: "x", Message: make([]byte, validation.MaxPublishBodySize+1)}
	ch <- PublishMessage{Topic: "y", Message: []byte("ok")}

	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return len(client.published) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, "y", client.published[0].Topic)
}

func TestSessionPublishPumpDrainsChannel(t *testing.T) {
	ch := make(chan PublishMessage, 1)
	s := NewSession(testRelay(), &fakeForwarder{}, ch, discardLogger())
	client := &fakeClient{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go s.publishPump(ctx, client, done)

	ch <- PublishMessage{Topic: "x", Message: []byte("m"), Retain: false}

	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return len(client.published) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestSessionSubscribeEmptyListSucceeds(t *testing.T) {
	relay := testRelay()
	s := NewSession(relay, &fakeForwarder{}, make(chan PublishMessage), discardLogger())
	client := &fakeClient{}

	require.NoError(t, s.subscribe(client))
}

func TestSessionSubscribeErrorPropagates(t *testing.T) {
	relay := testRelay()
	relay.MQTT.Subscribe = []string{"a/b"}
	s := NewSession(relay, &fakeForwarder{}, make(chan PublishMessage), discardLogger())
	client := &fakeClient{subscribeErr: assertErr}

	err := s.subscribe(client)
	assert.Error(t, err)
}

var assertErr = errTest("boom")

type errTest string

func (e errTest) Error() string { return string(e) }

// fakeMessage is a minimal mqtt.Message fake.
type fakeMessage struct {
	topic   string
	payload []byte
	qos     byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return m.qos }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}
