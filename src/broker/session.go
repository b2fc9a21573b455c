// Package broker owns one MQTT subscriber/publisher pair per relay: option
// construction and TLS selection, the Connecting/Subscribing/Connected/...
// state machine, the forward-to-Platform event loop, and the publish pump
// that drains downlink messages back onto the broker. It follows the
// teacher's src/connectors/mqtt/mqttsource.go and mqttrunner.go in its use
// of eclipse/paho.mqtt.golang, generalized from a pluggable connector to a
// single relay's lifetime-owned session.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/tagoio/mqtt-relay/src/config"
	"github.com/tagoio/mqtt-relay/src/logging"
	"github.com/tagoio/mqtt-relay/src/platform"
	"github.com/tagoio/mqtt-relay/src/security/validation"
)

const (
	keepAlive      = 30 * time.Second
	connectTimeout = 15 * time.Second
	disconnectMS   = 250
)

// Forwarder is the subset of *platform.Client a Session needs, so tests can
// substitute a fake instead of spinning up an httptest.Server.
type Forwarder interface {
	ForwardBufferMessages(relay *config.RelayConfig, topic string, payload []byte, qos int) error
}

var _ Forwarder = (*platform.Client)(nil)

// Session owns one broker connection for one relay. Run drives the
// connection state machine until ctx is cancelled or MaxRetries is
// exceeded.
type Session struct {
	relay     *config.RelayConfig
	forwarder Forwarder
	publishCh <-chan PublishMessage
	logger    *slog.Logger

	state   stateBox
	limiter *ForwardLimiter

	// newClient is overridable in tests to avoid dialing a real broker.
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

// NewSession builds a Session for relay, consuming publishCh for downlink
// messages and forwarding broker publishes through forwarder.
func NewSession(relay *config.RelayConfig, forwarder Forwarder, publishCh <-chan PublishMessage, logger *slog.Logger) *Session {
	return &Session{
		relay:     relay,
		forwarder: forwarder,
		publishCh: publishCh,
		logger:    logging.For(logger, logging.TargetMQTT),
		limiter:   NewForwardLimiter(),
		newClient: mqtt.NewClient,
	}
}

// State returns the session's current state. Safe for concurrent use.
func (s *Session) State() State {
	return s.state.get()
}

// Run drives the connection state machine until ctx is cancelled, a
// connection permanently fails after MaxRetries, or the broker link cannot
// be established. It returns when the session has terminated; the
// Supervisor observes this via ctx cancellation or by polling State().
func (s *Session) Run(ctx context.Context) {
	attempts := 0

	for {
		if ctx.Err() != nil {
			return
		}

		s.state.set(StateConnecting)
		client, lost, err := s.connect()
		if err != nil {
			s.logger.Warn("broker connect failed", "error", err, "attempt", attempts)
			if !s.backoffOrFail(ctx, &attempts) {
				return
			}
			continue
		}

		s.state.set(StateSubscribing)
		if err := s.subscribe(client); err != nil {
			s.logger.Warn("broker subscribe failed", "error", err, "attempt", attempts)
			client.Disconnect(disconnectMS)
			if !s.backoffOrFail(ctx, &attempts) {
				return
			}
			continue
		}

		s.state.set(StateConnected)
		attempts = 0

		pumpCtx, cancelPump := context.WithCancel(ctx)
		pumpDone := make(chan struct{})
		go s.publishPump(pumpCtx, client, pumpDone)

		select {
		case <-ctx.Done():
			cancelPump()
			<-pumpDone
			client.Disconnect(disconnectMS)
			s.limiter.Close()
			return
		case err := <-lost:
			s.logger.Warn("broker connection lost", "error", err)
		}

		cancelPump()
		<-pumpDone
		client.Disconnect(disconnectMS)
		s.state.set(StateDisconnected)

		if !s.backoffOrFail(ctx, &attempts) {
			return
		}
	}
}

// backoffOrFail increments attempts, transitions to Failed and returns false
// if MaxRetries is exceeded, otherwise sleeps Backoff(attempts) and returns
// true to continue the reconnect loop.
func (s *Session) backoffOrFail(ctx context.Context, attempts *int) bool {
	*attempts++
	if *attempts > MaxRetries {
		s.logger.Error("broker session permanently failed", "attempts", *attempts)
		s.state.set(StateFailed)
		s.limiter.Close()
		return false
	}

	s.state.set(StateBackingOff)
	wait := Backoff(*attempts - 1)
	select {
	case <-time.After(wait):
		return true
	case <-ctx.Done():
		return false
	}
}

// connect builds client options, dials the broker, and returns a channel
// that receives exactly one error when the connection is lost.
func (s *Session) connect() (mqtt.Client, <-chan error, error) {
	opts, err := s.buildOptions()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build broker options: %w", err)
	}

	lost := make(chan error, 1)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		select {
		case lost <- err:
		default:
		}
	})
	opts.SetDefaultPublishHandler(s.onPublish)

	client := s.newClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, nil, fmt.Errorf("timed out connecting to broker")
	}
	if err := token.Error(); err != nil {
		return nil, nil, fmt.Errorf("broker connect rejected: %w", err)
	}

	return client, lost, nil
}

// buildOptions constructs MQTT client options per SPEC_FULL §4.2: client id,
// address/port, keep-alive, TLS selection, and credentials.
func (s *Session) buildOptions() (*mqtt.ClientOptions, error) {
	mqttCfg := s.relay.MQTT

	scheme := "tcp"
	if tlsEnabled(mqttCfg) {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.Address, mqttCfg.Port))
	opts.SetClientID(effectiveClientID(mqttCfg.ClientID))
	opts.SetKeepAlive(keepAlive)
	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetCleanSession(true)

	if tlsEnabled(mqttCfg) {
		tlsConfig, err := buildTLSConfig(mqttCfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	if mqttCfg.Username != "" {
		opts.SetUsername(mqttCfg.Username)
		opts.SetPassword(mqttCfg.Password)
	}

	return opts, nil
}

// effectiveClientID appends a short random suffix to the configured client
// id so that reconnect attempts never collide with a broker-side session
// left over from a prior connection, the same generateSecureClientID
// intent the teacher's mqttsource.go served, built here on google/uuid
// rather than hand-rolled randomness.
func effectiveClientID(base string) string {
	return base + "-" + uuid.NewString()[:8]
}

// subscribe requests every configured topic filter at QoS 0
// ("at-most-once"), per SPEC_FULL §6. An empty subscribe list is valid: the
// session reaches Connected without issuing any SUBSCRIBE.
func (s *Session) subscribe(client mqtt.Client) error {
	for _, topic := range s.relay.MQTT.Subscribe {
		token := client.Subscribe(topic, 0, nil)
		token.Wait()
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}
	return nil
}

// onPublish is the event-loop handler for every incoming broker publish. It
// acquires a ForwardLimiter permit and spawns a detached goroutine to
// forward the message; if the limiter is closed (session shutting down),
// the publish is dropped silently.
//
// paho.mqtt.golang's v3.1.1 ClientOptions has no max-packet-size knob (that
// is an MQTT5-only wire feature exposed by a different client library), so
// the 1 MiB ceiling from SPEC_FULL §4.2/§6 is enforced here manually on the
// decoded payload rather than at the connection layer.
func (s *Session) onPublish(_ mqtt.Client, msg mqtt.Message) {
	if len(msg.Payload()) > validation.MaxPublishBodySize {
		s.logger.Warn("dropping oversized broker publish", "topic", msg.Topic(), "size", len(msg.Payload()))
		return
	}

	if !s.limiter.TryAcquire() {
		return
	}

	topic := msg.Topic()
	payload := append([]byte(nil), msg.Payload()...)
	qos := int(msg.Qos())

	go func() {
		defer s.limiter.Release()
		if err := s.forwarder.ForwardBufferMessages(s.relay, topic, payload, qos); err != nil {
			s.logger.Error("forward to platform failed", "topic", topic, "error", err)
		}
	}()
}

// publishPump drains publishCh and republishes each message onto the
// broker at QoS AtLeastOnce, until ctx is cancelled. It is aborted when the
// session leaves Connected; pending messages may be lost, per SPEC_FULL
// §4.2.
func (s *Session) publishPump(ctx context.Context, client mqtt.Client, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.publishCh:
			if !ok {
				return
			}
			if len(msg.Message) > validation.MaxPublishBodySize {
				s.logger.Warn("dropping oversized downlink publish", "topic", msg.Topic, "size", len(msg.Message))
				continue
			}
			token := client.Publish(msg.Topic, 1, msg.Retain, msg.Message)
			token.Wait()
			if err := token.Error(); err != nil {
				s.logger.Error("broker publish failed", "topic", msg.Topic, "error", err)
			}
		}
	}
}
