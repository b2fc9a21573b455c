package platform

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagoio/mqtt-relay/src/config"
)

func relayFor(url string) *config.RelayConfig {
	return &config.RelayConfig{
		ID: "self-hosted",
		Platform: config.PlatformConfig{
			NetworkToken:       "N",
			AuthorizationToken: "A",
			TagoIOURL:          url,
		},
	}
}

func TestVerifyNetworkTokenSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "N", r.Header.Get("Authorization"))
		w.Write([]byte(`{"result":{"id":"net-123"}}`))
	}))
	defer srv.Close()

	id, err := New().VerifyNetworkToken(relayFor(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, "net-123", id)
}

func TestVerifyNetworkTokenUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := New().VerifyNetworkToken(relayFor(srv.URL))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyNetworkTokenMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{}}`))
	}))
	defer srv.Close()

	_, err := New().VerifyNetworkToken(relayFor(srv.URL))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestVerifyDeviceTokenNetworkMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"id":"dev-1","network":"net-a"}}`))
	}))
	defer srv.Close()

	relay := relayFor(srv.URL)
	relay.NetworkID = "net-b"

	err := New().VerifyDeviceToken(relay, "device-token")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyDeviceTokenMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"id":"dev-1","network":"net-a"}}`))
	}))
	defer srv.Close()

	relay := relayFor(srv.URL)
	relay.NetworkID = "net-a"

	assert.NoError(t, New().VerifyDeviceToken(relay, "device-token"))
}

func TestForwardBufferMessagesHappyPath(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/integration/network/data", r.URL.Path)
		assert.Equal(t, "A", r.URL.Query().Get("authorization_token"))
		assert.Equal(t, "N", r.Header.Get("Authorization"))
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := New().ForwardBufferMessages(relayFor(srv.URL), "t", []byte("hello"), 1)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"variable":"payload","value":"hello","metadata":{"topic":"t","qos":1}}]`, string(gotBody))
}

func TestForwardBufferMessagesFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := New().ForwardBufferMessages(relayFor(srv.URL), "t", []byte("hello"), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequestFailed)
}

func TestForwardBufferMessagesTransportError(t *testing.T) {
	err := New().ForwardBufferMessages(relayFor("http://127.0.0.1:1"), "t", []byte("hello"), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestDecodeLossyUTF8(t *testing.T) {
	assert.Equal(t, "hello", decodeLossyUTF8([]byte("hello")))
	assert.Contains(t, decodeLossyUTF8([]byte{0xff, 0xfe, 'a'}), "a")
}
