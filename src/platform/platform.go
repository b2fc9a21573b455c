// Package platform implements the HTTP client to the TagoIO Platform API:
// token verification and event forwarding. It follows the teacher's
// src/targets/httptarget fasthttp.Client usage and src/config/config.go's
// sonic JSON codec choice, stateless across calls like the teacher's own
// target connectors.
package platform

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"

	"github.com/tagoio/mqtt-relay/src/config"
)

const requestTimeout = 15 * time.Second

// Client is a stateless HTTP client to the Platform API.
type Client struct {
	httpClient *fasthttp.Client
}

// New builds a Client backed by a shared fasthttp.Client, the same
// connection-pooling client the teacher's httptarget reuses across calls.
func New() *Client {
	return &Client{
		httpClient: &fasthttp.Client{
			ReadTimeout:  requestTimeout,
			WriteTimeout: requestTimeout,
		},
	}
}

type infoResponse struct {
	Result struct {
		ID      string `json:"id"`
		Network string `json:"network"`
	} `json:"result"`
}

// VerifyNetworkToken performs GET <tagoio_url>/info with the relay's network
// token and returns the network id the Platform assigns to it.
func (c *Client) VerifyNetworkToken(relay *config.RelayConfig) (string, error) {
	return c.verifyToken(relay.Platform.TagoIOURL, relay.Platform.NetworkToken, "")
}

// VerifyDeviceToken performs the same /info call with a device token and
// succeeds only if the returned network matches the relay's cached network
// id, set during startup verification.
func (c *Client) VerifyDeviceToken(relay *config.RelayConfig, deviceToken string) error {
	_, err := c.verifyToken(relay.Platform.TagoIOURL, deviceToken, relay.NetworkID)
	return err
}

// verifyToken is shared by VerifyNetworkToken and VerifyDeviceToken. When
// expectNetwork is non-empty, the returned network must match it or the call
// fails with ErrUnauthorized.
func (c *Client) verifyToken(tagoioURL, token, expectNetwork string) (string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(tagoioURL + "/info")
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Authorization", token)

	if err := c.httpClient.Do(req, resp); err != nil {
		return "", &CustomError{Status: http.StatusInternalServerError, Message: fmt.Sprintf("platform transport error: %v", err), Err: fmt.Errorf("%w: %v", ErrTransport, err)}
	}

	status := resp.StatusCode()
	body := resp.Body()

	if status < 200 || status >= 300 || len(body) == 0 {
		return "", &CustomError{Status: status, Body: string(body), Message: "Invalid Network Token", Err: ErrUnauthorized}
	}

	var info infoResponse
	if err := sonic.Unmarshal(body, &info); err != nil || info.Result.ID == "" {
		return "", &CustomError{Status: status, Body: string(body), Message: "malformed /info response", Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}

	if expectNetwork != "" && info.Result.Network != expectNetwork {
		return "", &CustomError{Status: status, Body: string(body), Message: "network mismatch", Err: ErrUnauthorized}
	}

	return info.Result.ID, nil
}

type forwardEntry struct {
	Variable string      `json:"variable"`
	Value    string      `json:"value"`
	Metadata forwardMeta `json:"metadata"`
}

type forwardMeta struct {
	Topic string `json:"topic"`
	QoS   int    `json:"qos"`
}

// ForwardBufferMessages POSTs a single broker publish to the Platform's
// ingestion endpoint, wrapped in the envelope SPEC_FULL §4.1 documents.
// payload is forwarded as a UTF-8 string, lossy-decoded (replacement
// characters) if the raw bytes aren't valid UTF-8 -- never rejected.
func (c *Client) ForwardBufferMessages(relay *config.RelayConfig, topic string, payload []byte, qos int) error {
	body, err := sonic.Marshal([]forwardEntry{{
		Variable: "payload",
		Value:    decodeLossyUTF8(payload),
		Metadata: forwardMeta{Topic: topic, QoS: qos},
	}})
	if err != nil {
		return fmt.Errorf("failed to marshal forward payload: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	uri := fmt.Sprintf("%s/integration/network/data?authorization_token=%s", relay.Platform.TagoIOURL, relay.Platform.AuthorizationToken)
	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.Set("Authorization", relay.Platform.NetworkToken)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := c.httpClient.Do(req, resp); err != nil {
		return &CustomError{Status: http.StatusInternalServerError, Message: fmt.Sprintf("platform transport error: %v", err), Err: fmt.Errorf("%w: %v", ErrTransport, err)}
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		return &CustomError{Status: status, Body: string(resp.Body()), Message: "forward request failed", Err: ErrRequestFailed}
	}

	return nil
}

// decodeLossyUTF8 returns s as a UTF-8 string, substituting the Unicode
// replacement character for any invalid byte sequence rather than rejecting
// the payload -- SPEC_FULL §8 pins this as a boundary behavior, not an error.
func decodeLossyUTF8(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
