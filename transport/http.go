package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/relaybus/relaybus/buserr"
	"github.com/relaybus/relaybus/credential"
	"github.com/relaybus/relaybus/endpoint"
	"github.com/relaybus/relaybus/log"
	"github.com/relaybus/relaybus/message"
)

// HTTPOption customizes an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient overrides the underlying http.Client, e.g. for tests.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		if client != nil {
			t.httpClient = client
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) HTTPOption {
	return func(t *HTTPTransport) {
		if timeout > 0 {
			t.httpClient.Timeout = timeout
		}
	}
}

// WithHostIdentity attaches default-host-identity bearer credentials
// whenever an endpoint's Credentials.Kind is CredentialDefaultHostIdentity.
func WithHostIdentity(identity *credential.HostIdentity, ttl time.Duration) HTTPOption {
	return func(t *HTTPTransport) {
		t.identity = identity
		t.identityTTL = ttl
	}
}

// HTTPTransport is the HTTP/1.1 implementation of Transport: it POSTs
// messages to {destination}/message/{id} and subscription requests to
// {publisher}/topic/{topic}/subscriber, per the wire contract.
type HTTPTransport struct {
	httpClient  *http.Client
	logger      log.Logger
	identity    *credential.HostIdentity
	identityTTL time.Duration
}

// NewHTTPTransport builds an outbound transport.
func NewHTTPTransport(logger log.Logger, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SendMessage implements Transport.
func (t *HTTPTransport) SendMessage(ctx context.Context, destination endpoint.Endpoint, msg message.Message) error {
	target := strings.TrimRight(destination.Address, "/") + "/message/" + url.PathEscape(msg.Headers.MessageID().String())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(msg.Content))
	if err != nil {
		return fmt.Errorf("transport: build request: %w", err)
	}

	for name, value := range msg.Headers {
		req.Header.Set(name, value)
	}
	req.Header.Set("Content-Type", msg.Headers.ContentType())

	if err := t.authenticate(req, destination.Credentials); err != nil {
		return err
	}

	t.logger.Debugf("HTTP POST %s", target)
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	return classifyStatus(resp.StatusCode)
}

// SendSubscriptionRequest implements Transport.
func (t *HTTPTransport) SendSubscriptionRequest(ctx context.Context, kind SubscriptionRequestKind, publisher endpoint.Endpoint, topic, subscriberURI string, ttl int64) error {
	target := strings.TrimRight(publisher.Address, "/") + "/topic/" + url.PathEscape(topic) + "/subscriber"

	query := url.Values{}
	query.Set("uri", subscriberURI)
	if ttl > 0 {
		query.Set("ttl", strconv.FormatInt(ttl, 10))
	}
	target += "?" + query.Encode()

	method := http.MethodPost
	if kind == SubscriptionRemove {
		method = http.MethodDelete
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return fmt.Errorf("transport: build request: %w", err)
	}

	if err := t.authenticate(req, publisher.Credentials); err != nil {
		return err
	}

	t.logger.Debugf("HTTP %s %s", method, target)
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	return classifyStatus(resp.StatusCode)
}

func (t *HTTPTransport) authenticate(req *http.Request, creds endpoint.Credentials) error {
	switch creds.Kind {
	case endpoint.CredentialBasic:
		credential.ApplyBasic(req.Header, creds.Username, creds.Password)
	case endpoint.CredentialDefaultHostIdentity:
		if t.identity == nil {
			return fmt.Errorf("transport: %w: no host identity configured", buserr.ErrUnauthorized)
		}
		if err := t.identity.ApplyDefaultHostIdentity(req.Header, t.identityTTL); err != nil {
			return fmt.Errorf("transport: %w", err)
		}
	}
	return nil
}

func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return buserr.ErrUnauthorized
	case status == http.StatusUnprocessableEntity:
		return buserr.ErrNotAcknowledged
	case status >= 400 && status < 500:
		return buserr.ErrInvalidRequest
	default:
		return buserr.ErrTransport
	}
}

func classifyTransportError(err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("transport: %w: %v", buserr.ErrNameResolution, dnsErr)
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("transport: %w: %v", buserr.ErrConnectionRefused, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		if opErr.Timeout() {
			return fmt.Errorf("transport: %w: %v", buserr.ErrTransport, err)
		}
		return fmt.Errorf("transport: %w: %v", buserr.ErrConnectionRefused, err)
	}

	return fmt.Errorf("transport: %w: %v", buserr.ErrTransport, err)
}
