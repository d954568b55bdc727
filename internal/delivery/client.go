// Package delivery performs the outbound POST for one attempt and classifies
// the result. Retry policy lives entirely in the repeat-record state machine;
// this client never retries.
package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/hqmotech/forwarder/internal/model"
	"github.com/hqmotech/forwarder/pkg/logger"
)

type OutcomeKind string

const (
	OutcomeSuccess         OutcomeKind = "success"
	OutcomeHTTPError       OutcomeKind = "http_error"
	OutcomeConnectionError OutcomeKind = "connection_error"
	OutcomeTimeout         OutcomeKind = "timeout"
)

// Outcome is the classified result of exactly one delivery attempt.
type Outcome struct {
	Kind   OutcomeKind
	Status int
	Reason string
	// ResponseNote carries a truncated response body for the attempt log.
	ResponseNote string
	// FromCache marks an outcome served from the failure cache without a
	// network call.
	FromCache bool
}

func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeSuccess
}

// Description renders the outcome for the record's failure_reason field.
func (o Outcome) Description() string {
	switch o.Kind {
	case OutcomeSuccess, OutcomeHTTPError:
		return fmt.Sprintf("%d: %s", o.Status, o.Reason)
	default:
		return o.Reason
	}
}

// Auth is the decrypted credential material for one send. It exists only for
// the duration of the attempt.
type Auth struct {
	Type     model.AuthType
	Username string
	Password string
}

// Request describes one delivery attempt.
type Request struct {
	URL            string
	Body           []byte
	ContentType    string
	Headers        map[string]string
	Auth           Auth
	SkipCertVerify bool
	// Force bypasses the failure cache; used by the operator's retry-now.
	Force bool
}

const maxResponseNote = 1024

// Client posts payloads to remote endpoints. A short-lived per-URL failure
// cache throttles attempts against an endpoint already known to be down
// within the cache window, without waiting for each record's own backoff.
type Client struct {
	client         *http.Client
	insecureClient *http.Client
	failures       *cache.Cache
	logger         *logger.Logger
}

func NewClient(timeout, failureCacheTTL time.Duration, log *logger.Logger) *Client {
	insecureTransport := http.DefaultTransport.(*http.Transport).Clone()
	insecureTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	return &Client{
		client:         &http.Client{Timeout: timeout},
		insecureClient: &http.Client{Timeout: timeout, Transport: insecureTransport},
		failures:       cache.New(failureCacheTTL, failureCacheTTL),
		logger:         log,
	}
}

// Send performs exactly one POST and classifies the result. Failures populate
// the per-URL cache; subsequent non-forced sends to the same URL within the
// cache window return the cached failure without touching the network.
func (c *Client) Send(ctx context.Context, req Request) Outcome {
	if !req.Force {
		if cached, ok := c.failures.Get(req.URL); ok {
			outcome := cached.(Outcome)
			outcome.FromCache = true
			return outcome
		}
	}

	outcome := c.send(ctx, req)
	if !outcome.Succeeded() {
		c.failures.SetDefault(req.URL, outcome)
		c.logger.Debug("delivery attempt failed",
			"url", req.URL, "outcome", string(outcome.Kind), "status", outcome.Status)
	} else {
		c.failures.Delete(req.URL)
	}
	return outcome
}

func (c *Client) send(ctx context.Context, req Request) Outcome {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return Outcome{Kind: OutcomeConnectionError, Reason: fmt.Sprintf("invalid request: %v", err)}
	}

	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	switch req.Auth.Type {
	case model.AuthTypeBasic:
		httpReq.SetBasicAuth(req.Auth.Username, req.Auth.Password)
	case model.AuthTypeBearer:
		httpReq.Header.Set("Authorization", "Bearer "+req.Auth.Password)
	}

	client := c.client
	if req.SkipCertVerify {
		client = c.insecureClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	note := readResponseNote(resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Outcome{
			Kind:         OutcomeSuccess,
			Status:       resp.StatusCode,
			Reason:       http.StatusText(resp.StatusCode),
			ResponseNote: note,
		}
	}
	return Outcome{
		Kind:         OutcomeHTTPError,
		Status:       resp.StatusCode,
		Reason:       http.StatusText(resp.StatusCode),
		ResponseNote: note,
	}
}

func classifyTransportError(err error) Outcome {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Outcome{Kind: OutcomeTimeout, Reason: "request timed out"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Outcome{Kind: OutcomeTimeout, Reason: "request timed out"}
	}
	return Outcome{Kind: OutcomeConnectionError, Reason: err.Error()}
}

func readResponseNote(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxResponseNote))
	if err != nil {
		return ""
	}
	return string(body)
}
