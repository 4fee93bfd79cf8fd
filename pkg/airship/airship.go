package airship

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/lzyats/airship-go/pkg/metrics"
)

// AcceptHeader pins every request to version 3 of the Airship API.
const AcceptHeader = "application/vnd.urbanairship+json; version=3"

// Credentials is the application key pair. It is copied into the
// connection at construction and never changed afterwards.
type Credentials struct {
	AppKey       string
	MasterSecret string
}

// Transport sends one HTTP request. *http.Client satisfies it.
type Transport interface {
	Do(req *http.Request) (*http.Response, error)
}

// Airship is the connection API modules issue their requests through.
//
// Auth:
//
//	HTTP basic, app key as user and master secret as password
//
// Each Request is executed exactly once; there is no retry. The value holds
// no mutable state and is safe for concurrent use.
type Airship struct {
	creds     Credentials
	baseURL   string
	transport Transport
	log       *zap.Logger
}

type Option func(*Airship)

// WithTransport replaces the default *http.Client.
func WithTransport(t Transport) Option {
	return func(a *Airship) {
		if t != nil {
			a.transport = t
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Airship) {
		if l != nil {
			a.log = l
		}
	}
}

func New(cfg APISettings, opts ...Option) (*Airship, error) {
	c := cfg.WithDefaults()
	if c.AppKey == "" || c.MasterSecret == "" {
		return nil, fmt.Errorf("airship: missing app-key/master-secret: %w", ErrNotConfigured)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("airship: invalid base-url %q: %w", c.BaseURL, ErrNotConfigured)
	}
	a := &Airship{
		creds:     c.Credentials(),
		baseURL:   c.BaseURL,
		transport: &http.Client{Timeout: c.Timeout},
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

func (a *Airship) Credentials() Credentials { return a.creds }

func (a *Airship) BaseURL() string { return a.baseURL }

// Request performs one authenticated call against path (relative to the base
// URL) and returns the body of a 2xx response. body, when non-nil, is sent as
// JSON. Failures are always *Error.
func (a *Airship) Request(ctx context.Context, op, method, path string, query url.Values, body any) ([]byte, error) {
	start := time.Now()
	data, err := a.do(ctx, op, method, path, query, body)
	metrics.APILatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	metrics.APIRequests.WithLabelValues(op, Outcome(err)).Inc()

	if err != nil {
		a.log.Debug("airship request failed",
			zap.String("op", op),
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("took", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}
	a.log.Debug("airship request ok",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("bytes", len(data)),
		zap.Duration("took", time.Since(start)),
	)
	return data, nil
}

func (a *Airship) do(ctx context.Context, op, method, path string, query url.Values, body any) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, ValidationError(op, "encode request body: %v", err)
		}
		rd = bytes.NewReader(b)
	}

	u := a.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, TransportError(op, err)
	}
	req.SetBasicAuth(a.creds.AppKey, a.creds.MasterSecret)
	req.Header.Set("Accept", AcceptHeader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.transport.Do(req)
	if err != nil {
		return nil, TransportError(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, TransportError(op, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.Unmarshal(data, &eb)
		return nil, statusError(op, resp.StatusCode, eb, data)
	}
	return data, nil
}

// Outcome is the metrics label for err.
func Outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrAuth):
		return metrics.OutcomeAuth
	case errors.Is(err, ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, ErrValidation):
		return metrics.OutcomeValidation
	case errors.Is(err, ErrTransport):
		return metrics.OutcomeTransport
	default:
		return metrics.OutcomeRemote
	}
}
