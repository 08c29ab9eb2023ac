package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chatClient/pkg/api"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxErrorBody bounds how much of a failed response ends up in a StatusError.
const maxErrorBody = 512

type ClientConfig struct {
	BaseURL            string
	Token              string
	Timeout            time.Duration
	RequestsPerSecond  float64
	Burst              int
	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration
}

// Client performs JSON requests against the portal API. Every request goes
// through a client-side rate limiter and a circuit breaker that counts
// transport errors and 5xx responses.
type Client struct {
	http    *http.Client
	base    *url.URL
	token   string
	limiter *rate.Limiter
	log     *zap.Logger
}

func NewClient(conf ClientConfig, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(conf.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing api base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("api base url %q must be absolute", conf.BaseURL)
	}

	limit := rate.Inf
	if conf.RequestsPerSecond > 0 {
		limit = rate.Limit(conf.RequestsPerSecond)
	}
	burst := conf.Burst
	if burst <= 0 {
		burst = 1
	}

	tr := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		http: &http.Client{
			Transport: newBreakerTransport(tr, conf.BreakerMaxFailures, conf.BreakerTimeout, logger),
			Timeout:   conf.Timeout,
		},
		base:    base,
		token:   conf.Token,
		limiter: rate.NewLimiter(limit, burst),
		log:     logger,
	}, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// Do sends body as JSON and decodes a JSON response into out when out is non-nil.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return fmt.Errorf("building %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, path, out)
}

// Upload posts a single multipart file field.
func (c *Client) Upload(ctx context.Context, path, field, fileName string, content io.Reader, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, fileName)
	if err != nil {
		return fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("reading attachment %s: %w", fileName, err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path, nil), &buf)
	if err != nil {
		return fmt.Errorf("building upload %s: %w", path, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.send(req, path, out)
}

func (c *Client) send(req *http.Request, path string, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return fmt.Errorf("%w: %s %s: %v", api.ErrTransport, req.Method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", api.ErrTransport, req.Method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &api.StatusError{
			Method:     req.Method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", api.ErrMalformedPayload, req.Method, path, err)
	}
	return nil
}

type breakerTransport struct {
	next http.RoundTripper
	cb   *gobreaker.CircuitBreaker
	log  *zap.Logger
}

func newBreakerTransport(next http.RoundTripper, maxFailures uint32, timeout time.Duration, logger *zap.Logger) http.RoundTripper {
	if maxFailures == 0 {
		return next
	}
	st := gobreaker.Settings{
		Name:        "portal-api",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// Requests the caller gave up on say nothing about the server.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &breakerTransport{next: next, cb: gobreaker.NewCircuitBreaker(st), log: logger}
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	res, err := t.cb.Execute(func() (interface{}, error) {
		resp, err := t.next.RoundTrip(req)
		if err != nil {
			if errors.Is(req.Context().Err(), context.Canceled) {
				return nil, fmt.Errorf("%w: %v", context.Canceled, err)
			}
			return nil, err
		}
		// 5xx counts against the breaker but the caller still sees the response.
		if resp.StatusCode >= 500 {
			return resp, &upstreamError{resp: resp}
		}
		return resp, nil
	})
	var ue *upstreamError
	if errors.As(err, &ue) {
		return ue.resp, nil
	}
	if err != nil {
		return nil, err
	}
	return res.(*http.Response), nil
}

type upstreamError struct {
	resp *http.Response
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("upstream status %d", e.resp.StatusCode)
}
