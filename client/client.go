// Package client calls the housestack dashboard API.
package client

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/YuminosukeSato/housestack/pipeline"
	"github.com/YuminosukeSato/housestack/pkg/errors"
	"github.com/YuminosukeSato/housestack/server"
)

// Client is a dashboard API client.
type Client struct {
	http *resty.Client
}

// Option configures a Client.
type Option func(*resty.Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *resty.Client) { c.SetTimeout(d) }
}

// WithRetries retries failed requests count times, waiting wait between
// attempts. Requests answered with a 4xx status are not retried.
func WithRetries(count int, wait time.Duration) Option {
	return func(c *resty.Client) {
		c.SetRetryCount(count)
		c.SetRetryWaitTime(wait)
		c.AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	}
}

// New returns a client for the dashboard at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json")
	for _, opt := range opts {
		opt(c)
	}
	return &Client{http: c}
}

// APIError is a non-2xx answer from the dashboard.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return http.StatusText(e.Status) + ": " + e.Message
}

// Predict classifies one house given its raw attributes.
func (c *Client) Predict(ctx context.Context, raw map[string]float64) (*pipeline.Prediction, error) {
	var out pipeline.Prediction
	if err := c.do(ctx, http.MethodPost, "/api/predict", raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Performance returns the serving model's held-out scores.
func (c *Client) Performance(ctx context.Context) (*server.PerformanceResponse, error) {
	var out server.PerformanceResponse
	if err := c.do(ctx, http.MethodGet, "/api/performance", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health returns the server status and serving run id.
func (c *Client) Health(ctx context.Context) (*server.HealthResponse, error) {
	var out server.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Retrain asks the server to retrain and swap its model.
func (c *Client) Retrain(ctx context.Context) (*server.RetrainResponse, error) {
	var out server.RetrainResponse
	if err := c.do(ctx, http.MethodPost, "/api/retrain", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var apiErr server.ErrorResponse
	req := c.http.R().
		SetContext(ctx).
		SetResult(out).
		SetError(&apiErr)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	if resp.IsError() {
		msg := apiErr.Error
		if msg == "" {
			msg = resp.String()
		}
		return errors.WithStack(&APIError{Status: resp.StatusCode(), Message: msg})
	}
	return nil
}
