// Package store is the client of the remote metadata store that persists
// connections and detected models.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/mysql-model-detector/internal/errs"
)

const (
	DefaultTimeout    = 10 * time.Second
	DefaultRetries    = 3
	DefaultRetryDelay = time.Second
)

// Response is the envelope every store endpoint answers with
type Response[T any] struct {
	Code    int    `json:"code"`
	Data    T      `json:"data"`
	Message string `json:"message"`
}

// OK reports whether the envelope signals success
func (r Response[T]) OK() bool {
	return r.Code == http.StatusOK
}

// Config holds the store endpoint and transport settings
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
}

// Client talks to the metadata store over HTTP/JSON
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Retries    uint64
	RetryDelay time.Duration
	Logger     *logrus.Logger
}

// NewClient creates a store client, filling unset transport settings with defaults
func NewClient(cfg Config, logger *logrus.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}

	return &Client{
		BaseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		Token:      cfg.Token,
		HTTPClient: &http.Client{Timeout: timeout},
		Retries:    uint64(retries),
		RetryDelay: delay,
		Logger:     logger,
	}
}

// call sends one request and decodes the envelope's data into T.
// Transport failures and 5xx answers are retried; a non-200 envelope is not.
func call[T any](ctx context.Context, c *Client, method, path string, body interface{}) (T, error) {
	var zero T

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return zero, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
	}

	url := c.BaseURL + path
	backoff := retry.WithMaxRetries(c.Retries, retry.NewConstant(c.RetryDelay))

	envelope, err := retry.DoValue(ctx, backoff, func(ctx context.Context) (Response[T], error) {
		var envelope Response[T]

		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
		if err != nil {
			return envelope, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.Token != "" {
			req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.Token))
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return envelope, ctx.Err()
			}
			c.Logger.Warningf("Request %s %s failed: %v", method, path, err)
			return envelope, retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			io.Copy(io.Discard, resp.Body)
			c.Logger.Warningf("Request %s %s answered %d", method, path, resp.StatusCode)
			return envelope, retry.RetryableError(fmt.Errorf("metadata store answered %s", resp.Status))
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return envelope, errs.New(errs.ErrKindRemoteStore, "metadata store rejected the token")
		}

		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return envelope, errs.Wrap(errs.ErrKindRemoteStore, fmt.Sprintf("decode %s %s", method, path), err)
		}
		return envelope, nil
	})
	if err != nil {
		if errs.KindOf(err) == errs.ErrKindRemoteStore || ctx.Err() != nil {
			return zero, err
		}
		c.Logger.Errorf("Metadata store unreachable at %s: %v", url, err)
		return zero, errs.Wrap(errs.ErrKindRemoteStore, "metadata store unreachable", err)
	}

	if !envelope.OK() {
		c.Logger.Errorf("Request %s %s failed with code %d: %s", method, path, envelope.Code, envelope.Message)
		message := envelope.Message
		if message == "" {
			message = fmt.Sprintf("metadata store answered code %d", envelope.Code)
		}
		return zero, errs.New(errs.ErrKindRemoteStore, message)
	}

	return envelope.Data, nil
}
