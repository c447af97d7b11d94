// Package gateway talks to the external card payment gateway.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

var (
	ErrRejected        = errors.New("gateway rejected the request")
	ErrUnavailable     = errors.New("gateway unavailable")
	ErrMissingOrderRef = errors.New("gateway returned no order id")
	ErrMissingSecret   = errors.New("gateway key secret is required")
)

type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
	// MaxElapsed bounds the total time spent retrying one call.
	MaxElapsed time.Duration
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient refuses to build a client without a key secret, since every
// confirmation it accepts is checked against it.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.KeySecret == "" {
		return nil, ErrMissingSecret
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

type createOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type createOrderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CreateOrder registers a payable order with the gateway and returns the
// gateway's order id. Transport errors and 5xx answers are retried.
func (c *Client) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (string, error) {
	body, err := json.Marshal(createOrderRequest{Amount: amount, Currency: currency, Receipt: receipt})
	if err != nil {
		return "", fmt.Errorf("marshal gateway order: %w", err)
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "orders")
	if err != nil {
		return "", fmt.Errorf("build gateway url: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = c.cfg.MaxElapsed

	attempt := 0
	resp, err := backoff.RetryWithData(func() (createOrderResponse, error) {
		attempt++
		return c.postOrder(ctx, endpoint, body)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		c.logger.Error("gateway create order failed", "receipt", receipt, "attempts", attempt, "err", err)
		return "", err
	}
	if resp.ID == "" {
		return "", ErrMissingOrderRef
	}

	c.logger.Info("gateway order created", "receipt", receipt, "gateway_order_id", resp.ID, "attempts", attempt)
	return resp.ID, nil
}

func (c *Client) postOrder(ctx context.Context, endpoint string, body []byte) (createOrderResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return createOrderResponse{}, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)

	res, err := c.http.Do(req)
	if err != nil {
		return createOrderResponse{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return createOrderResponse{}, fmt.Errorf("%w: read body: %w", ErrUnavailable, err)
	}

	switch {
	case res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests:
		return createOrderResponse{}, fmt.Errorf("%w: status %d", ErrUnavailable, res.StatusCode)
	case res.StatusCode >= 400:
		return createOrderResponse{}, backoff.Permanent(fmt.Errorf("%w: status %d: %s", ErrRejected, res.StatusCode, bytes.TrimSpace(payload)))
	}

	var out createOrderResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return createOrderResponse{}, backoff.Permanent(fmt.Errorf("decode gateway order: %w", err))
	}
	return out, nil
}

// VerifySignature checks the gateway's HMAC-SHA256 over
// "<gatewayOrderID>|<paymentRef>" keyed with the account secret.
func (c *Client) VerifySignature(gatewayOrderID, paymentRef, signature string) bool {
	return Verify(c.cfg.KeySecret, gatewayOrderID, paymentRef, signature)
}

func Sign(secret, gatewayOrderID, paymentRef string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gatewayOrderID + "|" + paymentRef))
	return hex.EncodeToString(mac.Sum(nil))
}

func Verify(secret, gatewayOrderID, paymentRef, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gatewayOrderID + "|" + paymentRef))
	return hmac.Equal(mac.Sum(nil), got)
}

// Sandbox stands in for the gateway when none is configured. Orders get a
// local handle and signatures are checked against Secret.
type Sandbox struct {
	Secret string
}

func (s Sandbox) CreateOrder(_ context.Context, _ int64, _, _ string) (string, error) {
	return "sandbox_" + uuid.NewString(), nil
}

func (s Sandbox) VerifySignature(gatewayOrderID, paymentRef, signature string) bool {
	return Verify(s.Secret, gatewayOrderID, paymentRef, signature)
}
