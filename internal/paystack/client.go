package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrUnsuccessful = errors.New("paystack request unsuccessful")

var hundred = decimal.NewFromInt(100)

// ToMinor converts a major currency amount (cedis) to minor units (pesewas).
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinor converts minor units back to the major currency unit.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

type Client struct {
	secretKey string
	baseURL   string
	http      *http.Client
}

func New(secretKey, baseURL string, timeout time.Duration) *Client {
	return &Client{
		secretKey: secretKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: timeout},
	}
}

type InitializeRequest struct {
	Email       string         `json:"email"`
	AmountMinor int64          `json:"amount"`
	Reference   string         `json:"reference"`
	Currency    string         `json:"currency,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type InitializeResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type Verification struct {
	Status        string          `json:"status"`
	Reference     string          `json:"reference"`
	AmountMinor   int64           `json:"amount"`
	Currency      string          `json:"currency"`
	Channel       string          `json:"channel"`
	PaidAt        string          `json:"paid_at"`
	Metadata      json.RawMessage `json:"metadata"`
	Authorization struct {
		AuthorizationCode string `json:"authorization_code"`
	} `json:"authorization"`
	Customer struct {
		Email string `json:"email"`
	} `json:"customer"`
}

func (v *Verification) Successful() bool { return v.Status == "success" }

func (v *Verification) Amount() decimal.Decimal { return FromMinor(v.AmountMinor) }

type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode initialize: %w", err)
	}
	var out envelope[InitializeResult]
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", bytes.NewReader(body), &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (c *Client) Verify(ctx context.Context, reference string) (*Verification, error) {
	var out envelope[Verification]
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out interface{ ok() (bool, string) }) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build paystack request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("paystack %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read paystack response: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode paystack response (http %d): %w", resp.StatusCode, err)
	}
	if ok, msg := out.ok(); resp.StatusCode >= 300 || !ok {
		return fmt.Errorf("%w: http %d: %s", ErrUnsuccessful, resp.StatusCode, msg)
	}
	return nil
}

func (e *envelope[T]) ok() (bool, string) { return e.Status, e.Message }
