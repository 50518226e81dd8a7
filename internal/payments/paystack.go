package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"linescout/internal/metrics"
)

// Paystack is a client for the Paystack transaction API. Amounts are in
// minor currency units (kobo for NGN), matching Paystack's wire format.
type Paystack struct {
	baseURL   string
	secretKey string
	http      *http.Client
	metrics   *metrics.Metrics
}

func NewPaystack(baseURL, secretKey string, timeout time.Duration, m *metrics.Metrics) *Paystack {
	return &Paystack{
		baseURL:   baseURL,
		secretKey: secretKey,
		http:      &http.Client{Timeout: timeout},
		metrics:   m,
	}
}

// InitializedTransaction is the checkout handle returned at initiation.
type InitializedTransaction struct {
	AuthorizationURL string
	Reference        string
}

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Initialize creates a hosted checkout session.
func (c *Paystack) Initialize(ctx context.Context, email string, amount int64, currency, reference string) (*InitializedTransaction, error) {
	payload := map[string]any{
		"email":     email,
		"amount":    amount,
		"currency":  currency,
		"reference": reference,
	}
	data, err := c.call(ctx, http.MethodPost, "/transaction/initialize", payload, "initialize")
	if err != nil {
		return nil, err
	}
	var out struct {
		AuthorizationURL string `json:"authorization_url"`
		Reference        string `json:"reference"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode paystack initialize: %w", err)
	}
	return &InitializedTransaction{AuthorizationURL: out.AuthorizationURL, Reference: out.Reference}, nil
}

// Verify checks a transaction's final status with Paystack.
func (c *Paystack) Verify(ctx context.Context, reference string) (*VerifiedTransaction, error) {
	data, err := c.call(ctx, http.MethodGet, "/transaction/verify/"+reference, nil, "verify")
	if err != nil {
		return nil, err
	}
	var out struct {
		Status   string `json:"status"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode paystack verify: %w", err)
	}
	return &VerifiedTransaction{
		Succeeded: out.Status == "success",
		Amount:    out.Amount,
		Currency:  out.Currency,
	}, nil
}

// VerifyWebhookSignature checks the x-paystack-signature header, an
// HMAC-SHA512 of the raw body keyed with the secret key.
func (c *Paystack) VerifyWebhookSignature(body []byte, signature string) bool {
	mac := hmac.New(sha512.New, []byte(c.secretKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (c *Paystack) call(ctx context.Context, method, path string, payload any, endpoint string) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode paystack request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build paystack request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	status := "error"
	if err == nil {
		status = fmt.Sprintf("%d", resp.StatusCode)
	}
	c.metrics.ProviderRequests.WithLabelValues("paystack", endpoint, status).Inc()
	c.metrics.ProviderLatency.WithLabelValues("paystack", endpoint, status).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("paystack %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read paystack response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("paystack %s: http %d: %s", endpoint, resp.StatusCode, truncate(raw, 200))
	}

	var env paystackEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode paystack envelope: %w", err)
	}
	if !env.Status {
		return nil, fmt.Errorf("paystack %s: %s", endpoint, env.Message)
	}
	return env.Data, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
