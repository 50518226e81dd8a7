package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"linescout/internal/metrics"
)

// PayPal is a client for the PayPal Orders v2 API. PayPal speaks decimal
// major-unit amounts on the wire; conversion to and from minor units happens
// at this boundary.
type PayPal struct {
	baseURL  string
	clientID string
	secret   string
	http     *http.Client
	metrics  *metrics.Metrics

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewPayPal(baseURL, clientID, secret string, timeout time.Duration, m *metrics.Metrics) *PayPal {
	return &PayPal{
		baseURL:  baseURL,
		clientID: clientID,
		secret:   secret,
		http:     &http.Client{Timeout: timeout},
		metrics:  m,
	}
}

// CreatedOrder is the checkout handle returned by CreateOrder.
type CreatedOrder struct {
	OrderID     string
	ApprovalURL string
}

// CreateOrder opens a PayPal order for the given minor-unit amount.
func (c *PayPal) CreateOrder(ctx context.Context, amount int64, currency string) (*CreatedOrder, error) {
	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"amount": map[string]string{
				"currency_code": currency,
				"value":         MinorToDecimal(amount),
			},
		}},
	}
	raw, err := c.call(ctx, http.MethodPost, "/v2/checkout/orders", payload, "create_order")
	if err != nil {
		return nil, err
	}

	var out struct {
		ID    string `json:"id"`
		Links []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode paypal order: %w", err)
	}
	order := &CreatedOrder{OrderID: out.ID}
	for _, link := range out.Links {
		if link.Rel == "approve" {
			order.ApprovalURL = link.Href
		}
	}
	return order, nil
}

// CaptureOrder captures an approved order and reports the settled amount.
func (c *PayPal) CaptureOrder(ctx context.Context, orderID string) (*VerifiedTransaction, error) {
	raw, err := c.call(ctx, http.MethodPost, "/v2/checkout/orders/"+orderID+"/capture", struct{}{}, "capture_order")
	if err != nil {
		return nil, err
	}

	var out struct {
		Status        string `json:"status"`
		PurchaseUnits []struct {
			Payments struct {
				Captures []struct {
					Amount struct {
						CurrencyCode string `json:"currency_code"`
						Value        string `json:"value"`
					} `json:"amount"`
				} `json:"captures"`
			} `json:"payments"`
		} `json:"purchase_units"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode paypal capture: %w", err)
	}

	verified := &VerifiedTransaction{Succeeded: out.Status == "COMPLETED"}
	if len(out.PurchaseUnits) > 0 && len(out.PurchaseUnits[0].Payments.Captures) > 0 {
		capture := out.PurchaseUnits[0].Payments.Captures[0]
		amount, err := DecimalToMinor(capture.Amount.Value)
		if err != nil {
			return nil, fmt.Errorf("parse paypal amount %q: %w", capture.Amount.Value, err)
		}
		verified.Amount = amount
		verified.Currency = capture.Amount.CurrencyCode
	}
	return verified, nil
}

// Verify treats the reference as an order id and captures it. Capturing an
// already captured order returns its settled state, so retries stay safe.
func (c *PayPal) Verify(ctx context.Context, reference string) (*VerifiedTransaction, error) {
	return c.CaptureOrder(ctx, reference)
}

func (c *PayPal) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build paypal token request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("paypal token: http %d", resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode paypal token: %w", err)
	}
	c.accessToken = out.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(out.ExpiresIn-60) * time.Second)
	return c.accessToken, nil
}

func (c *PayPal) call(ctx context.Context, method, path string, payload any, endpoint string) (json.RawMessage, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode paypal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build paypal request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	status := "error"
	if err == nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	c.metrics.ProviderRequests.WithLabelValues("paypal", endpoint, status).Inc()
	c.metrics.ProviderLatency.WithLabelValues("paypal", endpoint, status).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("paypal %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read paypal response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("paypal %s: http %d: %s", endpoint, resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

// MinorToDecimal renders minor units as a two-decimal wire amount.
func MinorToDecimal(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}

// DecimalToMinor parses a two-decimal wire amount into minor units.
func DecimalToMinor(value string) (int64, error) {
	parts := strings.SplitN(value, ".", 2)
	major, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, err
	}
	var minor int64
	if len(parts) == 2 {
		frac := parts[1]
		if len(frac) > 2 {
			frac = frac[:2]
		}
		for len(frac) < 2 {
			frac += "0"
		}
		minor, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, err
		}
	}
	if major < 0 || strings.HasPrefix(parts[0], "-") {
		return major*100 - minor, nil
	}
	return major*100 + minor, nil
}
