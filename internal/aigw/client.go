// Package aigw calls the AI chat gateway (an n8n workflow behind an HTTP
// endpoint). The gateway is an opaque text-producing function; any non-2xx
// response or empty reply is an error and the caller aborts the send.
package aigw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"linescout/internal/metrics"
	"linescout/internal/repo"
)

// Client is the HTTP client for the chat gateway.
type Client struct {
	url     string
	http    *http.Client
	metrics *metrics.Metrics
}

func NewClient(url string, timeout time.Duration, m *metrics.Metrics) *Client {
	return &Client{
		url:     url,
		http:    &http.Client{Timeout: timeout},
		metrics: m,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	SessionID string        `json:"sessionId"`
	Message   string        `json:"message"`
	Messages  []chatMessage `json:"messages"`
}

// Reply sends the user message plus recent history and returns the gateway's
// text reply.
func (c *Client) Reply(ctx context.Context, sessionID, message string, history []repo.Message) (string, error) {
	payload := chatRequest{
		SessionID: sessionID,
		Message:   message,
		Messages:  make([]chatMessage, 0, len(history)),
	}
	for _, m := range history {
		role := "user"
		if m.SenderType == "ai" {
			role = "assistant"
		}
		payload.Messages = append(payload.Messages, chatMessage{Role: role, Content: m.Body})
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode gateway request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	status := "error"
	if err == nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	c.metrics.AIGatewayRequests.WithLabelValues(status).Inc()
	c.metrics.AIGatewayLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("gateway http %d", resp.StatusCode)
	}

	text := extractText(body)
	if text == "" {
		return "", fmt.Errorf("gateway returned an empty reply")
	}
	return text, nil
}

// extractText handles both a bare text body and the {"text": ...} /
// {"output": ...} shapes n8n workflows commonly emit.
func extractText(body []byte) string {
	var structured struct {
		Text   string `json:"text"`
		Output string `json:"output"`
	}
	if err := json.Unmarshal(body, &structured); err == nil {
		if structured.Text != "" {
			return structured.Text
		}
		if structured.Output != "" {
			return structured.Output
		}
	}
	var plain string
	if err := json.Unmarshal(body, &plain); err == nil {
		return strings.TrimSpace(plain)
	}
	return strings.TrimSpace(string(body))
}
