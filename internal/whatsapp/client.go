// Package whatsapp adapts a Baileys-style WhatsApp session gateway to the
// dispatch.Channel interface.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/zapline/zapline/internal/crm"
)

// ClientConfig contains gateway connection settings
type ClientConfig struct {
	BaseURL        string
	Token          string
	RequestTimeout time.Duration
}

// Client is an HTTP client for the WhatsApp session gateway
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a gateway client
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type statusResponse struct {
	Connected bool   `json:"connected"`
	State     string `json:"state,omitempty"`
}

type sendRequest struct {
	To   string `json:"to"`
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
	Kind string `json:"kind,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

// Status reports whether the gateway session is connected
func (c *Client) Status(ctx context.Context) (bool, error) {
	var resp statusResponse
	if err := c.do(ctx, http.MethodGet, "/instance/status", nil, &resp); err != nil {
		return false, err
	}
	return resp.Connected, nil
}

// Connect asks the gateway to (re-)establish its session
func (c *Client) Connect(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/instance/connect", nil, nil)
}

// SendText sends a text message and returns the gateway message ID
func (c *Client) SendText(ctx context.Context, to, text string) (string, error) {
	var resp sendResponse
	if err := c.do(ctx, http.MethodPost, "/message/text", &sendRequest{To: to, Text: text}, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("gateway rejected message: %s", resp.Error)
	}
	return resp.MessageID, nil
}

// SendMedia sends a media item by URL and returns the gateway message ID
func (c *Client) SendMedia(ctx context.Context, to, url string, kind crm.MediaKind) (string, error) {
	var resp sendResponse
	if err := c.do(ctx, http.MethodPost, "/message/media", &sendRequest{To: to, URL: url, Kind: string(kind)}, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("gateway rejected media: %s", resp.Error)
	}
	return resp.MessageID, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode gateway response: %w", err)
		}
	}
	return nil
}
