// Package notify dispatches user-facing alerts to a Gotify server. Dispatch
// is strictly best-effort: callers log returned errors and move on.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Config struct {
	URL      string `mapstructure:"url"`
	Token    string `mapstructure:"token"`
	Priority int    `mapstructure:"priority"`
}

type GotifyClient struct {
	cfg        Config
	httpClient *http.Client
}

func NewGotifyClient(cfg Config) *GotifyClient {
	if cfg.Priority == 0 {
		cfg.Priority = 5
	}
	return &GotifyClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify posts one message. A zero-value URL disables dispatch silently so
// the client can be wired unconditionally.
func (c *GotifyClient) Notify(ctx context.Context, title, message string) error {
	if c.cfg.URL == "" {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"title":    title,
		"message":  message,
		"priority": c.cfg.Priority,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/message", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gotify-Key", c.cfg.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gotify returned status %d: %s", resp.StatusCode, body)
	}
	return nil
}
