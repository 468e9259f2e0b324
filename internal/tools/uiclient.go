package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// UIClient talks to the UI host's automation API over HTTP. It implements
// both PanelOpener and Automation; every operation is a POST of a small JSON
// body to a fixed endpoint.
type UIClient struct {
	baseURL string
	client  *http.Client
}

var (
	_ PanelOpener = (*UIClient)(nil)
	_ Automation  = (*UIClient)(nil)
)

// NewUIClient creates a client for the UI host at baseURL. client may be nil
// for the default with a 30s timeout.
func NewUIClient(baseURL string, client *http.Client) *UIClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &UIClient{baseURL: baseURL, client: client}
}

// OpenPanel implements PanelOpener.
func (u *UIClient) OpenPanel(ctx context.Context, panelID string) error {
	_, err := u.post(ctx, "/panels/open", map[string]any{"panel_id": panelID})
	return err
}

// Click implements Automation.
func (u *UIClient) Click(ctx context.Context, elementID float64) (any, error) {
	return u.post(ctx, "/automation/click", map[string]any{"element_id": elementID})
}

// Type implements Automation.
func (u *UIClient) Type(ctx context.Context, elementID float64, text string) (any, error) {
	return u.post(ctx, "/automation/type", map[string]any{"element_id": elementID, "text": text})
}

// Scroll implements Automation.
func (u *UIClient) Scroll(ctx context.Context, direction string) (any, error) {
	return u.post(ctx, "/automation/scroll", map[string]any{"direction": direction})
}

// Screenshot implements Automation.
func (u *UIClient) Screenshot(ctx context.Context) (any, error) {
	return u.post(ctx, "/automation/screenshot", map[string]any{})
}

// Navigate implements Automation.
func (u *UIClient) Navigate(ctx context.Context, url string) (any, error) {
	return u.post(ctx, "/automation/navigate", map[string]any{"url": url})
}

// Wait implements Automation.
func (u *UIClient) Wait(ctx context.Context, seconds float64) (any, error) {
	return u.post(ctx, "/automation/wait", map[string]any{"seconds": seconds})
}

// ReadPage implements Automation.
func (u *UIClient) ReadPage(ctx context.Context) (any, error) {
	return u.post(ctx, "/automation/read_page", map[string]any{})
}

func (u *UIClient) post(ctx context.Context, endpoint string, body map[string]any) (any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ui host unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read ui response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ui host returned status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	if len(data) == 0 {
		return map[string]any{"ok": true}, nil
	}

	var result any
	if err := json.Unmarshal(data, &result); err != nil {
		// Non-JSON bodies pass through as text.
		return map[string]any{"text": string(data)}, nil
	}
	return result, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
