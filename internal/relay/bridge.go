package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// BridgePublisher publishes through the relay's HTTP bridge.
type BridgePublisher struct {
	URL  string
	HTTP *http.Client
}

func NewBridgePublisher(url string) *BridgePublisher {
	return &BridgePublisher{URL: url, HTTP: &http.Client{Timeout: 10 * time.Second}}
}

func (b *BridgePublisher) Publish(ctx context.Context, channel, event string, data []byte) error {
	if channel == "" || event == "" {
		return ErrBadRequest
	}
	if len(data) > 0 && !json.Valid(data) {
		return fmt.Errorf("event data is not valid JSON")
	}
	body, err := json.Marshal(bridgeRequest{Channel: channel, Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("encode bridge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build bridge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("bridge request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	var out struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Error == "" {
		return fmt.Errorf("bridge returned %s", resp.Status)
	}
	return fmt.Errorf("bridge returned %d: %s", resp.StatusCode, out.Error)
}
