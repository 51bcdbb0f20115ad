// Package rtc implements the media session: the HTTP negotiation contract of
// the media server plus the local transport and legs built on pion.
package rtc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// APIClient speaks the media server's negotiation endpoints.
type APIClient struct {
	baseURL string
	http    *http.Client
}

func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// RTPCapabilities fetches the server capability description.
func (c *APIClient) RTPCapabilities(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/webrtc/rtp-capabilities", nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// TransportInfo is the server's answer to a transport request.
type TransportInfo struct {
	ID             string          `json:"id"`
	ICEParameters  json.RawMessage `json:"iceParameters"`
	ICECandidates  json.RawMessage `json:"iceCandidates"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

func (c *APIClient) CreateTransport(ctx context.Context, direction string) (*TransportInfo, error) {
	body, err := c.post(ctx, "/api/webrtc/transport", map[string]string{"direction": direction})
	if err != nil {
		return nil, err
	}
	var info TransportInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode transport reply: %w", err)
	}
	return &info, nil
}

// CreateProducer is the server round-trip of the two-phase produce handshake:
// the server mints the producer id before the local produce completes.
func (c *APIClient) CreateProducer(ctx context.Context, transportID, kind string, rtpParameters, appData any) (string, error) {
	body, err := c.post(ctx, "/api/webrtc/producer", map[string]any{
		"transportId":   transportID,
		"kind":          kind,
		"rtpParameters": rtpParameters,
		"appData":       appData,
	})
	if err != nil {
		return "", err
	}
	var reply struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return "", fmt.Errorf("decode producer reply: %w", err)
	}
	if reply.ID == "" {
		return "", fmt.Errorf("producer reply missing id")
	}
	return reply.ID, nil
}

func (c *APIClient) post(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *APIClient) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, body)
	}
	return body, nil
}
