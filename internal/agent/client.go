package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the metrics server. Every request is bounded by the
// client timeout.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a server client for baseURL
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// StatusError is returned when the server answers with a non-2xx status
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: server returned %d: %s", e.Method, e.Path, e.Status, e.Body)
}

type registerRequest struct {
	DeviceID   string `json:"device_id"`
	MACAddress string `json:"mac_address"`
	Hostname   string `json:"hostname"`
	OSInfo     string `json:"os_info,omitempty"`
}

// RegisterResponse is the server's view of the registered device
type RegisterResponse struct {
	ID         string `json:"id"`
	DeviceID   string `json:"device_id"`
	MACAddress string `json:"mac_address"`
	Hostname   string `json:"hostname"`
	Action     string `json:"action"`
}

type metricsRequest struct {
	DeviceID   string             `json:"device_id,omitempty"`
	MACAddress string             `json:"mac_address,omitempty"`
	Hostname   string             `json:"hostname,omitempty"`
	Metrics    map[string]float64 `json:"metrics"`
}

type priceRequest struct {
	Price float64 `json:"price"`
}

type pollResponse struct {
	Symbol *string `json:"symbol"`
}

// Register announces the host to the server
func (c *Client) Register(ctx context.Context, id HostIdentity) (*RegisterResponse, error) {
	var resp RegisterResponse
	err := c.do(ctx, http.MethodPost, "/devices/register", registerRequest{
		DeviceID:   id.DeviceID,
		MACAddress: id.MACAddress,
		Hostname:   id.Hostname,
		OSInfo:     id.OSInfo,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitMetrics sends one batch of metric values
func (c *Client) SubmitMetrics(ctx context.Context, id HostIdentity, values map[string]float64) error {
	return c.do(ctx, http.MethodPut, "/metrics/system", metricsRequest{
		DeviceID:   id.DeviceID,
		MACAddress: id.MACAddress,
		Hostname:   id.Hostname,
		Metrics:    values,
	}, nil)
}

// SubmitPrice sends the current price of symbol
func (c *Client) SubmitPrice(ctx context.Context, symbol string, price float64) error {
	return c.do(ctx, http.MethodPut, "/metrics/stock/"+url.PathEscape(symbol), priceRequest{Price: price}, nil)
}

// Poll asks the server for a pending symbol. ok is false when there is none.
func (c *Client) Poll(ctx context.Context, id HostIdentity) (symbol string, ok bool, err error) {
	q := url.Values{}
	q.Set("device_id", id.DeviceID)
	q.Set("mac_address", id.MACAddress)
	q.Set("hostname", id.Hostname)

	var resp pollResponse
	if err := c.do(ctx, http.MethodGet, "/metrics/stock/poll?"+q.Encode(), nil, &resp); err != nil {
		return "", false, err
	}
	if resp.Symbol == nil || *resp.Symbol == "" {
		return "", false, nil
	}
	return *resp.Symbol, true, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
	}
	return nil
}
