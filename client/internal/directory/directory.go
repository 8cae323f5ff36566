// Package directory is a client for the collaborator's room lookup and
// creation endpoints.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrInvalidCode is returned for room codes that cannot be canonicalized.
var ErrInvalidCode = errors.New("invalid room code")

// NormalizeCode returns the canonical (trimmed, uppercase) form of a room code.
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", ErrInvalidCode
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("%w: %q", ErrInvalidCode, code)
		}
	}
	return code, nil
}

// Client talks to /room_code_check and /create_room.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a directory client. A nil http client uses a 10s timeout.
func New(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Exists reports whether a room with the given code exists.
func (c *Client) Exists(ctx context.Context, code string) (bool, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return false, err
	}

	var out struct {
		Exists bool `json:"exists"`
	}
	if err := c.post(ctx, "/room_code_check", map[string]string{"room_code": code}, &out); err != nil {
		return false, err
	}
	return out.Exists, nil
}

// Create asks the collaborator for a new room and returns its code.
func (c *Client) Create(ctx context.Context) (string, error) {
	var out struct {
		RoomCode string `json:"room_code"`
	}
	if err := c.post(ctx, "/create_room", nil, &out); err != nil {
		return "", err
	}
	return NormalizeCode(out.RoomCode)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
