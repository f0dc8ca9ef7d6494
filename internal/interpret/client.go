// Package interpret wraps the external natural-language interpreter service.
// The interpreter is an opaque collaborator: it receives a free-text task
// description and returns candidate structured commands. Its absence or
// timeout is a recoverable error, never a crash, and its output always
// re-enters the normal submit path.
package interpret

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Candidate is one structured command proposed by the interpreter.
type Candidate struct {
	CommandType string            `json:"command_type"`
	Params      map[string]string `json:"params"`
}

// Result is the interpreter's full response. Reason is set when the
// interpreter could not produce any command.
type Result struct {
	Commands []Candidate `json:"commands"`
	Reason   string      `json:"reason,omitempty"`
}

// ErrUnavailable wraps transport-level failures talking to the interpreter.
var ErrUnavailable = errors.New("interpreter unavailable")

// Client calls the interpreter over HTTP.
type Client struct {
	endpoint string
	timeout  time.Duration
	http     *http.Client
}

// NewClient creates an interpreter client. A zero timeout defaults to 30s.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		timeout:  timeout,
		http:     &http.Client{Timeout: timeout},
	}
}

// Analyze submits a task description and returns the interpreter's candidates.
func (c *Client) Analyze(ctx context.Context, description string) (*Result, error) {
	if c.endpoint == "" {
		return nil, fmt.Errorf("%w: no endpoint configured", ErrUnavailable)
	}

	body, err := json.Marshal(map[string]string{"description": description})
	if err != nil {
		return nil, fmt.Errorf("marshal analyze request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: interpreter returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode interpreter response: %w", err)
	}
	return &result, nil
}
