package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wardenhq/warden/internal/command"
)

// Verdict is the executor's report for one delivered command. OK=false is a
// terminal execution failure, not a transport error.
type Verdict struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

//go:generate mockgen -destination=mocks/mock_executor.go -package=mocks github.com/wardenhq/warden/internal/dispatch Executor

// Executor delivers a command to the external worker responsible for its
// type. A returned error is treated as transient and retried; a Verdict with
// OK=false is terminal.
type Executor interface {
	Execute(ctx context.Context, cmd command.Command) (Verdict, error)
}

// HTTPExecutor posts the command as JSON to an external agent endpoint.
type HTTPExecutor struct {
	endpoint string
	timeout  time.Duration
	http     *http.Client
}

// NewHTTPExecutor creates an executor for one agent endpoint. A zero timeout
// defaults to 60s.
func NewHTTPExecutor(endpoint string, timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPExecutor{
		endpoint: endpoint,
		timeout:  timeout,
		http:     &http.Client{Timeout: timeout},
	}
}

// Execute posts the command and decodes the worker's verdict. Non-2xx
// responses and transport errors are transient.
func (e *HTTPExecutor) Execute(ctx context.Context, cmd command.Command) (Verdict, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return Verdict{}, fmt.Errorf("marshal command: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("build executor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("executor send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Verdict{}, fmt.Errorf("executor returned status %d", resp.StatusCode)
	}

	var verdict Verdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return Verdict{}, fmt.Errorf("decode executor verdict: %w", err)
	}
	return verdict, nil
}
