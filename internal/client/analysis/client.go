// Package analysis talks to the remote report and chat service.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ayurscan/backend/internal/model/chat"
	"github.com/ayurscan/backend/internal/model/report"
)

// ImageType is the only image type the analysis endpoint is asked to handle.
const ImageType = "jpg"

// ErrMissingField is returned when a response lacks the field the caller consumes.
var ErrMissingField = errors.New("response missing expected field")

// Client calls /analyze and /chat on the analysis backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// AnalyzeRequest is the /analyze request body.
type AnalyzeRequest struct {
	Type string `json:"Type"`
	URL  string `json:"Url"`
}

// ChatRequest is the /chat request body.
type ChatRequest struct {
	Message string `json:"message"`
}

// New creates a client for the given base URL.
func New(baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Analyze asks the service to analyze the hosted image and returns its report.
func (c *Client) Analyze(ctx context.Context, imageURL string) (*report.Report, error) {
	fields, err := c.post(ctx, "/analyze", AnalyzeRequest{Type: ImageType, URL: imageURL})
	if err != nil {
		return nil, err
	}

	raw, ok := fields["report"]
	if !ok || isNull(raw) {
		return nil, fmt.Errorf("%w: report", ErrMissingField)
	}

	r, err := report.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}

	c.logger.Info("analysis completed", zap.String("disease", r.Disease), zap.Int("observations", len(r.Observations)))
	return r, nil
}

// Prime sends the chat priming message and returns the "reply" field.
func (c *Client) Prime(ctx context.Context, _ string, prompt string) (chat.Content, error) {
	return c.chat(ctx, prompt, "reply")
}

// Reply sends one chat turn and returns the "response" field.
func (c *Client) Reply(ctx context.Context, _ string, message string) (chat.Content, error) {
	return c.chat(ctx, message, "response")
}

func (c *Client) chat(ctx context.Context, message, field string) (chat.Content, error) {
	fields, err := c.post(ctx, "/chat", ChatRequest{Message: message})
	if err != nil {
		return chat.Content{}, err
	}

	raw, ok := fields[field]
	if !ok {
		return chat.Content{}, fmt.Errorf("%w: %s", ErrMissingField, field)
	}

	var content chat.Content
	if err := json.Unmarshal(raw, &content); err != nil {
		return chat.Content{}, fmt.Errorf("decode %s: %w", field, err)
	}
	return content, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (map[string]json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, truncate(string(data), 200))
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}
	return fields, nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
