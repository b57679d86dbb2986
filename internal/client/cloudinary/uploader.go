// Package cloudinary uploads captured frames to a Cloudinary unsigned upload preset.
package cloudinary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// DefaultBaseURL is the public Cloudinary API host.
const DefaultBaseURL = "https://api.cloudinary.com"

// ErrNoSecureURL is returned when the upload response carries no secure_url.
var ErrNoSecureURL = errors.New("upload response missing secure_url")

// Config 描述上传所需的云名称与上传预设。
type Config struct {
	BaseURL      string
	CloudName    string
	UploadPreset string
}

// Client uploads images and returns their public URL.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	PublicID  string `json:"public_id"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// New creates an upload client. A nil httpClient falls back to http.DefaultClient.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, httpClient: httpClient, logger: logger}
}

// Endpoint returns the image upload URL for the configured cloud.
func (c *Client) Endpoint() string {
	return fmt.Sprintf("%s/v1_1/%s/image/upload", c.cfg.BaseURL, c.cfg.CloudName)
}

// Upload posts the encoded image (a data URI or remote URL) with the upload
// preset and returns the secure_url of the stored asset.
func (c *Client) Upload(ctx context.Context, image string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("file", image); err != nil {
		return "", fmt.Errorf("write file field: %w", err)
	}
	if err := writer.WriteField("upload_preset", c.cfg.UploadPreset); err != nil {
		return "", fmt.Errorf("write upload_preset field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), &body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}

	var payload uploadResponse
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("decode upload response (status %d): %w", resp.StatusCode, err)
	}

	if payload.SecureURL == "" {
		if payload.Error != nil && payload.Error.Message != "" {
			return "", fmt.Errorf("%w: status %d: %s", ErrNoSecureURL, resp.StatusCode, payload.Error.Message)
		}
		return "", fmt.Errorf("%w: status %d", ErrNoSecureURL, resp.StatusCode)
	}

	c.logger.Debug("image uploaded",
		zap.String("public_id", payload.PublicID),
		zap.String("secure_url", payload.SecureURL),
	)
	return payload.SecureURL, nil
}
