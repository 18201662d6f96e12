package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// HTTPUploader posts files to the chat media endpoint as multipart form data.
// The endpoint responds with the public URL to embed in the outgoing message.
type HTTPUploader struct {
	endpoint string
	client   *http.Client
}

func NewHTTPUploader(endpoint string) *HTTPUploader {
	return &HTTPUploader{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

type uploadResponse struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (u *HTTPUploader) Upload(ctx context.Context, path string, mimeType string) (string, string, error) {
	if u.endpoint == "" {
		return "", "", fmt.Errorf("media upload endpoint is not configured")
	}

	file, err := os.Open(path) // #nosec G304 - path validated by the handler
	if err != nil {
		return "", "", fmt.Errorf("failed to open media file: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", "", fmt.Errorf("failed to read media file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", "", fmt.Errorf("failed to finalize upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, &body)
	if err != nil {
		return "", "", fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Media-Mime-Type", mimeType)

	resp, err := u.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("media upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", "", fmt.Errorf("media upload returned status %d: %s", resp.StatusCode, string(detail))
	}

	var uploaded uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return "", "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if uploaded.URL == "" {
		return "", "", fmt.Errorf("upload response missing url: %s", uploaded.Error)
	}
	return uploaded.URL, uploaded.ThumbnailURL, nil
}
