package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var formatContentTypes = map[Format]string{
	FormatPDF:  "application/pdf",
	FormatDOCX: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	FormatTXT:  "text/plain",
}

// Remote extracts text through a Tika-style HTTP service: raw bytes go up
// with the format's content type, plain text comes back. txt bytes skip
// the round trip entirely.
type Remote struct {
	baseURL string
	client  *http.Client
}

// NewRemote creates a client for the extraction service.
func NewRemote(baseURL string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Remote{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *Remote) Extract(ctx context.Context, data []byte, format Format) (string, error) {
	contentType, ok := formatContentTypes[format]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if format == FormatTXT {
		return Passthrough{}.Extract(ctx, data, format)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.baseURL+"/tika", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "text/plain")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("extraction service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("extraction service: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("extraction service: %s: %s", resp.Status, body)
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		return "", ErrEmptyDocument
	}
	return text, nil
}
