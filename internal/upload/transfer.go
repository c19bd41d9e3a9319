package upload

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/mtiwari1/stylesync/internal/hasher"
)

const defaultTransferTimeout = 60 * time.Second

// HTTPTransfer streams a resource to the upload endpoint as a multipart form
// and expects {"url": "..."} back.
type HTTPTransfer struct {
	endpoint string
	http     *http.Client
}

// NewHTTPTransfer creates a transfer posting to endpoint.
func NewHTTPTransfer(endpoint string, timeout time.Duration) *HTTPTransfer {
	if timeout <= 0 {
		timeout = defaultTransferTimeout
	}
	return &HTTPTransfer{endpoint: endpoint, http: &http.Client{Timeout: timeout}}
}

// Upload implements Transfer.
func (t *HTTPTransfer) Upload(ctx context.Context, u PendingUpload) (string, error) {
	path, err := hasher.LocalPath(u.SourceURI)
	if err != nil {
		return "", err
	}
	fp, err := hasher.Compute(path)
	if err != nil {
		return "", err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	// Stream the file through the pipe; never loads it into memory.
	go func() {
		pw.CloseWithError(writeForm(mw, path, u, fp))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, pr)
	if err != nil {
		pr.Close()
		return "", fmt.Errorf("upload: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Content-SHA256", fp.Hash)

	resp, err := t.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: post %s: %w", u.SourceURI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("upload: %s returned %d: %s", t.endpoint, resp.StatusCode, body)
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("upload: decode response: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("upload: response missing url")
	}
	return out.URL, nil
}

func writeForm(mw *multipart.Writer, path string, u PendingUpload, fp *hasher.Fingerprint) error {
	fields := map[string]string{
		"message_id": u.MessageID,
		"sha256":     fp.Hash,
		"size":       strconv.FormatInt(fp.Size, 10),
		"mime_type":  fp.MIMEType,
	}
	if fp.Width > 0 {
		fields["width"] = strconv.Itoa(fp.Width)
		fields["height"] = strconv.Itoa(fp.Height)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	return mw.Close()
}
