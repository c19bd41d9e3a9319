// Package hasher fingerprints local resources before upload: a streaming
// SHA256, the sniffed content type and, for images, their dimensions.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// Fingerprint describes a local resource.
type Fingerprint struct {
	Hash     string // hex-encoded SHA256
	Size     int64
	MIMEType string
	Width    int // zero unless the resource is a decodable image
	Height   int
}

// LocalPath converts a source URI ("file:///tmp/a.jpg" or a bare path) into a
// filesystem path.
func LocalPath(sourceURI string) (string, error) {
	if !strings.Contains(sourceURI, "://") {
		return sourceURI, nil
	}
	u, err := url.Parse(sourceURI)
	if err != nil {
		return "", fmt.Errorf("hasher: parse uri: %w", err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("hasher: unsupported scheme %q", u.Scheme)
	}
	return u.Path, nil
}

// Compute streams the file at path through SHA256 and returns its fingerprint.
func Compute(path string) (*Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hasher: open file: %w", err)
	}
	defer f.Close()

	// Read first 512 bytes for MIME detection.
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("hasher: read head: %w", err)
	}
	mimeType := http.DetectContentType(head[:n])

	h := sha256.New()
	h.Write(head[:n])
	rest, err := io.Copy(h, f)
	if err != nil {
		return nil, fmt.Errorf("hasher: copy: %w", err)
	}

	fp := &Fingerprint{
		Hash:     hex.EncodeToString(h.Sum(nil)),
		Size:     int64(n) + rest,
		MIMEType: mimeType,
	}

	if strings.HasPrefix(mimeType, "image/") {
		if w, hgt, err := imageSize(path); err == nil {
			fp.Width, fp.Height = w, hgt
		}
	}
	return fp, nil
}

func imageSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
