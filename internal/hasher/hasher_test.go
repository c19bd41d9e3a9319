package hasher

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func TestCompute_Text(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.txt")
	body := []byte("two words\nand three more\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}

	fp, err := Compute(path)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	sum := sha256.Sum256(body)
	if fp.Hash != hex.EncodeToString(sum[:]) {
		t.Errorf("Hash = %s", fp.Hash)
	}
	if fp.Size != int64(len(body)) {
		t.Errorf("Size = %d, want %d", fp.Size, len(body))
	}
	if fp.MIMEType != "text/plain; charset=utf-8" {
		t.Errorf("MIMEType = %q", fp.MIMEType)
	}
	if fp.Width != 0 || fp.Height != 0 {
		t.Errorf("text file should have no dimensions, got %dx%d", fp.Width, fp.Height)
	}
}

func TestCompute_ImageDimensions(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 3, 2))); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "look.png")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	fp, err := Compute(path)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if fp.MIMEType != "image/png" || fp.Width != 3 || fp.Height != 2 {
		t.Fatalf("fingerprint = %+v, want image/png 3x2", fp)
	}
	if fp.Size != int64(buf.Len()) {
		t.Fatalf("Size = %d, want %d", fp.Size, buf.Len())
	}
}

func TestCompute_MissingFile(t *testing.T) {
	if _, err := Compute(filepath.Join(t.TempDir(), "nope.jpg")); err == nil {
		t.Fatal("Compute(missing) error = nil")
	}
}

func TestLocalPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "/tmp/a.jpg", want: "/tmp/a.jpg"},
		{in: "file:///tmp/a.jpg", want: "/tmp/a.jpg"},
		{in: "https://x/a.jpg", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := LocalPath(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LocalPath(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("LocalPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
