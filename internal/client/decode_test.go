package client

import (
	"bytes"
	"errors"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

const samplePayload = `{"fields":[{"name":"ip.src"},{"name":"ip.dst"},{"name":"tcp.port"}]}`

func compressGzip(t *testing.T, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func compressZlib(t *testing.T, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func compressFlate(t *testing.T, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(b); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func compressBrotli(t *testing.T, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func compressZstd(t *testing.T, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(b); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDecodeBody(t *testing.T) {
	payload := []byte(samplePayload)

	tests := []struct {
		name     string
		encoding string
		raw      []byte
	}{
		{"identity empty", "", payload},
		{"identity explicit", "identity", payload},
		{"gzip", "gzip", compressGzip(t, payload)},
		{"gzip uppercase", "GZIP", compressGzip(t, payload)},
		{"deflate zlib", "deflate", compressZlib(t, payload)},
		{"deflate raw", "deflate", compressFlate(t, payload)},
		{"br", "br", compressBrotli(t, payload)},
		{"zstd", "zstd", compressZstd(t, payload)},
		{"stacked gzip then br", "gzip, br", compressBrotli(t, compressGzip(t, payload))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeBody(tt.encoding, tt.raw, 1<<20)
			if err != nil {
				t.Fatalf("decodeBody() error = %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Errorf("decodeBody() = %q, want %q", got, payload)
			}
		})
	}
}

func TestDecodeBody_Unsupported(t *testing.T) {
	_, err := decodeBody("compress", []byte("whatever"), 1<<20)
	if !errors.Is(err, ErrUnsupportedEncoding) {
		t.Fatalf("decodeBody() error = %v, want ErrUnsupportedEncoding", err)
	}
}

func TestDecodeBody_CorruptGzip(t *testing.T) {
	_, err := decodeBody("gzip", []byte("not gzip at all"), 1<<20)
	if err == nil {
		t.Fatal("decodeBody() expected error for corrupt gzip, got nil")
	}
}

func TestDecodeBody_DecompressedTooLarge(t *testing.T) {
	big := bytes.Repeat([]byte("a"), 4096)
	_, err := decodeBody("gzip", compressGzip(t, big), 1024)
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("decodeBody() error = %v, want ErrResponseTooLarge", err)
	}
}
