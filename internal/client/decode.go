package client

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// ErrUnsupportedEncoding is returned for a Content-Encoding the relay cannot decode.
var ErrUnsupportedEncoding = errors.New("unsupported content encoding")

// decodeBody undoes the codings listed in a Content-Encoding header value.
// Codings are listed in the order they were applied, so they are removed
// right to left.
func decodeBody(encoding string, raw []byte, limit int64) ([]byte, error) {
	if strings.TrimSpace(encoding) == "" {
		return raw, nil
	}

	body := raw
	codings := strings.Split(encoding, ",")
	for i := len(codings) - 1; i >= 0; i-- {
		coding := strings.ToLower(strings.TrimSpace(codings[i]))
		if coding == "" || coding == "identity" {
			continue
		}

		r, err := newDecoder(coding, body)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", coding, err)
		}
		body, err = readLimited(r, limit)
		_ = r.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", coding, err)
		}
	}
	return body, nil
}

func newDecoder(coding string, body []byte) (io.ReadCloser, error) {
	switch coding {
	case "gzip", "x-gzip":
		return gzip.NewReader(bytes.NewReader(body))
	case "deflate":
		// RFC 9110 deflate is zlib-wrapped, but some servers send raw DEFLATE.
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err == nil {
			return zr, nil
		}
		return flate.NewReader(bytes.NewReader(body)), nil
	case "br":
		return io.NopCloser(brotli.NewReader(bytes.NewReader(body))), nil
	case "zstd":
		zr, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, ErrUnsupportedEncoding
	}
}
