package probe

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// Defaults for the sampling pass.
const (
	// DefaultSampleBytes bounds how much of the input the probe reads.
	DefaultSampleBytes = 20000

	// DefaultSampleRows bounds how many rows feed inference.
	DefaultSampleRows = 1000
)

// Format identifies the shape of raw input bytes.
type Format int

const (
	FormatUnknown Format = iota
	FormatCSV
	FormatHTML
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatHTML:
		return "html"
	case FormatJSON:
		return "json"
	default:
		return "unknown"
	}
}

// ParseFormat maps a format flag value to a Format. Empty and "auto" mean
// sniff from the input bytes.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FormatCSV, nil
	case "html":
		return FormatHTML, nil
	case "json":
		return FormatJSON, nil
	case "", "auto":
		return FormatUnknown, nil
	}
	return FormatUnknown, fmt.Errorf("unknown input format %q", s)
}

// SniffFormat infers the input format from a byte sample. Detection is
// heuristic and intentionally conservative: anything that does not look
// like markup or a JSON value is treated as delimited text.
func SniffFormat(sample []byte) Format {
	trim := bytes.TrimSpace(sample)
	if len(trim) == 0 {
		return FormatUnknown
	}
	switch trim[0] {
	case '<':
		return FormatHTML
	case '[', '{':
		return FormatJSON
	}
	return FormatCSV
}

// ClipToLastNewline cuts a byte-limited sample at the final line break so a
// torn trailing record does not reach the parser. Samples without any line
// break pass through unchanged.
func ClipToLastNewline(b []byte) []byte {
	if i := bytes.LastIndexByte(b, '\n'); i > 0 {
		return b[:i+1]
	}
	return b
}

// OpenSource opens the input for streaming. Source is a local file path
// (optionally file://-prefixed) or an http(s) URL; insecure skips TLS
// certificate verification on https sources.
func OpenSource(ctx context.Context, source string, insecure bool) (io.ReadCloser, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", source, err)
		}
		client := http.DefaultClient
		if insecure {
			client = &http.Client{Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			}}
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", source, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			resp.Body.Close()
			return nil, fmt.Errorf("open %s: status %s", source, resp.Status)
		}
		return resp.Body, nil
	}

	return os.Open(strings.TrimPrefix(source, "file://"))
}

// Peek reads at most n bytes from the start of source.
func Peek(ctx context.Context, source string, n int, insecure bool) ([]byte, error) {
	if n <= 0 {
		n = DefaultSampleBytes
	}
	rc, err := OpenSource(ctx, source, insecure)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, int64(n)))
}
