// Package engine talks to the external speech-recognition service. The
// gateway never transcribes anything itself; it ships bytes out and maps
// whatever comes back into the failure taxonomy.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// StatusError is a non-2xx reply from the engine.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("engine: status %d: %s", e.StatusCode, e.Body)
}

// ErrMalformedResponse means a 2xx reply without a usable text field.
var ErrMalformedResponse = errors.New("engine: malformed response body")

type Client struct {
	url     string
	timeout time.Duration
	http    *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Client{
		url:     url,
		timeout: timeout,
		// per-request deadline comes from the context below
		http: &http.Client{},
	}
}

type response struct {
	ASR  *string `json:"asr"`
	Text *string `json:"text"`
}

// Transcribe posts the audio as a multipart form with a language field and
// returns the transcript. The engine may answer with either an "asr" or a
// "text" field.
func (c *Client) Transcribe(ctx context.Context, audio []byte, contentType, language string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="audio"`)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	hdr.Set("Content-Type", contentType)
	fw, err := mw.CreatePart(hdr)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(audio); err != nil {
		return "", err
	}
	if err := mw.WriteField("language", language); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, c.url, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 512)}
	}

	var decoded response
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	switch {
	case decoded.ASR != nil:
		return strings.TrimSpace(*decoded.ASR), nil
	case decoded.Text != nil:
		return strings.TrimSpace(*decoded.Text), nil
	default:
		return "", ErrMalformedResponse
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
