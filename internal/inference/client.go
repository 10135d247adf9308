// Package inference is the HTTP client for the assistant backend. The backend
// exposes a single POST /predict endpoint taking a multipart turn (text, image,
// language, optional coordinates) and a GET /get-location-name reverse geocoder.
package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

// Supported locale codes, mirroring the backend's language map.
var Languages = []string{"en", "hi", "te", "kn"}

func ValidLanguage(code string) bool {
	for _, l := range Languages {
		if l == code {
			return true
		}
	}
	return false
}

// Query is one user turn sent to the backend.
type Query struct {
	Text     string
	Image    []byte
	Language string
	Lat      string
	Lon      string
}

type Kind int

const (
	// KindAnswer carries analysis text and optional synthesized audio.
	KindAnswer Kind = iota
	// KindFailure carries a backend-reported error message.
	KindFailure
	// KindEmpty means the backend answered 200 with neither analysis nor error.
	KindEmpty
)

// Result is the backend response resolved into exactly one variant at the HTTP
// boundary, so callers never re-inspect the raw shape.
type Result struct {
	Kind  Kind
	Text  string
	Audio []byte // decoded MP3, only for KindAnswer
}

type Config struct {
	BaseURL     string
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 400 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{cfg: cfg}
}

// Predict sends one turn and resolves the response into a Result. Transport
// errors and temporary statuses are retried with exponential backoff; the last
// error is returned once retries are exhausted.
func (c *Client) Predict(ctx context.Context, q Query) (Result, error) {
	endpointURL, err := c.endpoint("/predict")
	if err != nil {
		return Result{}, err
	}
	body, contentType, err := buildForm(q)
	if err != nil {
		return Result{}, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		res, retry, err := c.callOnce(ctx, endpointURL, contentType, body)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !retry || attempt == c.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(c.cfg.BackoffBase * (1 << attempt)):
		}
	}

	return Result{}, lastErr
}

func (c *Client) callOnce(ctx context.Context, endpointURL, contentType string, body []byte) (res Result, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, false, fmt.Errorf("build predict request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return Result{}, true, fmt.Errorf("predict request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return Result{}, false, fmt.Errorf("read predict response: %w", err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return Result{}, true, fmt.Errorf("backend temporary status %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, false, fmt.Errorf("backend status %d", resp.StatusCode)
	}

	res, err = parsePredict(respBody)
	if err != nil {
		return Result{}, false, err
	}
	return res, false, nil
}

// buildForm renders the multipart body. The backend always expects a file
// part; a zero-byte image/png placeholder stands in when no image is attached.
func buildForm(q Query) (body []byte, contentType string, err error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="empty.png"`)
	h.Set("Content-Type", "image/png")
	if len(q.Image) > 0 {
		h.Set("Content-Disposition", `form-data; name="file"; filename="upload.jpg"`)
		h.Set("Content-Type", "image/jpeg")
	}
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(q.Image); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}

	if err := w.WriteField("text", q.Text); err != nil {
		return nil, "", fmt.Errorf("write text field: %w", err)
	}
	if err := w.WriteField("language", q.Language); err != nil {
		return nil, "", fmt.Errorf("write language field: %w", err)
	}
	if q.Lat != "" && q.Lon != "" {
		if err := w.WriteField("lat", q.Lat); err != nil {
			return nil, "", fmt.Errorf("write lat field: %w", err)
		}
		if err := w.WriteField("lon", q.Lon); err != nil {
			return nil, "", fmt.Errorf("write lon field: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

func parsePredict(body []byte) (Result, error) {
	var resp struct {
		Analysis     string `json:"analysis"`
		Error        string `json:"error"`
		AudioContent string `json:"audioContent"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Result{}, fmt.Errorf("decode predict response: %w", err)
	}

	if strings.TrimSpace(resp.Analysis) != "" {
		res := Result{Kind: KindAnswer, Text: resp.Analysis}
		if strings.TrimSpace(resp.AudioContent) != "" {
			audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
			if err == nil {
				res.Audio = audio
			}
		}
		return res, nil
	}
	if strings.TrimSpace(resp.Error) != "" {
		return Result{Kind: KindFailure, Text: resp.Error}, nil
	}
	return Result{Kind: KindEmpty}, nil
}

// LocationName reverse-geocodes coordinates for onboarding feedback. An empty
// string is a valid answer; callers treat failures as non-fatal.
func (c *Client) LocationName(ctx context.Context, lat, lon string) (string, error) {
	endpointURL, err := c.endpoint("/get-location-name")
	if err != nil {
		return "", err
	}
	u, err := url.Parse(endpointURL)
	if err != nil {
		return "", fmt.Errorf("parse geocode url: %w", err)
	}
	vals := url.Values{}
	vals.Set("lat", lat)
	vals.Set("lon", lon)
	u.RawQuery = vals.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build geocode request: %w", err)
	}
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read geocode response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("geocode status %d", resp.StatusCode)
	}

	var parsed struct {
		LocationName string `json:"locationName"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode geocode response: %w", err)
	}
	return parsed.LocationName, nil
}

func (c *Client) endpoint(path string) (string, error) {
	base := strings.TrimSpace(c.cfg.BaseURL)
	if base == "" {
		return "", fmt.Errorf("base url is empty")
	}
	return strings.TrimSuffix(base, "/") + path, nil
}
