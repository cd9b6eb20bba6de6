// Package cloudflare generates images through a Cloudflare Worker that
// fronts a text-to-image model.
package cloudflare

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
)

// ErrNoImage is returned when the worker answers without image data.
var ErrNoImage = errors.New("cloudflare: response contained no image")

// maxImageBytes caps how much of a response body is read.
const maxImageBytes = 20 << 20

// Config describes the worker endpoint and default generation parameters.
type Config struct {
	URL            string
	APIKey         string
	Width          int
	Height         int
	Steps          int
	NegativePrompt string
	Timeout        time.Duration
}

// Client calls the worker.
type Client struct {
	config     Config
	httpClient *http.Client
}

// New creates a client. Zero sizes default to 768x768 with 25 steps.
func New(config Config) *Client {
	if config.Width <= 0 {
		config.Width = 768
	}
	if config.Height <= 0 {
		config.Height = 768
	}
	if config.Steps <= 0 {
		config.Steps = 25
	}
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

type generateRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	NumSteps       int    `json:"num_steps"`
}

type generateResponse struct {
	ImageURL string `json:"image_url"`
	Image    string `json:"image"`
	Error    string `json:"error"`
}

// StatusError is a non-200 answer from the worker.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cloudflare worker error (status %d): %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed on retry.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// GenerateImage renders prompt and returns the encoded image. The worker
// may answer with raw image bytes or with JSON pointing at the image.
func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	if c.config.URL == "" {
		return nil, fmt.Errorf("cloudflare: worker URL not configured")
	}
	body, err := json.Marshal(generateRequest{
		Prompt:         prompt,
		NegativePrompt: c.config.NegativePrompt,
		Width:          c.config.Width,
		Height:         c.config.Height,
		NumSteps:       c.config.Steps,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		if len(data) == 0 {
			return nil, ErrNoImage
		}
		return data, nil
	case mediaType == "application/json":
		var out generateResponse
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("parsing response: %w", err)
		}
		if out.Error != "" {
			return nil, fmt.Errorf("cloudflare worker: %s", out.Error)
		}
		if out.Image != "" {
			return decodeDataURI(out.Image)
		}
		if out.ImageURL != "" {
			return c.fetch(ctx, out.ImageURL)
		}
		return nil, ErrNoImage
	default:
		return nil, fmt.Errorf("cloudflare: unexpected content type %q", mediaType)
	}
}

// fetch downloads the image at url; data URIs are decoded in place.
func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	if strings.HasPrefix(url, "data:") {
		return decodeDataURI(url)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating image request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: "image download failed"}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNoImage
	}
	return data, nil
}

// decodeDataURI accepts "data:<type>;base64,<payload>" or bare base64.
func decodeDataURI(s string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		_, payload, found := strings.Cut(rest, ",")
		if !found {
			return nil, fmt.Errorf("cloudflare: malformed data URI")
		}
		s = payload
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNoImage
	}
	return data, nil
}
