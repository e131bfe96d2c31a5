// Package genai talks to the Gemini generateContent REST endpoint and
// extracts the edited product image from its response.
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/you-humble/amazonmain/api/internal/domain"
)

const (
	DefaultModel       = "gemini-2.5-flash-image"
	defaultHTTPTimeout = 120 * time.Second
	maxErrorBody       = 4 << 10
)

// ProductListingPrompt is sent alongside every source photo.
const ProductListingPrompt = `Edit this product photo for an Amazon main listing image.
- Keep the product EXACTLY the same (do not repaint, retouch, change colors, patterns, logos, labels, or shape).
- Remove the entire background (including table/clutter) completely.
- Place the product on a pure white background (RGB 255,255,255).
- Keep edges clean with no halos or fringing.
- Center the product and scale it so it fills about 85% of a square frame with safe margins.
- Output a square image, photorealistic, no text, no watermark, no borders.`

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Configured reports whether both credentials needed for a call are present.
func (c Config) Configured() bool {
	return strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.BaseURL) != ""
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	prompt     string
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithPrompt replaces the listing instruction.
func WithPrompt(prompt string) Option {
	return func(c *Client) {
		if p := strings.TrimSpace(prompt); p != "" {
			c.prompt = p
		}
	}
}

func NewClient(cfg Config, opts ...Option) *Client {
	client := &Client{
		cfg: Config{
			APIKey:  strings.TrimSpace(cfg.APIKey),
			BaseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			Model:   strings.TrimSpace(cfg.Model),
		},
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		prompt:     ProductListingPrompt,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.Model == "" {
		client.cfg.Model = DefaultModel
	}
	return client
}

func (c *Client) Configured() bool {
	return c.cfg.Configured()
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("generate content: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// GenerateImage uploads src with the listing prompt and returns the first
// inline image of the first candidate.
func (c *Client) GenerateImage(ctx context.Context, src domain.SourceImage) ([]byte, error) {
	if !c.Configured() {
		return nil, domain.ErrConfigMissing
	}
	if len(src.Data) == 0 {
		return nil, fmt.Errorf("%w: empty source image", domain.ErrInvalidInput)
	}

	mimeType := src.MimeType
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = "image/jpeg"
	}

	payload := generateRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{InlineData: &inlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(src.Data)}},
				{Text: c.prompt},
			},
		}},
		GenerationConfig: generationConfig{ResponseModalities: []string{"TEXT", "IMAGE"}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("generate content: marshal: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.cfg.BaseURL, c.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", domain.ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable,
			&httpStatusError{StatusCode: resp.StatusCode, Body: string(snippet)})
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", domain.ErrUpstreamUnavailable, err)
	}

	return firstImage(decoded)
}

func firstImage(resp generateResponse) ([]byte, error) {
	if len(resp.Candidates) == 0 {
		return nil, domain.ErrUpstreamNoImage
	}
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.InlineData == nil || p.InlineData.Data == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: inline data: %w", domain.ErrUpstreamNoImage, err)
		}
		return data, nil
	}
	return nil, domain.ErrUpstreamNoImage
}
