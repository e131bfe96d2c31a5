// Package client sends source photos to the finishing server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"
	"time"

	"github.com/you-humble/amazonmain/batcher/internal/domain"
)

const (
	DefaultTimeout = 120 * time.Second
	endpointPath   = "/api/amazon-main"
	healthPath     = "/api/health"
	maxErrorBody   = 16 << 10
)

type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout bounds one Transform round trip. Non-positive values keep the
// default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		timeout:    DefaultTimeout,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transform uploads one image and returns the finished JPEG. Errors are
// domain.ErrTimeout, domain.ErrNetwork, *domain.ServiceError or the caller's
// context error when ctx itself was cancelled.
func (c *Client) Transform(ctx context.Context, image []byte, filename string) (domain.FinishedImage, error) {
	body, contentType, err := multipartBody(image, filename)
	if err != nil {
		return domain.FinishedImage{}, fmt.Errorf("build upload: %w", err)
	}

	tctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(tctx, http.MethodPost, c.baseURL+endpointPath, body)
	if err != nil {
		return domain.FinishedImage{}, fmt.Errorf("%w: %w", domain.ErrNetwork, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.FinishedImage{}, c.transportError(ctx, tctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.FinishedImage{}, serviceError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.FinishedImage{}, c.transportError(ctx, tctx, err)
	}

	return domain.FinishedImage{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
		Filename:    attachmentName(resp.Header.Get("Content-Disposition")),
	}, nil
}

// Health calls the server liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	tctx, cancel := context.WithTimeout(ctx, min(c.timeout, 10*time.Second))
	defer cancel()

	req, err := http.NewRequestWithContext(tctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrNetwork, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(ctx, tctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return serviceError(resp)
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode health: %w", err)
	}
	if payload.Status != "ok" {
		return &domain.ServiceError{StatusCode: resp.StatusCode, Message: "server status " + payload.Status}
	}
	return nil
}

func (c *Client) transportError(parent, scoped context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(scoped.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", domain.ErrTimeout, c.timeout)
	}
	return fmt.Errorf("%w: %w", domain.ErrNetwork, err)
}

func serviceError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var payload struct {
		Error string `json:"error"`
	}
	msg := ""
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	} else if text := strings.TrimSpace(string(raw)); text != "" {
		msg = text
	} else {
		msg = http.StatusText(resp.StatusCode)
	}
	return &domain.ServiceError{StatusCode: resp.StatusCode, Message: msg}
}

func multipartBody(image []byte, filename string) (*bytes.Buffer, string, error) {
	if filename == "" {
		filename = "product_photo.jpg"
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(filename)))
	h.Set("Content-Type", contentTypeFor(filename))
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func contentTypeFor(filename string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); ct != "" {
		return ct
	}
	return "image/jpeg"
}

func attachmentName(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["filename"]
}
