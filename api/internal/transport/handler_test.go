package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/you-humble/amazonmain/api/internal/domain"
)

type stubUsecase struct {
	result domain.FinishedImage
	err    error
	got    domain.SourceImage
	calls  int
}

func (s *stubUsecase) AmazonMain(_ context.Context, src domain.SourceImage) (domain.FinishedImage, error) {
	s.calls++
	s.got = src
	return s.result, s.err
}

func newServer(uc Usecase, limitMb int64) *httptest.Server {
	mux := NewRouter(NewHandler(limitMb, uc), http.NotFoundHandler()).MountRoutes(http.NewServeMux())
	return httptest.NewServer(WithRecover(LogMiddleware(mux)))
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body domain.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error
}

func TestHealth(t *testing.T) {
	srv := newServer(&stubUsecase{}, 10)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	defer resp.Body.Close()

	var body domain.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || body.Status != "ok" {
		t.Fatalf("unexpected health response %d %+v", resp.StatusCode, body)
	}
}

func TestAmazonMainReturnsJPEG(t *testing.T) {
	uc := &stubUsecase{result: domain.FinishedImage{Data: []byte("jpeg-bytes"), Width: 2000, Height: 2000}}
	srv := newServer(uc, 10)
	defer srv.Close()

	body, contentType := multipartBody(t, "file", "shoe.png", []byte("raw-photo"))
	resp, err := http.Post(srv.URL+"/api/amazon-main", contentType, body)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename="amazon-main.jpg"` {
		t.Fatalf("unexpected content disposition %q", cd)
	}
	var got bytes.Buffer
	_, _ = got.ReadFrom(resp.Body)
	if got.String() != "jpeg-bytes" {
		t.Fatalf("unexpected body %q", got.String())
	}
	if string(uc.got.Data) != "raw-photo" || uc.got.Filename != "shoe.png" {
		t.Fatalf("usecase received %+v", uc.got)
	}
}

func TestAmazonMainErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "config missing",
			err:        domain.ErrConfigMissing,
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "Gemini AI integration is not configured. Please set up the AI integration.",
		},
		{
			name:       "no image",
			err:        fmt.Errorf("generate: %w", domain.ErrUpstreamNoImage),
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "AI did not return an image. Please try again.",
		},
		{
			name:       "encoding",
			err:        domain.ErrEncodingFailure,
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "Failed to process image: image encoding failed",
		},
		{
			name:       "other",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "Failed to process image: boom",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newServer(&stubUsecase{err: tc.err}, 10)
			defer srv.Close()

			body, contentType := multipartBody(t, "file", "a.jpg", []byte("x"))
			resp, err := http.Post(srv.URL+"/api/amazon-main", contentType, body)
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status %d, want %d", resp.StatusCode, tc.wantStatus)
			}
			if msg := decodeError(t, resp); msg != tc.wantMsg {
				t.Fatalf("message %q, want %q", msg, tc.wantMsg)
			}
		})
	}
}

func TestAmazonMainMissingFile(t *testing.T) {
	uc := &stubUsecase{}
	srv := newServer(uc, 10)
	defer srv.Close()

	body, contentType := multipartBody(t, "other", "a.jpg", []byte("x"))
	resp, err := http.Post(srv.URL+"/api/amazon-main", contentType, body)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if msg := decodeError(t, resp); msg != "No image file provided" {
		t.Fatalf("unexpected message %q", msg)
	}
	if uc.calls != 0 {
		t.Fatal("usecase must not be called without a file")
	}
}

func TestAmazonMainNotMultipart(t *testing.T) {
	srv := newServer(&stubUsecase{}, 10)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/amazon-main", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
}

func TestAmazonMainTooLarge(t *testing.T) {
	uc := &stubUsecase{}
	h := NewHandler(1, uc)

	body, contentType := multipartBody(t, "file", "big.jpg", bytes.Repeat([]byte("a"), 2<<20))
	req := httptest.NewRequest(http.MethodPost, "/api/amazon-main", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.amazonMain(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "1 MB") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if uc.calls != 0 {
		t.Fatal("usecase must not be called for oversize upload")
	}
}

func TestAmazonMainFileSizeLimit(t *testing.T) {
	cases := []struct {
		name     string
		size     int
		wantCode int
		calls    int
	}{
		{name: "exactly at limit", size: 10 << 20, wantCode: http.StatusOK, calls: 1},
		{name: "one byte over", size: 10<<20 + 1, wantCode: http.StatusBadRequest, calls: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uc := &stubUsecase{result: domain.FinishedImage{Data: []byte("jpeg"), Width: 2000, Height: 2000}}
			h := NewHandler(10, uc)

			body, contentType := multipartBody(t, "file", "edge.jpg", bytes.Repeat([]byte("a"), tc.size))
			req := httptest.NewRequest(http.MethodPost, "/api/amazon-main", body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()

			h.amazonMain(rec, req)

			if rec.Code != tc.wantCode {
				t.Fatalf("status %d, want %d: %s", rec.Code, tc.wantCode, rec.Body.String())
			}
			if uc.calls != tc.calls {
				t.Fatalf("usecase calls %d, want %d", uc.calls, tc.calls)
			}
			if tc.wantCode == http.StatusBadRequest && !strings.Contains(rec.Body.String(), "10 MB") {
				t.Fatalf("unexpected body %s", rec.Body.String())
			}
			if tc.calls == 1 && len(uc.got.Data) != tc.size {
				t.Fatalf("usecase got %d bytes, want %d", len(uc.got.Data), tc.size)
			}
		})
	}
}

func TestAmazonMainMethodNotAllowed(t *testing.T) {
	srv := newServer(&stubUsecase{}, 10)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/amazon-main")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
}

type panicUsecase struct{}

func (panicUsecase) AmazonMain(context.Context, domain.SourceImage) (domain.FinishedImage, error) {
	panic("unexpected")
}

func TestRecoverReturnsJSON(t *testing.T) {
	srv := newServer(panicUsecase{}, 10)
	defer srv.Close()

	body, contentType := multipartBody(t, "file", "a.jpg", []byte("x"))
	resp, err := http.Post(srv.URL+"/api/amazon-main", contentType, body)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if msg := decodeError(t, resp); msg != "internal server error" {
		t.Fatalf("unexpected message %q", msg)
	}
}
