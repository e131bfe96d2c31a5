package domain

import (
	"errors"
)

const (
	// OutputSize is the edge length of the square deliverable.
	OutputSize = 2000
	// JPEGQuality is the fixed encoder quality of the deliverable.
	JPEGQuality = 95
	// WhitenThreshold is the default lower bound at which a channel counts as
	// background white.
	WhitenThreshold = 250

	ResultFilename    = "amazon-main.jpg"
	ResultContentType = "image/jpeg"
)

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// SourceImage is one uploaded photo as received by the HTTP layer.
type SourceImage struct {
	Data     []byte
	MimeType string
	Filename string
}

// FinishedImage is the JPEG deliverable produced by the finishing pipeline.
type FinishedImage struct {
	Data        []byte
	Width       int
	Height      int
	Whitened    int
	ArchiveName string
}

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrConfigMissing       = errors.New("ai integration is not configured")
	ErrUpstreamUnavailable = errors.New("ai service unavailable")
	ErrUpstreamNoImage     = errors.New("ai returned no image")
	ErrEncodingFailure     = errors.New("image encoding failed")
)
