package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/you-humble/amazonmain/api/internal/domain"

	"github.com/google/uuid"
)

const (
	msgNoFile         = "No image file provided"
	msgConfigMissing  = "Gemini AI integration is not configured. Please set up the AI integration."
	msgNoImage        = "AI did not return an image. Please try again."
	msgProcessFailure = "Failed to process image: "

	multipartOverhead = 1 << 20
)

type Usecase interface {
	AmazonMain(ctx context.Context, src domain.SourceImage) (domain.FinishedImage, error)
}

type handler struct {
	maxUploadBytes int64
	usecase        Usecase
}

func NewHandler(maxUploadBytesMb int64, uc Usecase) *handler {
	return &handler{
		maxUploadBytes: maxUploadBytesMb << 20,
		usecase:        uc,
	}
}

func (h *handler) writeTooLarge(w http.ResponseWriter) {
	writeError(w, http.StatusBadRequest,
		fmt.Sprintf("Image file exceeds the %d MB limit", h.maxUploadBytes>>20))
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}
	writeJSON(w, http.StatusOK, domain.HealthResponse{Status: "ok"})
}

func (h *handler) amazonMain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	requestID := uuid.NewString()
	logger := slog.With(
		slog.String("request_id", requestID),
		slog.String("handler", "amazon_main"),
		slog.String("remote_addr", r.RemoteAddr),
	)

	defer r.Body.Close()
	// the limit applies to the file; the body also carries boundaries and part headers
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)

	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn("upload too large", slog.Int64("limit", tooLarge.Limit))
			h.writeTooLarge(w)
			return
		}
		if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
			logger.Warn("not a multipart request")
			writeError(w, http.StatusBadRequest, msgNoFile)
			return
		}
		logger.Error("ParseMultipartForm", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "unable to parse multipart form")
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		logger.Warn("missing file field")
		writeError(w, http.StatusBadRequest, msgNoFile)
		return
	}
	defer file.Close()

	logger = logger.With(slog.String("file_name", header.Filename))
	if header.Size > h.maxUploadBytes {
		logger.Warn("upload too large", slog.Int64("size", header.Size))
		h.writeTooLarge(w)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		logger.Error("read upload", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "unable to read uploaded file")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, msgNoFile)
		return
	}

	result, err := h.usecase.AmazonMain(r.Context(), domain.SourceImage{
		Data:     data,
		MimeType: header.Header.Get("Content-Type"),
		Filename: header.Filename,
	})
	if err != nil {
		logger.Error("AmazonMain usecase", slog.String("error", err.Error()))
		status, msg := errorStatus(err)
		writeError(w, status, msg)
		return
	}

	if result.ArchiveName != "" {
		logger = logger.With(slog.String("archive", result.ArchiveName))
	}
	logger.Info("image finished",
		slog.Int("width", result.Width),
		slog.Int("height", result.Height),
		slog.Int("whitened", result.Whitened),
	)

	w.Header().Set("Content-Type", domain.ResultContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+domain.ResultFilename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Data); err != nil {
		logger.Error("amazon_main: send file", slog.String("error", err.Error()))
	}
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, msgNoFile
	case errors.Is(err, domain.ErrConfigMissing):
		return http.StatusInternalServerError, msgConfigMissing
	case errors.Is(err, domain.ErrUpstreamNoImage):
		return http.StatusInternalServerError, msgNoImage
	default:
		return http.StatusInternalServerError, msgProcessFailure + err.Error()
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, domain.ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON", slog.String("error", err.Error()))
	}
}
