package notes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/teslashibe/voicenote/internal/httpc"
	"github.com/teslashibe/voicenote/pkg/voice"
)

// TokenHeader carries the anonymous token on REST calls.
const TokenHeader = "anonymous-token"

const (
	uploadPath    = "/upload-v3"
	uploadField   = "file"
	uploadTimeout = 5 * time.Minute

	defaultUploadMessage = "Failed to upload recording"
	uploadedMessage      = "Recording uploaded successfully"
)

// UploadResponse is the result of an upload.
type UploadResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// UploadError is a failed upload. Message prefers the server's message.
type UploadError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *UploadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upload failed (%d): %s", e.StatusCode, e.Message)
	}
	return "upload failed: " + e.Message
}

func (e *UploadError) Unwrap() error { return e.Err }

// Uploader sends recordings to the note service.
type Uploader struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

// NewUploader creates an uploader for baseURL. Every request carries the
// token from tokens.
func NewUploader(baseURL string, tokens voice.TokenSource, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpc.WithHeader(httpc.NewClient(uploadTimeout), TokenHeader, tokens.GetOrCreateToken),
		logger:  logger.With("component", "upload"),
		now:     time.Now,
	}
}

// DefaultFilename names a recording uploaded without a name.
func (u *Uploader) DefaultFilename() string {
	return fmt.Sprintf("recording_%d.webm", u.now().UnixMilli())
}

// UploadFile uploads the file at path under its base name.
func (u *Uploader) UploadFile(ctx context.Context, path string) (UploadResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return UploadResponse{}, &UploadError{Message: err.Error(), Err: err}
	}
	defer f.Close()
	return u.Upload(ctx, f, filepath.Base(path))
}

// Upload streams r as a multipart file. An empty filename gets
// DefaultFilename.
func (u *Uploader) Upload(ctx context.Context, r io.Reader, filename string) (UploadResponse, error) {
	if filename == "" {
		filename = u.DefaultFilename()
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile(uploadField, filename)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+uploadPath, pr)
	if err != nil {
		pr.Close()
		return UploadResponse{}, &UploadError{Message: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := u.client.Do(req)
	if err != nil {
		pr.Close()
		return UploadResponse{}, &UploadError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return UploadResponse{}, &UploadError{StatusCode: resp.StatusCode, Message: err.Error(), Err: err}
	}

	var out UploadResponse
	decodeErr := json.Unmarshal(body, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := out.Message
		if decodeErr != nil || msg == "" {
			msg = defaultUploadMessage
		}
		u.logger.Warn("upload rejected", "file", filename, "status", resp.StatusCode, "message", msg)
		return UploadResponse{Message: msg}, &UploadError{StatusCode: resp.StatusCode, Message: msg}
	}

	out = UploadResponse{Success: true, Message: uploadedMessage}
	if json.Valid(body) {
		out.Data = json.RawMessage(body)
	}

	u.logger.Info("recording uploaded", "file", filename, "elapsed", time.Since(start))
	return out, nil
}
