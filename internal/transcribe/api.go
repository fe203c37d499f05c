// Package transcribe converts local audio files to text.
package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"transcription-jobs/internal/faults"
)

// Transcriber turns the audio file at localPath into text.
type Transcriber interface {
	Transcribe(ctx context.Context, localPath string) (string, error)
}

// APIOptions configures an OpenAI-compatible transcription endpoint.
type APIOptions struct {
	URL      string
	APIKey   string
	Model    string
	Language string
	Timeout  time.Duration
}

// API posts audio to an OpenAI-compatible /audio/transcriptions endpoint.
type API struct {
	opts   APIOptions
	client *http.Client
}

type apiResponse struct {
	Text  string `json:"text"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewAPI builds a client. The model defaults to whisper-1.
func NewAPI(opts APIOptions) *API {
	if opts.Model == "" {
		opts.Model = "whisper-1"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Minute
	}
	return &API{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
	}
}

// Transcribe uploads the file as multipart form data and returns the text.
func (a *API) Transcribe(ctx context.Context, localPath string) (string, error) {
	if strings.TrimSpace(a.opts.URL) == "" {
		return "", faults.New(faults.KindTranscription, "transcribe", "transcription api url is not configured")
	}

	in, err := os.Open(localPath)
	if err != nil {
		return "", faults.Wrap(faults.KindTranscription, "open audio", err)
	}

	// The form is streamed from disk; the writer goroutine owns the file.
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	contentType := form.FormDataContentType()
	go func() {
		defer in.Close()
		pw.CloseWithError(a.writeForm(form, in, filepath.Base(localPath)))
	}()
	defer pr.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.opts.URL, pr)
	if err != nil {
		return "", faults.Wrap(faults.KindTranscription, "build request", err)
	}
	req.Header.Set("Content-Type", contentType)
	if a.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.opts.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", faults.Wrap(faults.KindTranscription, "call transcription api", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16*1024*1024))
	if err != nil {
		return "", faults.Wrap(faults.KindTranscription, "read response", err)
	}

	var parsed apiResponse
	jsonErr := json.Unmarshal(raw, &parsed)
	if resp.StatusCode >= http.StatusBadRequest {
		if jsonErr == nil && parsed.Error != nil && parsed.Error.Message != "" {
			return "", faults.Newf(faults.KindTranscription, "transcription api", "status %d: %s", resp.StatusCode, parsed.Error.Message)
		}
		return "", faults.Newf(faults.KindTranscription, "transcription api", "status %d", resp.StatusCode)
	}
	if jsonErr != nil {
		return "", faults.Wrap(faults.KindTranscription, "decode response", jsonErr)
	}
	return strings.TrimSpace(parsed.Text), nil
}

func (a *API) writeForm(w *multipart.Writer, audio io.Reader, filename string) error {
	fields := map[string]string{
		"model":           a.opts.Model,
		"response_format": "json",
	}
	if a.opts.Language != "" {
		fields["language"] = a.opts.Language
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return fmt.Errorf("copy audio: %w", err)
	}
	return w.Close()
}
