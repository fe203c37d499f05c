package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"transcription-jobs/internal/faults"
)

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.mp3")
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}

func TestAPITranscribe(t *testing.T) {
	var gotModel, gotAuth, gotFile string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotModel = r.FormValue("model")
		f, _, err := r.FormFile("file")
		if err == nil {
			data, _ := io.ReadAll(f)
			gotFile = string(data)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "  hello  "})
	}))
	defer srv.Close()

	api := NewAPI(APIOptions{URL: srv.URL, APIKey: "secret", Timeout: 2 * time.Second})
	text, err := api.Transcribe(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "hello" {
		t.Fatalf("unexpected text %q", text)
	}
	if gotModel != "whisper-1" || gotAuth != "Bearer secret" || gotFile != "audio" {
		t.Fatalf("unexpected request model=%q auth=%q file=%q", gotModel, gotAuth, gotFile)
	}
}

func TestAPIStreamsUpload(t *testing.T) {
	audio := strings.Repeat("0123456789abcdef", 64*1024)
	path := filepath.Join(t.TempDir(), "long.wav")
	if err := os.WriteFile(path, []byte(audio), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	var gotLength int64
	var gotFile, gotName string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLength = r.ContentLength
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		gotFile, gotName = string(data), hdr.Filename
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "ok"})
	}))
	defer srv.Close()

	if _, err := NewAPI(APIOptions{URL: srv.URL}).Transcribe(context.Background(), path); err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if gotLength != -1 {
		t.Fatalf("expected a streamed body of unknown length, got %d", gotLength)
	}
	if gotName != "long.wav" || gotFile != audio {
		t.Fatalf("upload corrupted: name=%q len=%d", gotName, len(gotFile))
	}
}

func TestAPITranscribeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid file format."}}`))
	}))
	defer srv.Close()

	_, err := NewAPI(APIOptions{URL: srv.URL}).Transcribe(context.Background(), writeAudio(t))
	if !faults.Is(err, faults.KindTranscription) {
		t.Fatalf("expected transcription fault, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid file format.") {
		t.Fatalf("expected api message, got %q", err.Error())
	}
}

func TestAPIMissingFile(t *testing.T) {
	_, err := NewAPI(APIOptions{URL: "http://127.0.0.1:1"}).Transcribe(context.Background(), filepath.Join(t.TempDir(), "nope.mp3"))
	if !faults.Is(err, faults.KindTranscription) {
		t.Fatalf("expected transcription fault, got %v", err)
	}
}

type fakeRunner struct {
	run func(ctx context.Context, name string, args ...string) (string, string, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	return f.run(ctx, name, args...)
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func TestWhisperTranscribe(t *testing.T) {
	audio := writeAudio(t)
	w := NewWhisper("whisper-custom", "base", "en")
	w.runner = &fakeRunner{run: func(_ context.Context, name string, args ...string) (string, string, error) {
		if name != "whisper-custom" {
			t.Fatalf("command = %q", name)
		}
		if argValue(args, "--model") != "base" || argValue(args, "--language") != "en" {
			t.Fatalf("unexpected args %v", args)
		}
		out := filepath.Join(argValue(args, "--output_dir"), "source.json")
		if err := os.WriteFile(out, []byte(`{"text":" hello world ","language":"en"}`), 0o644); err != nil {
			t.Fatalf("write output: %v", err)
		}
		return "", "", nil
	}}

	text, err := w.Transcribe(context.Background(), audio)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestWhisperFailure(t *testing.T) {
	w := NewWhisper("", "", "auto")
	w.runner = &fakeRunner{run: func(_ context.Context, _ string, args ...string) (string, string, error) {
		if argValue(args, "--language") != "" {
			t.Fatalf("auto language must not be passed, args=%v", args)
		}
		return "", "RuntimeError: model not found", errors.New("exit status 1")
	}}

	_, err := w.Transcribe(context.Background(), writeAudio(t))
	if !faults.Is(err, faults.KindTranscription) {
		t.Fatalf("expected transcription fault, got %v", err)
	}
	if !strings.Contains(err.Error(), "exit status 1") {
		t.Fatalf("expected runner error in message, got %q", err.Error())
	}
}
