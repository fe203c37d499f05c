package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"transcription-jobs/internal/faults"
)

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// whisperOutput matches the JSON written by `whisper --output_format json`.
type whisperOutput struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Whisper runs the openai-whisper CLI locally.
type Whisper struct {
	command  string
	model    string
	language string
	runner   commandRunner
}

// NewWhisper builds a local transcriber. Empty language lets whisper detect it.
func NewWhisper(command, model, language string) *Whisper {
	if command == "" {
		command = "whisper"
	}
	if model == "" {
		model = "small"
	}
	return &Whisper{command: command, model: model, language: language, runner: execRunner{}}
}

// Transcribe writes whisper's JSON next to the audio file and reads the text.
func (w *Whisper) Transcribe(ctx context.Context, localPath string) (string, error) {
	outDir := filepath.Join(filepath.Dir(localPath), "whisper")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", faults.Wrap(faults.KindTranscription, "prepare whisper output", err)
	}

	args := []string{
		localPath,
		"--model", w.model,
		"--output_dir", outDir,
		"--output_format", "json",
		"--fp16", "False",
	}
	if lang := strings.TrimSpace(w.language); lang != "" && !strings.EqualFold(lang, "auto") {
		args = append(args, "--language", lang)
	}

	_, stderr, err := w.runner.Run(ctx, w.command, args...)
	if err != nil {
		msg := strings.TrimSpace(stderr)
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", faults.Newf(faults.KindTranscription, "whisper", "exit %d: %s", exitErr.ExitCode(), msg)
		}
		return "", faults.Wrap(faults.KindTranscription, "whisper", err)
	}

	base := strings.TrimSuffix(filepath.Base(localPath), filepath.Ext(localPath))
	raw, err := os.ReadFile(filepath.Join(outDir, base+".json"))
	if err != nil {
		return "", faults.Wrap(faults.KindTranscription, "read whisper output", err)
	}
	var out whisperOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", faults.Wrap(faults.KindTranscription, "parse whisper output", err)
	}
	return strings.TrimSpace(out.Text), nil
}
