// Package speech provides speech-to-text recognizers for the chat session.
package speech

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"tiaapa/internal/config"
	"tiaapa/internal/domain"
)

var (
	// ErrUnsupported is returned by recognizers that cannot capture speech.
	ErrUnsupported = errors.New("speech recognition not supported")
	// ErrAlreadyListening is returned by Start while a capture is running.
	ErrAlreadyListening = errors.New("speech recognizer already listening")
)

// Unsupported is the recognizer used when no capture backend is available.
type Unsupported struct{}

func (Unsupported) Supported() bool { return false }

func (Unsupported) Start(context.Context, string, func(string)) error { return ErrUnsupported }

func (Unsupported) Stop() error { return nil }

func (Unsupported) Listening() bool { return false }

func (Unsupported) ResetTranscript() error { return nil }

// NewFromConfig picks a recognizer for cfg: a Remote recognizer when speech is
// enabled and the capture command is installed, Unsupported otherwise.
func NewFromConfig(cfg config.SpeechConfig, transcriber domain.Transcriber, logger *slog.Logger) domain.SpeechRecognizer {
	if !cfg.Enabled {
		logger.Debug("speech disabled in config")
		return Unsupported{}
	}
	if len(cfg.CaptureCommand) == 0 {
		logger.Warn("speech enabled but no capture command configured")
		return Unsupported{}
	}
	if _, err := exec.LookPath(cfg.CaptureCommand[0]); err != nil {
		logger.Warn("speech capture command not found", "command", cfg.CaptureCommand[0], "err", err)
		return Unsupported{}
	}
	return NewRemote(RemoteConfig{
		Command:         cfg.CaptureCommand,
		Transcriber:     transcriber,
		AudioFilename:   cfg.AudioFilename,
		PartialInterval: time.Duration(cfg.PartialIntervalMs) * time.Millisecond,
		Logger:          logger,
	})
}

// LanguageOf reduces a locale such as "bn-BD" to its language tag "bn".
func LanguageOf(locale string) string {
	locale = strings.TrimSpace(locale)
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		locale = locale[:i]
	}
	return strings.ToLower(locale)
}
