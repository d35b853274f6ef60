package speech

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"tiaapa/internal/domain"
)

const (
	defaultAudioFilename   = "speech.wav"
	finalTranscribeTimeout = 2 * time.Minute
	captureWaitDelay       = 2 * time.Second
)

// RemoteConfig configures a Remote recognizer.
type RemoteConfig struct {
	Command         []string // argv of a recorder writing audio to stdout
	Transcriber     domain.Transcriber
	AudioFilename   string
	PartialInterval time.Duration // 0 = transcribe only on Stop
	Logger          *slog.Logger
}

// Remote records audio with an external command and transcribes it through
// the backend. While listening it re-transcribes everything captured so far
// every PartialInterval, so each transcript supersedes the previous one.
type Remote struct {
	command     []string
	transcriber domain.Transcriber
	filename    string
	interval    time.Duration
	logger      *slog.Logger

	opMu sync.Mutex // serializes Start/Stop/ResetTranscript

	mu           sync.Mutex
	cur          *capture
	ctx          context.Context
	language     string
	onTranscript func(string)
}

type capture struct {
	audio    *audioBuffer
	cancel   context.CancelFunc
	exited   chan struct{}
	loopDone chan struct{}
}

func NewRemote(cfg RemoteConfig) *Remote {
	if cfg.AudioFilename == "" {
		cfg.AudioFilename = defaultAudioFilename
	}
	return &Remote{
		command:     cfg.Command,
		transcriber: cfg.Transcriber,
		filename:    cfg.AudioFilename,
		interval:    cfg.PartialInterval,
		logger:      cfg.Logger,
	}
}

func (r *Remote) Supported() bool { return true }

func (r *Remote) Listening() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur != nil
}

// Start begins continuous capture. ctx bounds the capture process and its
// partial transcriptions.
func (r *Remote) Start(ctx context.Context, locale string, onTranscript func(string)) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if r.Listening() {
		return ErrAlreadyListening
	}

	language := LanguageOf(locale)
	r.mu.Lock()
	r.ctx = ctx
	r.language = language
	r.onTranscript = onTranscript
	r.mu.Unlock()

	c, err := r.startCapture(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.cur = c
	r.mu.Unlock()

	r.logger.Info("speech capture started", "command", r.command[0], "language", language)
	return nil
}

// Stop ends capture and delivers the transcript of the whole recording.
func (r *Remote) Stop() error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	c := r.cur
	r.cur = nil
	language := r.language
	onTranscript := r.onTranscript
	r.mu.Unlock()

	if c == nil {
		return nil
	}
	c.halt()

	data := c.audio.Bytes()
	r.logger.Info("speech capture stopped", "bytes", len(data))
	if len(data) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), finalTranscribeTimeout)
	defer cancel()
	text, err := r.transcriber.Transcribe(ctx, bytes.NewReader(data), r.filename, language)
	if err != nil {
		return fmt.Errorf("final transcription: %w", err)
	}
	if text != "" && onTranscript != nil {
		onTranscript(text)
	}
	return nil
}

// ResetTranscript restarts the recorder so later transcripts only cover
// speech captured from now on. A restart keeps the audio container header
// intact, truncating the stream would not.
func (r *Remote) ResetTranscript() error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	c := r.cur
	ctx := r.ctx
	r.mu.Unlock()
	if c == nil {
		return nil
	}

	c.halt()
	next, err := r.startCapture(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.cur = nil
		return fmt.Errorf("restart capture: %w", err)
	}
	r.cur = next
	r.logger.Debug("speech transcript reset")
	return nil
}

func (r *Remote) startCapture(ctx context.Context) (*capture, error) {
	capCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(capCtx, r.command[0], r.command[1:]...)
	audio := &audioBuffer{}
	cmd.Stdout = audio
	// Interrupt first so recorders can flush, kill after WaitDelay.
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = captureWaitDelay

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start capture command: %w", err)
	}

	c := &capture{
		audio:    audio,
		cancel:   cancel,
		exited:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	go func() {
		defer close(c.exited)
		if err := cmd.Wait(); err != nil && capCtx.Err() == nil {
			r.logger.Warn("speech capture command exited", "err", err)
		}
	}()

	if r.interval > 0 {
		go r.partialLoop(capCtx, c)
	} else {
		close(c.loopDone)
	}
	return c, nil
}

func (r *Remote) partialLoop(ctx context.Context, c *capture) {
	defer close(c.loopDone)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	lastLen := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		data := c.audio.Bytes()
		if len(data) == 0 || len(data) == lastLen {
			continue
		}
		lastLen = len(data)

		r.mu.Lock()
		language := r.language
		r.mu.Unlock()

		text, err := r.transcriber.Transcribe(ctx, bytes.NewReader(data), r.filename, language)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("partial transcription failed", "err", err)
			continue
		}
		r.deliver(c, text)
	}
}

// deliver hands a partial transcript to the callback unless c has been
// stopped or replaced in the meantime.
func (r *Remote) deliver(c *capture, text string) {
	r.mu.Lock()
	current := r.cur == c
	onTranscript := r.onTranscript
	r.mu.Unlock()

	if !current || text == "" || onTranscript == nil {
		return
	}
	onTranscript(text)
}

func (c *capture) halt() {
	c.cancel()
	<-c.exited
	<-c.loopDone
}

// audioBuffer is a bytes.Buffer safe for the recorder's writes and the
// transcriber's concurrent reads.
type audioBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *audioBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *audioBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}
