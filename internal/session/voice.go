package session

import (
	"context"
	"fmt"

	"tiaapa/internal/domain"
)

// ToggleVoice starts or stops voice capture. Without a supported recognizer
// it publishes the localized warning and returns ErrSpeechUnsupported.
// While capturing, every transcript replaces the draft.
func (c *Controller) ToggleVoice(ctx context.Context) error {
	c.voiceMu.Lock()
	defer c.voiceMu.Unlock()

	if !c.recognizer.Supported() {
		c.logger.Info("voice input requested but not supported")
		c.publish(domain.Event{Type: domain.EventWarning, Warning: c.catalog.VoiceUnsupported})
		return ErrSpeechUnsupported
	}

	c.mu.Lock()
	recording := c.recording
	c.mu.Unlock()

	if recording {
		// Stop may deliver the final transcript through the callback, so the
		// flag is cleared only afterwards.
		err := c.recognizer.Stop()
		c.mu.Lock()
		c.recording = false
		c.mu.Unlock()
		c.publish(stateChanged())
		if err != nil {
			c.logger.Warn("voice capture stopped with error", "err", err)
			return fmt.Errorf("stop voice capture: %w", err)
		}
		c.logger.Info("voice capture stopped")
		return nil
	}

	c.mu.Lock()
	c.transcript = ""
	c.captureSeq++
	seq := c.captureSeq
	c.mu.Unlock()

	if err := c.recognizer.Start(ctx, c.locale, func(text string) { c.applyTranscript(seq, text) }); err != nil {
		c.logger.Warn("voice capture failed to start", "err", err)
		return fmt.Errorf("start voice capture: %w", err)
	}

	c.mu.Lock()
	c.recording = true
	c.mu.Unlock()
	c.logger.Info("voice capture started", "locale", c.locale)
	c.publish(stateChanged())
	return nil
}

// applyTranscript copies a transcript into the draft. Transcripts from an
// earlier capture are ignored.
func (c *Controller) applyTranscript(seq uint64, text string) {
	c.mu.Lock()
	if seq != c.captureSeq {
		c.mu.Unlock()
		return
	}
	c.transcript = text
	if text != "" {
		c.draft = text
	}
	c.mu.Unlock()
	c.publish(stateChanged())
}
