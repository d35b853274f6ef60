package domain

import "context"

// SpeechRecognizer captures speech and streams transcripts.
//
// Implementations call onTranscript with the full transcript so far each time
// it changes; a later call supersedes the earlier ones.
type SpeechRecognizer interface {
	Supported() bool
	Start(ctx context.Context, locale string, onTranscript func(string)) error
	Stop() error
	Listening() bool
	// ResetTranscript discards what was heard so far; capture continues.
	ResetTranscript() error
}
