// Package session implements the chat session controller: the single owner of
// the message log and the staged input (draft text, voice transcript, image),
// and the only component that talks to the backend.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tiaapa/internal/domain"
	"tiaapa/internal/locale"
	"tiaapa/internal/speech"
)

var (
	// ErrBusy is returned by Submit while an earlier request is in flight.
	ErrBusy = errors.New("a request is already in flight")
	// ErrSpeechUnsupported is returned by ToggleVoice when no recognizer is available.
	ErrSpeechUnsupported = speech.ErrUnsupported
)

// Config wires a Controller to its collaborators. Bus and Archive are optional.
type Config struct {
	Backend      domain.Backend
	Recognizer   domain.SpeechRecognizer
	Bus          domain.EventBus
	Archive      domain.HistoryStore
	Catalog      *locale.Catalog
	Language     string // sent with every request, e.g. "bn"
	SpeechLocale string // e.g. "bn-BD"
	Logger       *slog.Logger
	Now          func() time.Time
}

// State is a point-in-time copy of the session for rendering.
type State struct {
	SessionID  string
	Messages   []domain.Message
	Draft      string
	Transcript string
	Recording  bool
	Loading    bool
	Image      *domain.Image
	Generation uint64
}

// Preview returns the staged image's preview reference, or "".
func (s State) Preview() string {
	if s.Image == nil {
		return ""
	}
	return s.Image.Preview
}

// Controller owns the chat session state. All methods are safe for concurrent
// use; network calls run without holding the state lock.
type Controller struct {
	backend    domain.Backend
	recognizer domain.SpeechRecognizer
	bus        domain.EventBus
	archive    domain.HistoryStore
	catalog    *locale.Catalog
	language   string
	locale     string
	logger     *slog.Logger
	now        func() time.Time

	voiceMu sync.Mutex // serializes ToggleVoice

	mu         sync.Mutex
	sessionID  string
	stored     bool // session row written to the archive
	messages   []domain.Message
	draft      string
	transcript string
	recording  bool
	loading    bool
	image      *domain.Image
	generation uint64
	captureSeq uint64
}

func New(cfg Config) *Controller {
	if cfg.Recognizer == nil {
		cfg.Recognizer = speech.Unsupported{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Catalog == nil {
		cfg.Catalog, _ = locale.Builtin("bn")
	}
	if cfg.Language == "" {
		cfg.Language = "bn"
	}
	if cfg.SpeechLocale == "" {
		cfg.SpeechLocale = "bn-BD"
	}
	return &Controller{
		backend:    cfg.Backend,
		recognizer: cfg.Recognizer,
		bus:        cfg.Bus,
		archive:    cfg.Archive,
		catalog:    cfg.Catalog,
		language:   cfg.Language,
		locale:     cfg.SpeechLocale,
		logger:     cfg.Logger,
		now:        cfg.Now,
		sessionID:  uuid.NewString(),
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := State{
		SessionID:  c.sessionID,
		Messages:   append([]domain.Message(nil), c.messages...),
		Draft:      c.draft,
		Transcript: c.transcript,
		Recording:  c.recording,
		Loading:    c.loading,
		Generation: c.generation,
	}
	if c.image != nil {
		img := *c.image
		s.Image = &img
	}
	return s
}

// SetDraft replaces the draft text, as typing in the input field does.
func (c *Controller) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()
	c.publish(stateChanged())
}

// AppendUserMessage appends text as a user message and clears the draft. It
// does nothing and returns false when the trimmed text is empty and no image
// is staged.
func (c *Controller) AppendUserMessage(text string) bool {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	if text == "" && c.image == nil {
		c.mu.Unlock()
		return false
	}
	msg, job := c.appendLocked(domain.RoleUser, domain.TextContent(text), domain.StatusDelivered)
	c.draft = ""
	c.mu.Unlock()

	c.flush(job)
	c.publish(appended(msg), stateChanged())
	return true
}

// Submit sends the staged input to the backend and blocks until the answer
// (or the fallback) is in the log. With an image staged it takes the image
// path and sends the draft as the image's prompt; otherwise the draft is
// appended as a user message right away and sent as a text query.
//
// Submit returns nil without doing anything when there is nothing to send,
// and ErrBusy while another request is in flight. Backend failures are not
// returned: they become the localized fallback message.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return ErrBusy
	}
	text := strings.TrimSpace(c.draft)
	if text == "" && c.image == nil {
		c.mu.Unlock()
		return nil
	}
	c.loading = true
	gen := c.generation

	if c.image != nil {
		req := domain.ImageRequest{Image: *c.image, Language: c.language, Prompt: c.draft}
		c.mu.Unlock()

		c.publish(stateChanged())
		c.logger.Info("submitting image", "image", req.Image.Name, "prompt_len", len(req.Prompt))
		c.submitImage(ctx, gen, req)
		return nil
	}

	// The user message is archived once it settles, with its final status.
	msg, userJob := c.appendLocked(domain.RoleUser, domain.TextContent(text), domain.StatusPending)
	idx := len(c.messages) - 1
	c.draft = ""
	c.mu.Unlock()

	c.publish(appended(msg), stateChanged())
	c.logger.Info("submitting query", "query_len", len(text))
	c.submitText(ctx, gen, idx, text, userJob)
	return nil
}

func (c *Controller) submitText(ctx context.Context, gen uint64, idx int, text string, userJob archiveJob) {
	var (
		content domain.Content
		err     error
	)
	defer func() {
		userJob.msg.Status = domain.StatusDelivered
		if err != nil || content == nil {
			c.logger.Warn("query failed", "err", err)
			content = domain.TextContent(c.catalog.QueryFallback)
			userJob.msg.Status = domain.StatusFailed
		}
		c.complete(gen, []archiveJob{userJob}, func() outcome {
			if idx < len(c.messages) {
				c.messages[idx].Status = userJob.msg.Status
			}
			msg, job := c.appendLocked(domain.RoleAssistant, content, domain.StatusDelivered)
			return outcome{events: []domain.Event{appended(msg)}, jobs: []archiveJob{job}}
		})
	}()

	content, err = c.backend.Query(ctx, domain.QueryRequest{Query: text, Language: c.language})
}

func (c *Controller) submitImage(ctx context.Context, gen uint64, req domain.ImageRequest) {
	var (
		content domain.Content
		err     error
	)
	defer func() {
		c.complete(gen, nil, func() outcome {
			if err != nil || content == nil {
				c.logger.Warn("image analysis failed", "image", req.Image.Name, "err", err)
				content = domain.TextContent(c.catalog.ImageFallback)
			}
			msg, job := c.appendLocked(domain.RoleAssistant, content, domain.StatusDelivered)
			c.image = nil
			c.draft = ""
			return outcome{events: []domain.Event{appended(msg)}, jobs: []archiveJob{job}}
		})
	}()

	content, err = c.backend.AnalyzeImage(ctx, req)
}

// outcome is what a completed request changed: events to publish and
// messages to archive once the state lock is released.
type outcome struct {
	events []domain.Event
	jobs   []archiveJob
}

// complete clears the loading flag and, when the request still belongs to
// the current generation, applies its result. Results of requests issued
// before a Reset are dropped. settled is archived either way, ahead of the
// jobs apply returns.
func (c *Controller) complete(gen uint64, settled []archiveJob, apply func() outcome) {
	c.mu.Lock()
	c.loading = false
	var out outcome
	if gen == c.generation {
		out = apply()
	} else {
		c.logger.Debug("dropping response from before reset", "request_generation", gen, "generation", c.generation)
	}
	c.mu.Unlock()

	c.flush(append(settled, out.jobs...)...)
	c.publish(append(out.events, stateChanged())...)
}

// StageImage stages img for the next submit, replacing any staged image.
func (c *Controller) StageImage(img domain.Image) {
	c.mu.Lock()
	c.image = &img
	c.mu.Unlock()
	c.logger.Debug("image staged", "image", img.Name, "bytes", len(img.Data))
	c.publish(stateChanged())
}

// ClearImage drops the staged image and its preview, leaving the draft alone.
func (c *Controller) ClearImage() {
	c.mu.Lock()
	c.image = nil
	c.mu.Unlock()
	c.publish(stateChanged())
}

// Reset empties the log, draft, transcript and staged image and starts a new
// session id. A request in flight keeps running, but its answer is dropped.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.messages = nil
	c.draft = ""
	c.transcript = ""
	c.image = nil
	c.generation++
	c.sessionID = uuid.NewString()
	c.stored = false
	recording := c.recording
	c.mu.Unlock()

	if recording {
		if err := c.recognizer.ResetTranscript(); err != nil {
			c.logger.Warn("reset transcript failed", "err", err)
			c.mu.Lock()
			c.recording = c.recognizer.Listening()
			c.mu.Unlock()
		}
	}

	c.logger.Info("session reset")
	c.publish(stateChanged())
}

// Close stops voice capture if it is running.
func (c *Controller) Close() error {
	c.voiceMu.Lock()
	defer c.voiceMu.Unlock()

	c.mu.Lock()
	recording := c.recording
	c.recording = false
	c.captureSeq++
	c.mu.Unlock()

	if !recording {
		return nil
	}
	return c.recognizer.Stop()
}

type archiveJob struct {
	sessionID string
	title     string // set when the session row still has to be created
	create    bool
	msg       domain.Message
}

// appendLocked appends a message and returns a copy of it plus the archive
// work to run once the lock is released. Callers hold c.mu.
func (c *Controller) appendLocked(role domain.Role, content domain.Content, status domain.MessageStatus) (domain.Message, archiveJob) {
	msg := domain.Message{Role: role, Content: content, Status: status, CreatedAt: c.now()}
	c.messages = append(c.messages, msg)

	job := archiveJob{sessionID: c.sessionID, msg: msg}
	if !c.stored {
		c.stored = true
		job.create = true
		job.title = generateTitle(msg.Text())
	}
	return msg, job
}

// flush writes archive jobs. Archive failures are logged and never reach the
// live session.
func (c *Controller) flush(jobs ...archiveJob) {
	if c.archive == nil {
		return
	}
	ctx := context.Background()
	for _, job := range jobs {
		if job.create {
			err := c.archive.CreateSession(ctx, domain.SessionRecord{
				ID:        job.sessionID,
				Title:     job.title,
				Language:  c.language,
				CreatedAt: job.msg.CreatedAt,
			})
			if err != nil {
				c.logger.Warn("archive session failed", "session", job.sessionID, "err", err)
			}
		}
		if err := c.archive.AddMessage(ctx, job.sessionID, job.msg); err != nil {
			c.logger.Warn("archive message failed", "session", job.sessionID, "err", err)
		}
	}
}

func (c *Controller) publish(events ...domain.Event) {
	if c.bus == nil {
		return
	}
	for _, ev := range events {
		c.bus.Publish(ev)
	}
}

func appended(msg domain.Message) domain.Event {
	return domain.Event{Type: domain.EventMessageAppended, Message: &msg}
}

func stateChanged() domain.Event {
	return domain.Event{Type: domain.EventStateChanged}
}
