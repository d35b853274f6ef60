package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"tiaapa/internal/bus"
	"tiaapa/internal/domain"
	"tiaapa/internal/history"
	"tiaapa/internal/locale"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- fakes ---

type fakeBackend struct {
	mu      sync.Mutex
	queries []domain.QueryRequest
	images  []domain.ImageRequest
	content domain.Content
	err     error

	// When gate is set, calls signal entered and block until gate is closed.
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeBackend) wait(ctx context.Context) {
	if f.gate == nil {
		return
	}
	f.entered <- struct{}{}
	select {
	case <-f.gate:
	case <-ctx.Done():
	}
}

func (f *fakeBackend) Query(ctx context.Context, req domain.QueryRequest) (domain.Content, error) {
	f.mu.Lock()
	f.queries = append(f.queries, req)
	f.mu.Unlock()
	f.wait(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content, f.err
}

func (f *fakeBackend) AnalyzeImage(ctx context.Context, req domain.ImageRequest) (domain.Content, error) {
	f.mu.Lock()
	f.images = append(f.images, req)
	f.mu.Unlock()
	f.wait(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content, f.err
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries) + len(f.images)
}

func gatedBackend(content domain.Content) *fakeBackend {
	return &fakeBackend{
		content: content,
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
}

type fakeRecognizer struct {
	mu         sync.Mutex
	listening  bool
	locale     string
	callback   func(string)
	finalText  string
	resets     int
	startErr   error
	resetErr   error
	startCalls int
}

func (f *fakeRecognizer) Supported() bool { return true }

func (f *fakeRecognizer) Start(ctx context.Context, locale string, onTranscript func(string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.startErr != nil {
		return f.startErr
	}
	f.listening = true
	f.locale = locale
	f.callback = onTranscript
	return nil
}

func (f *fakeRecognizer) Stop() error {
	f.mu.Lock()
	cb, text := f.callback, f.finalText
	f.listening = false
	f.callback = nil
	f.mu.Unlock()
	if cb != nil && text != "" {
		cb(text)
	}
	return nil
}

func (f *fakeRecognizer) Listening() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listening
}

func (f *fakeRecognizer) ResetTranscript() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	if f.resetErr != nil {
		f.listening = false
		return f.resetErr
	}
	return nil
}

// say delivers a transcript through the callback of the current capture.
func (f *fakeRecognizer) say(text string) {
	f.mu.Lock()
	cb := f.callback
	f.mu.Unlock()
	if cb != nil {
		cb(text)
	}
}

type fakeArchive struct {
	mu       sync.Mutex
	sessions []domain.SessionRecord
	messages map[string][]domain.Message
	failAdd  bool
}

func (f *fakeArchive) CreateSession(ctx context.Context, sess domain.SessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, sess)
	return nil
}

func (f *fakeArchive) ListSessions(ctx context.Context, limit int) ([]domain.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SessionRecord(nil), f.sessions...), nil
}

func (f *fakeArchive) AddMessage(ctx context.Context, sessionID string, msg domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAdd {
		return errors.New("disk full")
	}
	if f.messages == nil {
		f.messages = make(map[string][]domain.Message)
	}
	f.messages[sessionID] = append(f.messages[sessionID], msg)
	return nil
}

func (f *fakeArchive) GetMessages(ctx context.Context, sessionID string) ([]domain.MessageRecord, error) {
	return nil, nil
}

func (f *fakeArchive) Close() error { return nil }

// --- helpers ---

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bangla(t *testing.T) *locale.Catalog {
	t.Helper()
	c, err := locale.Builtin("bn")
	require.NoError(t, err)
	return c
}

func newController(t *testing.T, be domain.Backend, opts ...func(*Config)) *Controller {
	t.Helper()
	cfg := Config{
		Backend:  be,
		Catalog:  bangla(t),
		Language: "bn",
		Logger:   quietLogger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	c := New(cfg)
	t.Cleanup(func() { c.Close() })
	return c
}

// submitAsync runs Submit in the background and returns a channel with its result.
func submitAsync(c *Controller) <-chan error {
	done := make(chan error, 1)
	go func() { done <- c.Submit(context.Background()) }()
	return done
}

func waitEntered(t *testing.T, be *fakeBackend) {
	t.Helper()
	select {
	case <-be.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("backend was never called")
	}
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("submit did not return")
		return nil
	}
}

func leafImage() domain.Image {
	return domain.Image{
		Name:        "leaf.jpg",
		ContentType: "image/jpeg",
		Data:        []byte{0xff, 0xd8, 0xff},
		Preview:     "file:///tmp/leaf.jpg",
	}
}

// --- submit: empty input ---

func TestSubmit_EmptyDraftNoImageIsNoop(t *testing.T) {
	be := &fakeBackend{}
	c := newController(t, be)

	c.SetDraft("   \n\t")
	require.NoError(t, c.Submit(context.Background()))

	s := c.Snapshot()
	assert.Empty(t, s.Messages)
	assert.False(t, s.Loading)
	assert.Zero(t, be.calls())
}

// --- submit: text path ---

func TestSubmit_TextAppendsUserMessageBeforeResponse(t *testing.T) {
	be := gatedBackend(domain.TextContent("ইউরিয়া সার দিন"))
	c := newController(t, be)

	c.SetDraft("  ধানের পাতা হলুদ  ")
	done := submitAsync(c)
	waitEntered(t, be)

	s := c.Snapshot()
	require.Len(t, s.Messages, 1)
	assert.Equal(t, domain.RoleUser, s.Messages[0].Role)
	assert.Equal(t, "ধানের পাতা হলুদ", s.Messages[0].Text())
	assert.Equal(t, domain.StatusPending, s.Messages[0].Status)
	assert.Empty(t, s.Draft)
	assert.True(t, s.Loading)

	close(be.gate)
	require.NoError(t, waitDone(t, done))

	s = c.Snapshot()
	require.Len(t, s.Messages, 2)
	assert.Equal(t, domain.StatusDelivered, s.Messages[0].Status)
	assert.Equal(t, domain.RoleAssistant, s.Messages[1].Role)
	assert.Equal(t, "ইউরিয়া সার দিন", s.Messages[1].Text())
	assert.False(t, s.Loading)

	require.Len(t, be.queries, 1)
	assert.Equal(t, domain.QueryRequest{Query: "ধানের পাতা হলুদ", Language: "bn"}, be.queries[0])
}

func TestSubmit_TextFailureAppendsFallback(t *testing.T) {
	be := &fakeBackend{err: errors.New("connection refused")}
	c := newController(t, be)

	c.SetDraft("পোকা")
	require.NoError(t, c.Submit(context.Background()))

	s := c.Snapshot()
	require.Len(t, s.Messages, 2)
	assert.Equal(t, domain.StatusFailed, s.Messages[0].Status)
	assert.Equal(t, domain.RoleAssistant, s.Messages[1].Role)
	assert.Equal(t, bangla(t).QueryFallback, s.Messages[1].Text())
	assert.False(t, s.Loading)
}

func TestSubmit_StructuredAnswerIsKept(t *testing.T) {
	answer := domain.StructuredContent{
		{Key: "Crop", Value: "Rice"},
		{Key: "Treatment", Value: "Tricyclazole"},
	}
	be := &fakeBackend{content: answer}
	c := newController(t, be)

	c.SetDraft("blast")
	require.NoError(t, c.Submit(context.Background()))

	s := c.Snapshot()
	require.Len(t, s.Messages, 2)
	assert.Equal(t, domain.ContentStructured, s.Messages[1].Content.Kind())
	assert.Equal(t, answer, s.Messages[1].Content)
}

func TestSubmit_WhileLoadingReturnsErrBusy(t *testing.T) {
	be := gatedBackend(domain.TextContent("ok"))
	c := newController(t, be)

	c.SetDraft("first")
	done := submitAsync(c)
	waitEntered(t, be)

	c.SetDraft("second")
	assert.ErrorIs(t, c.Submit(context.Background()), ErrBusy)
	assert.Equal(t, "second", c.Snapshot().Draft, "a rejected submit leaves the draft alone")

	close(be.gate)
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, 1, be.calls())
	assert.Len(t, c.Snapshot().Messages, 2)
}

// --- submit: image path ---

func TestSubmit_ImageSuccessClearsStagedInput(t *testing.T) {
	be := &fakeBackend{content: domain.TextContent("পাতা ঝলসানো রোগ")}
	c := newController(t, be)

	c.StageImage(leafImage())
	c.SetDraft("এটা কী রোগ?")
	require.NoError(t, c.Submit(context.Background()))

	s := c.Snapshot()
	require.Len(t, s.Messages, 1, "the image path appends no user message")
	assert.Equal(t, domain.RoleAssistant, s.Messages[0].Role)
	assert.Equal(t, "পাতা ঝলসানো রোগ", s.Messages[0].Text())
	assert.Nil(t, s.Image)
	assert.Empty(t, s.Preview())
	assert.Empty(t, s.Draft)

	require.Len(t, be.images, 1)
	assert.Equal(t, "এটা কী রোগ?", be.images[0].Prompt)
	assert.Equal(t, "bn", be.images[0].Language)
	assert.Equal(t, "leaf.jpg", be.images[0].Image.Name)
	assert.Empty(t, be.queries)
}

func TestSubmit_ImageWithoutDraft(t *testing.T) {
	be := &fakeBackend{content: domain.TextContent("healthy")}
	c := newController(t, be)

	c.StageImage(leafImage())
	require.NoError(t, c.Submit(context.Background()))

	require.Len(t, be.images, 1)
	assert.Empty(t, be.images[0].Prompt)
	assert.Len(t, c.Snapshot().Messages, 1)
}

func TestSubmit_ImageFailureAppendsFallback(t *testing.T) {
	be := &fakeBackend{err: errors.New("500 Internal Server Error")}
	c := newController(t, be)

	c.StageImage(leafImage())
	c.SetDraft("help")
	require.NoError(t, c.Submit(context.Background()))

	s := c.Snapshot()
	require.Len(t, s.Messages, 1)
	assert.Equal(t, bangla(t).ImageFallback, s.Messages[0].Text())
	assert.Nil(t, s.Image)
	assert.Empty(t, s.Draft)
	assert.False(t, s.Loading)
}

func TestSubmit_ImageStagedStateVisibleWhileLoading(t *testing.T) {
	be := gatedBackend(domain.TextContent("ok"))
	c := newController(t, be)

	c.StageImage(leafImage())
	done := submitAsync(c)
	waitEntered(t, be)

	s := c.Snapshot()
	assert.True(t, s.Loading)
	assert.Equal(t, "file:///tmp/leaf.jpg", s.Preview())

	close(be.gate)
	require.NoError(t, waitDone(t, done))
	assert.Nil(t, c.Snapshot().Image)
}

func TestClearImage_KeepsDraft(t *testing.T) {
	c := newController(t, &fakeBackend{})
	c.StageImage(leafImage())
	c.SetDraft("note")

	c.ClearImage()

	s := c.Snapshot()
	assert.Nil(t, s.Image)
	assert.Empty(t, s.Preview())
	assert.Equal(t, "note", s.Draft)
}

func TestStageImage_ReplacesPrevious(t *testing.T) {
	c := newController(t, &fakeBackend{})
	c.StageImage(leafImage())
	c.StageImage(domain.Image{Name: "root.png", Preview: "file:///tmp/root.png"})

	assert.Equal(t, "root.png", c.Snapshot().Image.Name)
}

// --- AppendUserMessage ---

func TestAppendUserMessage(t *testing.T) {
	c := newController(t, &fakeBackend{})

	assert.False(t, c.AppendUserMessage("   "))
	assert.Empty(t, c.Snapshot().Messages)

	c.SetDraft("draft")
	assert.True(t, c.AppendUserMessage("  hello  "))
	s := c.Snapshot()
	require.Len(t, s.Messages, 1)
	assert.Equal(t, "hello", s.Messages[0].Text())
	assert.Equal(t, domain.StatusDelivered, s.Messages[0].Status)
	assert.Empty(t, s.Draft)
}

func TestAppendUserMessage_EmptyTextWithImage(t *testing.T) {
	c := newController(t, &fakeBackend{})
	c.StageImage(leafImage())

	assert.True(t, c.AppendUserMessage(""))
	assert.Len(t, c.Snapshot().Messages, 1)
}

// --- Reset ---

func TestReset_ClearsEverything(t *testing.T) {
	be := &fakeBackend{content: domain.TextContent("answer")}
	c := newController(t, be)

	c.SetDraft("question")
	require.NoError(t, c.Submit(context.Background()))
	c.StageImage(leafImage())
	c.SetDraft("pending text")
	before := c.Snapshot()

	c.Reset()

	s := c.Snapshot()
	assert.Empty(t, s.Messages)
	assert.Empty(t, s.Draft)
	assert.Empty(t, s.Transcript)
	assert.Nil(t, s.Image)
	assert.Empty(t, s.Preview())
	assert.NotEqual(t, before.SessionID, s.SessionID)
	assert.Greater(t, s.Generation, before.Generation)
}

func TestReset_Idempotent(t *testing.T) {
	c := newController(t, &fakeBackend{})
	c.SetDraft("x")
	c.StageImage(leafImage())

	c.Reset()
	once := c.Snapshot()
	c.Reset()
	twice := c.Snapshot()

	assert.Equal(t, once.Messages, twice.Messages)
	assert.Equal(t, once.Draft, twice.Draft)
	assert.Equal(t, once.Transcript, twice.Transcript)
	assert.Equal(t, once.Image, twice.Image)
	assert.Equal(t, once.Recording, twice.Recording)
	assert.Equal(t, once.Loading, twice.Loading)
}

func TestReset_DropsStaleResponse(t *testing.T) {
	be := gatedBackend(domain.TextContent("late answer"))
	c := newController(t, be)

	c.SetDraft("old question")
	done := submitAsync(c)
	waitEntered(t, be)

	c.Reset()
	c.SetDraft("new draft")

	close(be.gate)
	require.NoError(t, waitDone(t, done))

	s := c.Snapshot()
	assert.Empty(t, s.Messages, "an answer from before the reset must not land in the new log")
	assert.Equal(t, "new draft", s.Draft)
	assert.False(t, s.Loading)
}

func TestReset_DropsStaleImageResponse(t *testing.T) {
	be := gatedBackend(domain.TextContent("late analysis"))
	c := newController(t, be)

	c.StageImage(leafImage())
	done := submitAsync(c)
	waitEntered(t, be)

	c.Reset()
	c.StageImage(domain.Image{Name: "second.png"})

	close(be.gate)
	require.NoError(t, waitDone(t, done))

	s := c.Snapshot()
	assert.Empty(t, s.Messages)
	require.NotNil(t, s.Image, "the image staged after the reset survives")
	assert.Equal(t, "second.png", s.Image.Name)
}

// --- voice ---

func TestToggleVoice_Unsupported(t *testing.T) {
	b := bus.New(quietLogger())
	defer b.Close()
	var warnings []string
	b.Subscribe("test", func(ev domain.Event) {
		if ev.Type == domain.EventWarning {
			warnings = append(warnings, ev.Warning)
		}
	})

	c := newController(t, &fakeBackend{}, func(cfg *Config) { cfg.Bus = b })
	c.AppendUserMessage("hello")

	err := c.ToggleVoice(context.Background())
	assert.ErrorIs(t, err, ErrSpeechUnsupported)

	s := c.Snapshot()
	assert.False(t, s.Recording)
	assert.Len(t, s.Messages, 1, "log unchanged")
	assert.Equal(t, []string{bangla(t).VoiceUnsupported}, warnings)
}

func TestToggleVoice_TranscriptReplacesDraft(t *testing.T) {
	rec := &fakeRecognizer{}
	c := newController(t, &fakeBackend{}, func(cfg *Config) {
		cfg.Recognizer = rec
		cfg.SpeechLocale = "bn-BD"
	})
	c.SetDraft("typed")

	require.NoError(t, c.ToggleVoice(context.Background()))
	assert.True(t, c.Snapshot().Recording)
	assert.Equal(t, "bn-BD", rec.locale)

	rec.say("আমার ধান")
	s := c.Snapshot()
	assert.Equal(t, "আমার ধান", s.Transcript)
	assert.Equal(t, "আমার ধান", s.Draft)

	rec.say("")
	assert.Equal(t, "আমার ধান", c.Snapshot().Draft, "an empty transcript keeps the draft")

	rec.finalText = "আমার ধান গাছে পোকা"
	require.NoError(t, c.ToggleVoice(context.Background()))
	s = c.Snapshot()
	assert.False(t, s.Recording)
	assert.Equal(t, "আমার ধান গাছে পোকা", s.Draft)
}

func TestToggleVoice_StartError(t *testing.T) {
	rec := &fakeRecognizer{startErr: errors.New("no microphone")}
	c := newController(t, &fakeBackend{}, func(cfg *Config) { cfg.Recognizer = rec })

	err := c.ToggleVoice(context.Background())
	require.Error(t, err)
	assert.False(t, c.Snapshot().Recording)
}

func TestToggleVoice_ResetWhileRecording(t *testing.T) {
	rec := &fakeRecognizer{}
	c := newController(t, &fakeBackend{}, func(cfg *Config) { cfg.Recognizer = rec })

	require.NoError(t, c.ToggleVoice(context.Background()))
	rec.say("old words")

	c.Reset()

	s := c.Snapshot()
	assert.True(t, s.Recording, "capture keeps running across a reset")
	assert.Empty(t, s.Transcript)
	assert.Empty(t, s.Draft)
	assert.Equal(t, 1, rec.resets)
}

func TestToggleVoice_ResetFailureStopsRecording(t *testing.T) {
	rec := &fakeRecognizer{resetErr: errors.New("recorder died")}
	c := newController(t, &fakeBackend{}, func(cfg *Config) { cfg.Recognizer = rec })

	require.NoError(t, c.ToggleVoice(context.Background()))
	c.Reset()

	assert.False(t, c.Snapshot().Recording)
}

func TestToggleVoice_OldCaptureIgnoredAfterRestart(t *testing.T) {
	rec := &fakeRecognizer{}
	c := newController(t, &fakeBackend{}, func(cfg *Config) { cfg.Recognizer = rec })

	require.NoError(t, c.ToggleVoice(context.Background()))
	first := rec.callback
	require.NoError(t, c.ToggleVoice(context.Background()))
	require.NoError(t, c.ToggleVoice(context.Background()))

	first("stale")
	assert.Empty(t, c.Snapshot().Draft)
}

// --- events ---

func TestEvents_PublishedInOrder(t *testing.T) {
	b := bus.New(quietLogger())
	defer b.Close()

	var mu sync.Mutex
	var appendedRoles []domain.Role
	b.Subscribe("test", func(ev domain.Event) {
		if ev.Type != domain.EventMessageAppended {
			return
		}
		mu.Lock()
		appendedRoles = append(appendedRoles, ev.Message.Role)
		mu.Unlock()
	})

	c := newController(t, &fakeBackend{content: domain.TextContent("ok")}, func(cfg *Config) { cfg.Bus = b })
	c.SetDraft("q")
	require.NoError(t, c.Submit(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.Role{domain.RoleUser, domain.RoleAssistant}, appendedRoles)
}

// --- archive ---

func TestArchive_RecordsSessionAndMessages(t *testing.T) {
	arch := &fakeArchive{}
	c := newController(t, &fakeBackend{content: domain.TextContent("answer")}, func(cfg *Config) { cfg.Archive = arch })

	c.SetDraft("ধানের রোগ\nদ্বিতীয় লাইন")
	require.NoError(t, c.Submit(context.Background()))
	id := c.Snapshot().SessionID

	require.Len(t, arch.sessions, 1)
	assert.Equal(t, id, arch.sessions[0].ID)
	assert.Equal(t, "ধানের রোগ", arch.sessions[0].Title)
	assert.Equal(t, "bn", arch.sessions[0].Language)
	require.Len(t, arch.messages[id], 2)
	assert.Equal(t, domain.RoleAssistant, arch.messages[id][1].Role)

	c.Reset()
	c.SetDraft("again")
	require.NoError(t, c.Submit(context.Background()))
	assert.Len(t, arch.sessions, 2, "a reset starts a new archived session")
}

func TestArchive_StoresSettledUserStatus(t *testing.T) {
	tests := []struct {
		name    string
		backend *fakeBackend
		want    domain.MessageStatus
	}{
		{"delivered", &fakeBackend{content: domain.TextContent("answer")}, domain.StatusDelivered},
		{"failed", &fakeBackend{err: errors.New("backend down")}, domain.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := history.NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"), quietLogger())
			require.NoError(t, err)
			defer store.Close()

			c := newController(t, tt.backend, func(cfg *Config) { cfg.Archive = store })
			c.SetDraft("ধানের রোগ")
			require.NoError(t, c.Submit(context.Background()))

			snap := c.Snapshot()
			require.Len(t, snap.Messages, 2)
			assert.Equal(t, tt.want, snap.Messages[0].Status)

			recs, err := store.GetMessages(context.Background(), snap.SessionID)
			require.NoError(t, err)
			require.Len(t, recs, 2)
			assert.Equal(t, string(domain.RoleUser), recs[0].Role)
			assert.Equal(t, string(tt.want), recs[0].Status)
			assert.Equal(t, string(domain.StatusDelivered), recs[1].Status)
		})
	}
}

func TestArchive_StaleRequestStillArchivesUserMessage(t *testing.T) {
	arch := &fakeArchive{}
	be := gatedBackend(domain.TextContent("late answer"))
	c := newController(t, be, func(cfg *Config) { cfg.Archive = arch })

	c.SetDraft("question")
	done := submitAsync(c)
	waitEntered(t, be)
	oldID := c.Snapshot().SessionID
	arch.mu.Lock()
	assert.Empty(t, arch.messages[oldID], "pending user message is not archived yet")
	arch.mu.Unlock()

	c.Reset()
	close(be.gate)
	require.NoError(t, waitDone(t, done))

	arch.mu.Lock()
	defer arch.mu.Unlock()
	require.Len(t, arch.messages[oldID], 1)
	assert.Equal(t, domain.StatusDelivered, arch.messages[oldID][0].Status)
}

func TestArchive_FailureDoesNotAffectSession(t *testing.T) {
	arch := &fakeArchive{failAdd: true}
	c := newController(t, &fakeBackend{content: domain.TextContent("answer")}, func(cfg *Config) { cfg.Archive = arch })

	c.SetDraft("q")
	require.NoError(t, c.Submit(context.Background()))
	assert.Len(t, c.Snapshot().Messages, 2)
}

func TestNew_Defaults(t *testing.T) {
	c := New(Config{Backend: &fakeBackend{}})
	defer c.Close()

	s := c.Snapshot()
	assert.NotEmpty(t, s.SessionID)
	assert.Empty(t, s.Messages)
	assert.ErrorIs(t, c.ToggleVoice(context.Background()), ErrSpeechUnsupported)
}
