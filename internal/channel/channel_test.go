package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"tiaapa/internal/bus"
	"tiaapa/internal/domain"
	"tiaapa/internal/locale"
	"tiaapa/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubBackend struct {
	mu      sync.Mutex
	content domain.Content
	err     error
	queries []string
	prompts []string
}

func (s *stubBackend) Query(ctx context.Context, req domain.QueryRequest) (domain.Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, req.Query)
	return s.content, s.err
}

func (s *stubBackend) AnalyzeImage(ctx context.Context, req domain.ImageRequest) (domain.Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, req.Prompt)
	return s.content, s.err
}

func english(t *testing.T) *locale.Catalog {
	t.Helper()
	c, err := locale.Builtin("en")
	require.NoError(t, err)
	return c
}

func testSession(t *testing.T, be domain.Backend) (*session.Controller, *bus.SessionBus) {
	t.Helper()
	b := bus.New(testLogger())
	t.Cleanup(b.Close)
	c := session.New(session.Config{
		Backend:  be,
		Bus:      b,
		Catalog:  english(t),
		Language: "en",
		Logger:   testLogger(),
	})
	t.Cleanup(func() { c.Close() })
	return c, b
}

func fakeImage(path string) (domain.Image, error) {
	if path == "missing.jpg" {
		return domain.Image{}, errors.New("open missing.jpg: no such file or directory")
	}
	return domain.Image{Name: path, ContentType: "image/jpeg", Data: []byte{0xff, 0xd8}, Preview: "file:///tmp/" + path}, nil
}
