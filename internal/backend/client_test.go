package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiaapa/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/"})
}

func TestQuery_SendsJSONAndDecodesText(t *testing.T) {
	var got domain.QueryRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/query", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"source":"openai","data":"ধানের পাতা পোড়া রোগ","confidence":1.0}`)
	})

	content, err := c.Query(context.Background(), domain.QueryRequest{Query: "ধানের রোগ", Language: "bn"})
	require.NoError(t, err)
	assert.Equal(t, domain.TextContent("ধানের পাতা পোড়া রোগ"), content)
	assert.Equal(t, domain.QueryRequest{Query: "ধানের রোগ", Language: "bn"}, got)
}

func TestQuery_DatasetListBecomesLines(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"source":"dataset","data":["Spray fungicide", null, 42],"confidence":0.71}`)
	})

	content, err := c.Query(context.Background(), domain.QueryRequest{Query: "blast", Language: "en"})
	require.NoError(t, err)
	assert.Equal(t, domain.TextContent("Spray fungicide\n42"), content)
}

func TestQuery_ObjectBecomesOrderedFields(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":{"Crop":"Rice","Symptoms":"brown spots","Severity":3}}`)
	})

	content, err := c.Query(context.Background(), domain.QueryRequest{Query: "q", Language: "en"})
	require.NoError(t, err)
	require.Equal(t, domain.ContentStructured, content.Kind())
	assert.Equal(t, domain.StructuredContent{
		{Key: "Crop", Value: "Rice"},
		{Key: "Symptoms", Value: "brown spots"},
		{Key: "Severity", Value: "3"},
	}, content)
	assert.Equal(t, "Crop: Rice\nSymptoms: brown spots\nSeverity: 3", content.Plain())
}

func TestQuery_ServerErrorIsStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":"openai down"}`)
	})

	_, err := c.Query(context.Background(), domain.QueryRequest{Query: "q", Language: "bn"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStatus))

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Contains(t, se.Body, "openai down")
}

func TestQuery_InvalidJSONIsError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html>oops</html>`)
	})

	_, err := c.Query(context.Background(), domain.QueryRequest{Query: "q", Language: "bn"})
	require.Error(t, err)
}

func TestQuery_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(Config{BaseURL: url})
	_, err := c.Query(context.Background(), domain.QueryRequest{Query: "q", Language: "bn"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrStatus))
}

func TestAnalyzeImage_SendsMultipartFields(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/analyze-image", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "bn", r.FormValue("language"))
		assert.Equal(t, "পাতায় দাগ কেন?", r.FormValue("prompt"))

		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, []byte("\x89PNGfake"), data)
		assert.Equal(t, "leaf.png", header.Filename)
		assert.Equal(t, "image/png", header.Header.Get("Content-Type"))

		io.WriteString(w, `{"source":"openai","analysis":"Leaf blight"}`)
	})

	content, err := c.AnalyzeImage(context.Background(), domain.ImageRequest{
		Image:    domain.Image{Name: "leaf.png", ContentType: "image/png", Data: []byte("\x89PNGfake")},
		Language: "bn",
		Prompt:   "পাতায় দাগ কেন?",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TextContent("Leaf blight"), content)
}

func TestAnalyzeImage_FallsBackToDataField(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"source":"dataset","data":["Remove infected leaves"],"confidence":0.8}`)
	})

	content, err := c.AnalyzeImage(context.Background(), domain.ImageRequest{
		Image:    domain.Image{Name: "a.jpg", ContentType: "image/jpeg", Data: []byte{0xff, 0xd8}},
		Language: "bn",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TextContent("Remove infected leaves"), content)
}

func TestAnalyzeImage_BadRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"No image file provided"}`)
	})

	_, err := c.AnalyzeImage(context.Background(), domain.ImageRequest{Language: "bn"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
}

func TestTranscribe_UploadsAudio(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/transcribe", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "bn", r.FormValue("language"))
		file, header, err := r.FormFile("audio")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "RIFFaudio", string(data))
		assert.Equal(t, "speech.wav", header.Filename)
		io.WriteString(w, `{"transcript":"আমার ধান গাছে পোকা"}`)
	})

	text, err := c.Transcribe(context.Background(), strings.NewReader("RIFFaudio"), "speech.wav", "bn")
	require.NoError(t, err)
	assert.Equal(t, "আমার ধান গাছে পোকা", text)
}

func TestHealthy(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	assert.NoError(t, c.Healthy(context.Background()), "a 404 from Flask still means the backend is up")

	down := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	assert.ErrorIs(t, down.Healthy(context.Background()), ErrStatus)
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c := New(Config{BaseURL: "http://localhost:5000///"})
	assert.Equal(t, "http://localhost:5000", c.BaseURL())
}

func TestDecodeContent_EmptyAndNull(t *testing.T) {
	for _, raw := range []string{"", "null", "  "} {
		content, err := decodeContent(json.RawMessage(raw))
		require.NoError(t, err)
		assert.Equal(t, domain.TextContent(""), content, "raw=%q", raw)
	}
}

func TestDecodeContent_NestedValueIsCompactJSON(t *testing.T) {
	content, err := decodeContent(json.RawMessage(`{"Advice": {"step": 1}, "Done": true}`))
	require.NoError(t, err)
	assert.Equal(t, domain.StructuredContent{
		{Key: "Advice", Value: `{"step":1}`},
		{Key: "Done", Value: "true"},
	}, content)
}
