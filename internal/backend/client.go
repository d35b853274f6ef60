package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"tiaapa/internal/domain"
)

const (
	queryPath      = "/api/query"
	analyzePath    = "/api/analyze-image"
	transcribePath = "/api/transcribe"

	maxErrorBody = 4096
)

// ErrStatus is wrapped by every StatusError.
var ErrStatus = errors.New("backend returned non-success status")

// StatusError reports a non-2xx answer from the backend.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrStatus }

// Config configures the backend client.
type Config struct {
	BaseURL string
	Timeout time.Duration // 0 = no timeout
	Logger  *slog.Logger
}

// Client implements domain.Backend and domain.Transcriber over the Tia Apa HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func New(cfg Config) *Client {
	return NewWithClient(cfg, NewHTTPClient(cfg.Timeout))
}

func NewWithClient(cfg Config, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		logger:  cfg.Logger,
	}
}

// BaseURL returns the normalized base URL requests are sent to.
func (c *Client) BaseURL() string { return c.baseURL }

type queryResponse struct {
	Source     string          `json:"source"`
	Data       json.RawMessage `json:"data"`
	Confidence float64         `json:"confidence"`
}

// analysisResponse carries data instead of analysis when the backend answered
// from its datasets.
type analysisResponse struct {
	Source     string          `json:"source"`
	Analysis   json.RawMessage `json:"analysis"`
	Data       json.RawMessage `json:"data"`
	Confidence float64         `json:"confidence"`
}

type transcribeResponse struct {
	Transcript string `json:"transcript"`
}

// Query sends a text question to /api/query.
func (c *Client) Query(ctx context.Context, req domain.QueryRequest) (domain.Content, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	var resp queryResponse
	if err := c.post(ctx, queryPath, "application/json", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}

	content, err := decodeContent(resp.Data)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("query answered", "source", resp.Source, "confidence", resp.Confidence, "kind", content.Kind())
	return content, nil
}

// AnalyzeImage uploads an image with its prompt to /api/analyze-image.
func (c *Client) AnalyzeImage(ctx context.Context, req domain.ImageRequest) (domain.Content, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreatePart(filePartHeader("image", req.Image.Name, req.Image.ContentType))
	if err != nil {
		return nil, fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(req.Image.Data); err != nil {
		return nil, fmt.Errorf("write image data: %w", err)
	}
	if err := writer.WriteField("language", req.Language); err != nil {
		return nil, fmt.Errorf("write language field: %w", err)
	}
	if err := writer.WriteField("prompt", req.Prompt); err != nil {
		return nil, fmt.Errorf("write prompt field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	var resp analysisResponse
	if err := c.post(ctx, analyzePath, writer.FormDataContentType(), &body, &resp); err != nil {
		return nil, err
	}

	payload := resp.Analysis
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = resp.Data
	}
	content, err := decodeContent(payload)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("image analyzed", "source", resp.Source, "image", req.Image.Name, "kind", content.Kind())
	return content, nil
}

// Transcribe uploads recorded audio to /api/transcribe and returns the text.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename, language string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("copy audio data: %w", err)
	}
	if err := writer.WriteField("language", language); err != nil {
		return "", fmt.Errorf("write language field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart body: %w", err)
	}

	var resp transcribeResponse
	if err := c.post(ctx, transcribePath, writer.FormDataContentType(), &body, &resp); err != nil {
		return "", err
	}

	c.logger.Debug("transcription complete", "text_len", len(resp.Transcript), "language", language)
	return resp.Transcript, nil
}

// Healthy reports whether the backend answers HTTP at its base URL. Any
// response below 500 counts, the API has no dedicated health route.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend not reachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusInternalServerError {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend response", "path", path, "status", resp.StatusCode, "latency", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// filePartHeader builds a form-file part header that keeps the image's own
// content type instead of multipart's application/octet-stream default.
func filePartHeader(field, filename, contentType string) textproto.MIMEHeader {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(filename)))
	h.Set("Content-Type", contentType)
	return h
}
