package domain

import (
	"context"
	"io"
)

// QueryRequest is the body of a text question.
type QueryRequest struct {
	Query    string `json:"query"`
	Language string `json:"language"`
}

// ImageRequest carries an image plus the accompanying prompt.
type ImageRequest struct {
	Image    Image
	Language string
	Prompt   string
}

// Backend is the assistant's HTTP API.
type Backend interface {
	Query(ctx context.Context, req QueryRequest) (Content, error)
	AnalyzeImage(ctx context.Context, req ImageRequest) (Content, error)
}

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename, language string) (string, error)
}
