// Package media picks image files for analysis.
package media

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"tiaapa/internal/domain"
)

// ErrNotImage is returned for files whose content is not an image.
var ErrNotImage = errors.New("file is not an image")

// OpenImage reads the file at path and stages it as an image. Like an
// accept="image/*" file input it only filters on type; size is not limited.
func OpenImage(path string) (domain.Image, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return domain.Image{}, fmt.Errorf("resolve image path: %w", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return domain.Image{}, fmt.Errorf("read image: %w", err)
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return domain.Image{}, fmt.Errorf("%s (%s): %w", filepath.Base(abs), mt.String(), ErrNotImage)
	}

	return domain.Image{
		Name:        filepath.Base(abs),
		ContentType: mt.String(),
		Data:        data,
		Preview:     previewURL(abs),
	}, nil
}

func previewURL(abs string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String()
}
