// Package extract turns ticket files into text and HTML.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrUnsupported is returned for file types that have no extractor.
var ErrUnsupported = errors.New("extract: unsupported file type")

// DefaultMaxBytes bounds how much of a file is read.
const DefaultMaxBytes = 10 << 20

// Result is the output of one extraction. A non-empty Error means the
// file produced no usable input; it is not a failure of the caller.
type Result struct {
	Text       string        `json:"text,omitempty"`
	HTML       string        `json:"html,omitempty"`
	Subject    string        `json:"subject,omitempty"`
	SourceType string        `json:"source_type"` // "text" | "html" | "email"
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Usable reports whether the result carries any text or HTML.
func (r Result) Usable() bool {
	return r.Error == "" && (strings.TrimSpace(r.Text) != "" || strings.TrimSpace(r.HTML) != "")
}

// TextExtractor is file -> text.
type TextExtractor interface {
	Extract(ctx context.Context, path string) Result
}

// FileExtractor handles .txt, .html/.htm and .eml files.
type FileExtractor struct {
	MaxBytes int64
}

// NewFileExtractor returns an extractor with default limits.
func NewFileExtractor() *FileExtractor {
	return &FileExtractor{MaxBytes: DefaultMaxBytes}
}

// Extract implements TextExtractor.
func (f *FileExtractor) Extract(ctx context.Context, path string) Result {
	start := time.Now()
	res := f.extract(ctx, path)
	res.Duration = time.Since(start)
	return res
}

func (f *FileExtractor) extract(ctx context.Context, path string) Result {
	if err := ctx.Err(); err != nil {
		return Result{Error: err.Error()}
	}

	kind := sourceType(path)
	if kind == "" {
		return Result{Error: fmt.Sprintf("%v: %s", ErrUnsupported, filepath.Ext(path))}
	}

	data, err := f.read(path)
	if err != nil {
		return Result{SourceType: kind, Error: err.Error()}
	}

	var res Result
	switch kind {
	case "text":
		res = Result{Text: string(data)}
	case "html":
		res = Result{HTML: string(data), Text: HTMLToText(string(data))}
	case "email":
		res, err = parseEmail(data)
		if err != nil {
			return Result{SourceType: kind, Error: err.Error()}
		}
	}
	res.SourceType = kind
	if !res.Usable() {
		res.Error = "no text content"
	}
	return res
}

func (f *FileExtractor) read(path string) ([]byte, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer fh.Close()

	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(fh, limit))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func sourceType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".text":
		return "text"
	case ".html", ".htm":
		return "html"
	case ".eml":
		return "email"
	default:
		return ""
	}
}

// IsSupported reports whether path has an extractor.
func IsSupported(path string) bool {
	return sourceType(path) != ""
}
