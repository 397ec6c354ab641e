package integrations

import (
	"fmt"
	"os"
	"strings"

	"github.com/kerbaras/novels/pkg/data"
)

// TextWriter produces a flat .txt rendition: header, then chapters appended
// in order. Every chapter is flushed on write, so an interrupted run leaves
// a readable prefix on disk.
type TextWriter struct {
	path      string
	separator string
	f         *os.File
}

func NewTextWriter(path string) (*TextWriter, error) {
	return &TextWriter{path: path, separator: "=========="}, nil
}

// SetSeparator replaces the marker framing each chapter title.
func (w *TextWriter) SetSeparator(s string) {
	w.separator = s
}

func (w *TextWriter) Begin(book *data.Book) error {
	f, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("failed to create text file: %w", err)
	}
	w.f = f

	var b strings.Builder
	b.WriteString(book.Title + "\n")
	if book.Author != "" {
		b.WriteString(book.Author + "\n")
	}
	if len(book.Tags) > 0 {
		b.WriteString(strings.Join(book.Tags, " / ") + "\n")
	}
	if book.Description != "" {
		b.WriteString("\n" + book.Description + "\n")
	}
	return w.flush(b.String())
}

func (w *TextWriter) WriteChapter(ch *data.Chapter) error {
	var b strings.Builder
	fmt.Fprintf(&b, "\n\n%s  %s  %s\n\n", w.separator, ch.Title, w.separator)
	b.WriteString(strings.TrimSpace(ch.Text))
	b.WriteString("\n")
	return w.flush(b.String())
}

func (w *TextWriter) Finish() (string, error) {
	if err := w.f.Close(); err != nil {
		return "", fmt.Errorf("failed to close text file: %w", err)
	}
	return w.path, nil
}

func (w *TextWriter) flush(s string) error {
	if _, err := w.f.WriteString(s); err != nil {
		return fmt.Errorf("failed to append: %w", err)
	}
	return w.f.Sync()
}
