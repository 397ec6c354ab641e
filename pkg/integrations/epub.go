package integrations

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-shiori/go-epub"

	"github.com/kerbaras/novels/pkg/data"
)

// EPUBWriter packages a book into a single .epub file. Chapters must arrive
// in manifest order; the downloader's assembler guarantees that.
type EPUBWriter struct {
	path  string
	spool string // go-epub embeds images from files, so bytes spool here
	e     *epub.Epub
	book  *data.Book
}

func NewEPUBWriter(path string) (*EPUBWriter, error) {
	spool, err := os.MkdirTemp("", "novels-epub-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}
	return &EPUBWriter{path: path, spool: spool}, nil
}

func (w *EPUBWriter) Begin(book *data.Book) error {
	e, err := epub.NewEpub(book.Title)
	if err != nil {
		return fmt.Errorf("failed to create EPub: %w", err)
	}

	author := book.Author
	if author == "" {
		author = "Unknown"
	}
	e.SetAuthor(author)
	if book.Description != "" {
		e.SetDescription(book.Description)
	}
	e.SetLang("zh")

	w.e = e
	w.book = book
	return w.addFrontMatter()
}

// addFrontMatter builds the title page: cover, metadata and the table of
// contents, ahead of chapter one.
func (w *EPUBWriter) addFrontMatter() error {
	cover := w.book.CoverImage
	if cover == nil {
		cover = PlaceholderCover(w.book.Title)
	}
	coverPath := filepath.Join(w.spool, "cover.jpg")
	if err := os.WriteFile(coverPath, cover, 0644); err != nil {
		return fmt.Errorf("failed to spool cover: %w", err)
	}
	internalCover, err := w.e.AddImage(coverPath, "cover.jpg")
	if err != nil {
		return fmt.Errorf("failed to add cover: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<div style="text-align:center;"><img src="%s" alt="cover" style="max-width:100%%;"/></div>%s`, internalCover, "\n")
	fmt.Fprintf(&b, "<h1>%s</h1>\n", html.EscapeString(w.book.Title))
	if w.book.Author != "" {
		fmt.Fprintf(&b, "<p>%s</p>\n", html.EscapeString(w.book.Author))
	}
	if len(w.book.Tags) > 0 {
		fmt.Fprintf(&b, "<p>%s</p>\n", html.EscapeString(strings.Join(w.book.Tags, " / ")))
	}
	if w.book.Description != "" {
		fmt.Fprintf(&b, "<div>%s</div>\n", html.EscapeString(w.book.Description))
	}

	b.WriteString("<h2>Contents</h2>\n<ol>\n")
	section := ""
	for _, ch := range w.book.Chapters {
		if ch.Section != "" && ch.Section != section {
			section = ch.Section
			fmt.Fprintf(&b, "<li><b>%s</b></li>\n", html.EscapeString(section))
		}
		fmt.Fprintf(&b, "<li>%s</li>\n", html.EscapeString(ch.Title))
	}
	b.WriteString("</ol>\n")

	if _, err := w.e.AddSection(b.String(), w.book.Title, "intro.xhtml", ""); err != nil {
		return fmt.Errorf("failed to add front matter: %w", err)
	}
	return nil
}

func (w *EPUBWriter) WriteChapter(ch *data.Chapter) error {
	body := ch.HTML
	for i := range ch.Images {
		img := &ch.Images[i]
		if img.Data == nil {
			// Failed download. The pointing <img> tag stays and renders
			// as a broken reference rather than killing the chapter.
			continue
		}
		spooled := filepath.Join(w.spool, img.Filename)
		if err := os.WriteFile(spooled, img.Data, 0644); err != nil {
			return fmt.Errorf("failed to spool image %s: %w", img.Filename, err)
		}
		internal, err := w.e.AddImage(spooled, img.Filename)
		if err != nil {
			return fmt.Errorf("failed to add image %s: %w", img.Filename, err)
		}
		body = strings.ReplaceAll(body, "images/"+img.Filename, internal)
	}

	content := fmt.Sprintf("<h2>%s</h2>\n%s", html.EscapeString(ch.Title), body)
	internalName := fmt.Sprintf("chapter%04d.xhtml", ch.Index)
	if _, err := w.e.AddSection(content, ch.Title, internalName, ""); err != nil {
		return fmt.Errorf("failed to add chapter %d: %w", ch.Index, err)
	}
	return nil
}

func (w *EPUBWriter) Finish() (string, error) {
	defer os.RemoveAll(w.spool)
	if err := w.e.Write(w.path); err != nil {
		return "", fmt.Errorf("failed to write EPub: %w", err)
	}
	return w.path, nil
}
