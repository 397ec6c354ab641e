package sources

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/phuslu/log"

	"github.com/kerbaras/novels/pkg/data"
	"github.com/kerbaras/novels/pkg/utils"
)

const esjzoneBaseURL = "https://www.esjzone.one"

// loginRedirect shows up in any page served to an expired session.
const loginRedirect = "window.location.href='/my/login'"

// Esjzone scrapes the esjzone novel portal. Stateless besides the session.
type Esjzone struct {
	client   *utils.Client
	logger   log.Logger
	debugDir string
}

func NewEsjzone(auth AuthProvider) *Esjzone {
	return NewEsjzoneAt(esjzoneBaseURL, auth)
}

// NewEsjzoneAt points the adapter at a different host. Used by tests and
// mirror deployments.
func NewEsjzoneAt(baseURL string, auth AuthProvider) *Esjzone {
	client := utils.NewClient(baseURL)
	if auth != nil {
		client.WithCookies(auth.Cookies())
	}
	return &Esjzone{
		client:   client,
		logger:   log.DefaultLogger,
		debugDir: "debug_dump",
	}
}

// BookURL accepts either a bare numeric id or a full detail URL.
func (e *Esjzone) BookURL(bookID string) string {
	if strings.HasPrefix(bookID, "http://") || strings.HasPrefix(bookID, "https://") {
		return bookID
	}
	return e.client.Resolve(fmt.Sprintf("/detail/%s.html", bookID))
}

// BookID extracts the numeric id from a detail URL.
func BookID(ref string) string {
	ref = strings.TrimSuffix(ref, "/")
	base := ref[strings.LastIndex(ref, "/")+1:]
	return strings.TrimSuffix(base, ".html")
}

func (e *Esjzone) FetchManifest(ctx context.Context, bookID string) (*data.Book, error) {
	const op = "fetch manifest"

	doc, err := e.fetchDocument(ctx, op, e.BookURL(bookID))
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(doc.Find(".book-detail h2").First().Text())
	if title == "" {
		return nil, Terminal(op, fmt.Errorf("cannot locate book title"))
	}

	book := &data.Book{
		ID:    BookID(e.BookURL(bookID)),
		URL:   e.BookURL(bookID),
		Title: title,
	}

	book.Author = "Unknown Author"
	doc.Find("ul.book-detail li").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(s.Text(), "作者:") {
			if a := s.Find("a").First(); a.Length() > 0 {
				book.Author = strings.TrimSpace(a.Text())
			}
			return false
		}
		return true
	})

	desc := doc.Find(".description").First()
	if desc.Length() == 0 {
		desc = doc.Find(".book-description").First()
	}
	book.Description = strings.TrimSpace(desc.Text())

	cover := doc.Find(".product-gallery img").First()
	if cover.Length() == 0 {
		cover = doc.Find(".book-detail img").First()
	}
	if src := cover.AttrOr("src", ""); src != "" {
		book.CoverURL = e.client.Resolve(src)
	}

	doc.Find(".widget-tags a.tag").Each(func(_ int, s *goquery.Selection) {
		if tag := strings.TrimSpace(s.Text()); tag != "" {
			book.Tags = append(book.Tags, tag)
		}
	})

	book.UpdatedAt = parseUpdateTime(doc)
	book.Chapters = e.parseChapterList(doc)

	return book, nil
}

// parseChapterList walks #chapterList preserving document order. Plain <p>
// nodes and <details> summaries open a new section.
func (e *Esjzone) parseChapterList(doc *goquery.Document) []data.Chapter {
	var chapters []data.Chapter
	section := ""

	appendChapter := func(a *goquery.Selection) {
		title := strings.TrimSpace(a.Find("p").First().Text())
		if title == "" {
			title = strings.TrimSpace(a.Text())
		}
		chapters = append(chapters, data.Chapter{
			Index:   len(chapters) + 1,
			Title:   title,
			URL:     e.client.Resolve(a.AttrOr("href", "")),
			Section: section,
		})
	}

	doc.Find("#chapterList").Children().Each(func(_ int, s *goquery.Selection) {
		switch goquery.NodeName(s) {
		case "a":
			appendChapter(s)
		case "details":
			section = strings.TrimSpace(s.Find("summary").First().Text())
			s.Find("a").Each(func(_ int, a *goquery.Selection) {
				appendChapter(a)
			})
		case "p":
			section = strings.TrimSpace(s.Text())
		}
	})

	return chapters
}

func (e *Esjzone) FetchChapterText(ctx context.Context, chapterURL string) (*ChapterContent, error) {
	const op = "fetch chapter"

	doc, err := e.fetchDocument(ctx, op, chapterURL)
	if err != nil {
		return nil, err
	}

	content := doc.Find(".forum-content").First()
	if content.Length() == 0 {
		return nil, Terminal(op, fmt.Errorf("no chapter content at %s", chapterURL))
	}
	content.Find("h3, footer").Remove()

	result := &ChapterContent{
		Title: strings.TrimSpace(doc.Find("h2").First().Text()),
	}

	content.Find("img").Each(func(_ int, img *goquery.Selection) {
		src := img.AttrOr("src", "")
		if src == "" {
			return
		}
		if !strings.HasPrefix(src, "http") {
			if !strings.HasPrefix(src, "/") {
				e.logger.Warn().Str("src", src).Msg("skipping unresolvable image link")
				return
			}
			src = e.client.Resolve(src)
		}
		result.Images = append(result.Images, src)
	})

	html, err := content.Html()
	if err != nil {
		return nil, Terminal(op, fmt.Errorf("failed to serialize content: %w", err))
	}
	result.HTML = html
	result.Text = strings.TrimSpace(content.Text())

	return result, nil
}

func (e *Esjzone) FetchImageBytes(ctx context.Context, imageURL string) ([]byte, error) {
	const op = "fetch image"

	resp, err := e.client.Get(ctx, imageURL)
	if err != nil {
		return nil, WrapTransport(op, err)
	}
	defer resp.Body.Close()

	if err := ClassifyStatus(op, resp.StatusCode); err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(op, err)
	}
	if len(raw) == 0 {
		return nil, Transient(op, fmt.Errorf("empty image payload"))
	}
	return raw, nil
}

func (e *Esjzone) FetchBookStatus(ctx context.Context, bookID string) (*data.BookStatus, error) {
	const op = "fetch book status"

	doc, err := e.fetchDocument(ctx, op, e.BookURL(bookID))
	if err != nil {
		return nil, err
	}

	chapters := e.parseChapterList(doc)
	status := &data.BookStatus{
		BookID:       BookID(e.BookURL(bookID)),
		Title:        strings.TrimSpace(doc.Find(".book-detail h2").First().Text()),
		ChapterCount: len(chapters),
		UpdatedAt:    parseUpdateTime(doc),
	}
	if len(chapters) > 0 {
		status.LatestChapter = chapters[len(chapters)-1].Title
	}
	return status, nil
}

func (e *Esjzone) FetchFavorites(ctx context.Context) ([]data.FavoriteEntry, error) {
	const op = "fetch favorites"

	var entries []data.FavoriteEntry
	for page := 1; ; page++ {
		doc, err := e.fetchDocument(ctx, op, fmt.Sprintf("/my/favorite/%d", page))
		if err != nil {
			return nil, err
		}

		rows := doc.Find("table tbody tr")
		if rows.Length() == 0 {
			break
		}

		rows.Each(func(_ int, row *goquery.Selection) {
			link := row.Find("a").First()
			href := link.AttrOr("href", "")
			if href == "" {
				return
			}
			cells := row.Find("td")
			entry := data.FavoriteEntry{
				BookID:        BookID(href),
				Title:         strings.TrimSpace(link.Text()),
				LatestChapter: strings.TrimSpace(cells.Eq(1).Text()),
				UpdatedAt:     parseTime(strings.TrimSpace(cells.Eq(2).Text())),
				FavoritedAt:   parseTime(strings.TrimSpace(cells.Eq(3).Text())),
			}
			entries = append(entries, entry)
		})

		if doc.Find(".pagination .page-item a[rel=next]").Length() == 0 {
			break
		}
	}

	return entries, nil
}

func (e *Esjzone) fetchDocument(ctx context.Context, op, ref string) (*goquery.Document, error) {
	resp, err := e.client.Get(ctx, ref)
	if err != nil {
		return nil, WrapTransport(op, err)
	}
	defer resp.Body.Close()

	if err := ClassifyStatus(op, resp.StatusCode); err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(op, err)
	}

	html := string(raw)
	if strings.Contains(html, loginRedirect) {
		return nil, AuthRequired(op, fmt.Errorf("login redirect"))
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		e.dumpDebug(ref, html)
		return nil, Terminal(op, fmt.Errorf("failed to parse page: %w", err))
	}
	return doc, nil
}

// dumpDebug keeps the offending page around for selector archaeology.
func (e *Esjzone) dumpDebug(ref, html string) {
	if e.debugDir == "" {
		return
	}
	if err := os.MkdirAll(e.debugDir, 0755); err != nil {
		return
	}
	name := fmt.Sprintf("debug_%s_%s.html", time.Now().Format("20060102_150405"), uuid.NewString())
	path := filepath.Join(e.debugDir, name)
	header := fmt.Sprintf("<!-- url: %s -->\n", ref)
	if err := os.WriteFile(path, []byte(header+html), 0644); err != nil {
		e.logger.Warn().Err(err).Msg("failed to write debug dump")
		return
	}
	e.logger.Debug().Str("path", path).Msg("debug dump written")
}

func parseUpdateTime(doc *goquery.Document) time.Time {
	var updated time.Time
	doc.Find("ul.book-detail li").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.ReplaceAll(s.Text(), "：", ":")
		if strings.Contains(text, "更新") {
			if idx := strings.Index(text, ":"); idx >= 0 {
				updated = parseTime(strings.TrimSpace(text[idx+1:]))
			}
			return false
		}
		return true
	})
	return updated
}

func parseTime(value string) time.Time {
	layouts := []string{"2006-01-02 15:04", "2006-01-02", "2006/01/02"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
