package services

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/phuslu/log"

	"github.com/kerbaras/novels/pkg/data"
	"github.com/kerbaras/novels/pkg/integrations"
	"github.com/kerbaras/novels/pkg/sources"
)

// stubSource serves canned manifests, chapters and images with optional
// per-URL failures and latency.
type stubSource struct {
	mu            sync.Mutex
	book          *data.Book
	manifestErr   error
	manifestCalls int
	chapters      map[string]*sources.ChapterContent
	chapterErrs   map[string]error
	failOnce      map[string]error // consumed on first call
	images        map[string][]byte
	imageErrs     map[string]error
	statuses      map[string]*data.BookStatus
	favorites     []data.FavoriteEntry
	favoritesErr  error
	delay         time.Duration
	calls         map[string]int
}

func newStubSource(book *data.Book) *stubSource {
	return &stubSource{
		book:        book,
		chapters:    map[string]*sources.ChapterContent{},
		chapterErrs: map[string]error{},
		failOnce:    map[string]error{},
		images:      map[string][]byte{},
		imageErrs:   map[string]error{},
		statuses:    map[string]*data.BookStatus{},
		calls:       map[string]int{},
	}
}

func (s *stubSource) wait(ctx context.Context) error {
	if s.delay == 0 {
		return ctx.Err()
	}
	jitter := time.Duration(rand.Int63n(int64(s.delay)))
	select {
	case <-time.After(jitter):
		return nil
	case <-ctx.Done():
		return sources.Cancelled("stub", ctx.Err())
	}
}

func (s *stubSource) FetchManifest(ctx context.Context, bookID string) (*data.Book, error) {
	s.mu.Lock()
	s.manifestCalls++
	err := s.manifestErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	// Hand back a fresh copy so a run cannot leak state into the next.
	book := *s.book
	book.Chapters = make([]data.Chapter, len(s.book.Chapters))
	copy(book.Chapters, s.book.Chapters)
	return &book, nil
}

func (s *stubSource) FetchChapterText(ctx context.Context, chapterURL string) (*sources.ChapterContent, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[chapterURL]++
	if err, ok := s.failOnce[chapterURL]; ok {
		delete(s.failOnce, chapterURL)
		return nil, err
	}
	if err := s.chapterErrs[chapterURL]; err != nil {
		return nil, err
	}
	content, ok := s.chapters[chapterURL]
	if !ok {
		return nil, sources.Terminal("chapter", fmt.Errorf("no such chapter %s", chapterURL))
	}
	return content, nil
}

func (s *stubSource) FetchImageBytes(ctx context.Context, imageURL string) ([]byte, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[imageURL]++
	if err := s.imageErrs[imageURL]; err != nil {
		return nil, err
	}
	raw, ok := s.images[imageURL]
	if !ok {
		return nil, sources.Terminal("image", fmt.Errorf("no such image %s", imageURL))
	}
	return raw, nil
}

func (s *stubSource) FetchBookStatus(ctx context.Context, bookID string) (*data.BookStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["status:"+bookID]++
	status, ok := s.statuses[bookID]
	if !ok {
		return nil, sources.Terminal("status", fmt.Errorf("no such book %s", bookID))
	}
	return status, nil
}

func (s *stubSource) FetchFavorites(ctx context.Context) ([]data.FavoriteEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["favorites"]++
	if s.favoritesErr != nil {
		return nil, s.favoritesErr
	}
	return s.favorites, nil
}

func (s *stubSource) callCount(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[url]
}

// captureWriter keeps full chapter copies so tests can inspect what was
// actually emitted.
type captureWriter struct {
	mu       sync.Mutex
	book     *data.Book
	order    []int
	chapters map[int]data.Chapter
	finished bool
}

func newCaptureWriter() *captureWriter {
	return &captureWriter{chapters: map[int]data.Chapter{}}
}

func (w *captureWriter) Begin(book *data.Book) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.book = book
	return nil
}

func (w *captureWriter) WriteChapter(ch *data.Chapter) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.order = append(w.order, ch.Index)
	w.chapters[ch.Index] = *ch
	return nil
}

func (w *captureWriter) Finish() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.finished = true
	return "out/test.epub", nil
}

func (w *captureWriter) emitted() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]int, len(w.order))
	copy(out, w.order)
	return out
}

func makeBook(chapters int) *data.Book {
	book := &data.Book{ID: "1234", Title: "Test Book", Author: "Someone"}
	for i := 1; i <= chapters; i++ {
		book.Chapters = append(book.Chapters, data.Chapter{
			Index: i,
			Title: fmt.Sprintf("Chapter %d", i),
			URL:   fmt.Sprintf("https://example.com/ch/%d", i),
		})
	}
	return book
}

func chapterURL(i int) string { return fmt.Sprintf("https://example.com/ch/%d", i) }

func quietLogger() log.Logger {
	return log.Logger{Level: log.ErrorLevel, Writer: &log.IOWriter{Writer: io.Discard}}
}

func testDownloader(t *testing.T, src sources.Source, opts Options, w integrations.Writer) *Downloader {
	t.Helper()
	d := NewDownloader(src, opts)
	d.retry.BaseDelay = time.Millisecond
	d.retry.MaxDelay = 5 * time.Millisecond
	d.retry.Timeout = 500 * time.Millisecond
	d.logger = quietLogger()
	d.writerFor = func(*data.Book) (integrations.Writer, error) { return w, nil }
	return d
}

func expectOrder(t *testing.T, got, want []int) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("Expected emit order %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected emit order %v, got %v", want, got)
		}
	}
}

func TestDownloadBookAssemblesInOrder(t *testing.T) {
	book := makeBook(8)
	src := newStubSource(book)
	src.delay = 10 * time.Millisecond
	for i := 1; i <= 8; i++ {
		src.chapters[chapterURL(i)] = &sources.ChapterContent{
			HTML: fmt.Sprintf("<p>body %d</p>", i),
			Text: fmt.Sprintf("body %d", i),
		}
	}

	w := newCaptureWriter()
	d := testDownloader(t, src, DefaultOptions(), w)

	summary, err := d.DownloadBook(context.Background(), "1234")
	if err != nil {
		t.Fatalf("DownloadBook error = %v", err)
	}

	expectOrder(t, w.emitted(), []int{1, 2, 3, 4, 5, 6, 7, 8})
	if !w.finished {
		t.Fatal("Expected writer to be finalized")
	}
	if summary.Path != "out/test.epub" {
		t.Fatalf("Expected artifact path, got %q", summary.Path)
	}
	snap := summary.Snapshot
	if snap.Chapters.Completed != 8 || snap.Chapters.Failed != 0 {
		t.Fatalf("Expected 8 completed chapters, got %+v", snap.Chapters)
	}
}

func TestDownloadBookImageBestEffort(t *testing.T) {
	book := makeBook(3)
	src := newStubSource(book)
	src.chapters[chapterURL(1)] = &sources.ChapterContent{HTML: "<p>one</p>", Text: "one"}
	src.chapters[chapterURL(2)] = &sources.ChapterContent{
		HTML:   `<p>two</p><img src="https://img.example.com/a.png"/><img src="https://img.example.com/b.png"/>`,
		Text:   "two",
		Images: []string{"https://img.example.com/a.png", "https://img.example.com/b.png"},
	}
	src.chapters[chapterURL(3)] = &sources.ChapterContent{HTML: "<p>three</p>", Text: "three"}
	src.images["https://img.example.com/a.png"] = []byte{0x89, 0x50}
	src.imageErrs["https://img.example.com/b.png"] = sources.Terminal("image", fmt.Errorf("gone"))

	w := newCaptureWriter()
	d := testDownloader(t, src, DefaultOptions(), w)

	summary, err := d.DownloadBook(context.Background(), "1234")
	if err != nil {
		t.Fatalf("DownloadBook error = %v", err)
	}

	expectOrder(t, w.emitted(), []int{1, 2, 3})

	snap := summary.Snapshot
	if snap.Chapters.Failed != 0 {
		t.Fatalf("Expected no failed chapters, got %d", snap.Chapters.Failed)
	}
	if snap.Images.Completed != 1 || snap.Images.Failed != 1 {
		t.Fatalf("Expected 1 ok / 1 failed image, got %+v", snap.Images)
	}

	ch := w.chapters[2]
	if len(ch.Images) != 2 {
		t.Fatalf("Expected 2 image slots, got %d", len(ch.Images))
	}
	if ch.Images[0].Data == nil {
		t.Fatal("Expected first image data to be present")
	}
	if ch.Images[1].Data != nil {
		t.Fatal("Expected failed image to carry no data")
	}
	if strings.Contains(ch.HTML, "img.example.com") {
		t.Fatalf("Expected remote URLs rewritten to local names, got %q", ch.HTML)
	}
	if !strings.Contains(ch.HTML, "images/"+ch.Images[0].Filename) {
		t.Fatalf("Expected local image reference in HTML, got %q", ch.HTML)
	}
}

func TestDownloadBookImagesStrict(t *testing.T) {
	book := makeBook(3)
	src := newStubSource(book)
	src.chapters[chapterURL(1)] = &sources.ChapterContent{HTML: "<p>one</p>", Text: "one"}
	src.chapters[chapterURL(2)] = &sources.ChapterContent{
		HTML:   `<img src="https://img.example.com/a.png"/>`,
		Text:   "two",
		Images: []string{"https://img.example.com/a.png"},
	}
	src.chapters[chapterURL(3)] = &sources.ChapterContent{HTML: "<p>three</p>", Text: "three"}
	src.imageErrs["https://img.example.com/a.png"] = sources.Terminal("image", fmt.Errorf("gone"))

	opts := DefaultOptions()
	opts.ImagesBestEffort = false

	w := newCaptureWriter()
	d := testDownloader(t, src, opts, w)

	summary, err := d.DownloadBook(context.Background(), "1234")
	if err != nil {
		t.Fatalf("DownloadBook error = %v", err)
	}

	expectOrder(t, w.emitted(), []int{1, 3})
	if summary.Snapshot.Chapters.Failed != 1 {
		t.Fatalf("Expected 1 failed chapter, got %d", summary.Snapshot.Chapters.Failed)
	}
}

func TestDownloadBookTextOnlySkipsImages(t *testing.T) {
	book := makeBook(1)
	src := newStubSource(book)
	src.chapters[chapterURL(1)] = &sources.ChapterContent{
		HTML:   `<img src="https://img.example.com/a.png"/>`,
		Text:   "one",
		Images: []string{"https://img.example.com/a.png"},
	}

	opts := DefaultOptions()
	opts.Format = FormatTXT

	w := newCaptureWriter()
	d := testDownloader(t, src, opts, w)

	summary, err := d.DownloadBook(context.Background(), "1234")
	if err != nil {
		t.Fatalf("DownloadBook error = %v", err)
	}
	if summary.Snapshot.Images.Total != 0 {
		t.Fatalf("Expected no image units in text mode, got %d", summary.Snapshot.Images.Total)
	}
	if src.callCount("https://img.example.com/a.png") != 0 {
		t.Fatal("Expected no image fetches in text mode")
	}
}

func TestDownloadBookChapterFailureLeavesGap(t *testing.T) {
	book := makeBook(3)
	src := newStubSource(book)
	src.chapters[chapterURL(1)] = &sources.ChapterContent{HTML: "<p>one</p>", Text: "one"}
	src.chapterErrs[chapterURL(2)] = sources.Terminal("chapter", fmt.Errorf("deleted"))
	src.chapters[chapterURL(3)] = &sources.ChapterContent{HTML: "<p>three</p>", Text: "three"}

	w := newCaptureWriter()
	d := testDownloader(t, src, DefaultOptions(), w)

	summary, err := d.DownloadBook(context.Background(), "1234")
	if err != nil {
		t.Fatalf("DownloadBook error = %v", err)
	}

	expectOrder(t, w.emitted(), []int{1, 3})
	if src.callCount(chapterURL(2)) != 1 {
		t.Fatalf("Expected terminal failure not retried, got %d calls", src.callCount(chapterURL(2)))
	}
	snap := summary.Snapshot
	if snap.Chapters.Completed != 2 || snap.Chapters.Failed != 1 {
		t.Fatalf("Expected 2 ok / 1 failed chapters, got %+v", snap.Chapters)
	}
}

func TestDownloadBookRetriesTransientChapter(t *testing.T) {
	book := makeBook(1)
	src := newStubSource(book)
	src.chapters[chapterURL(1)] = &sources.ChapterContent{HTML: "<p>one</p>", Text: "one"}
	src.failOnce[chapterURL(1)] = sources.Transient("chapter", fmt.Errorf("503"))

	w := newCaptureWriter()
	d := testDownloader(t, src, DefaultOptions(), w)

	summary, err := d.DownloadBook(context.Background(), "1234")
	if err != nil {
		t.Fatalf("DownloadBook error = %v", err)
	}
	if src.callCount(chapterURL(1)) != 2 {
		t.Fatalf("Expected 2 fetch attempts, got %d", src.callCount(chapterURL(1)))
	}
	if summary.Snapshot.Chapters.Failed != 0 {
		t.Fatalf("Expected no failed chapters, got %d", summary.Snapshot.Chapters.Failed)
	}
}

func TestDownloadBookManifestFailureAborts(t *testing.T) {
	src := newStubSource(makeBook(1))
	src.manifestErr = sources.AuthRequired("manifest", fmt.Errorf("login required"))

	w := newCaptureWriter()
	d := testDownloader(t, src, DefaultOptions(), w)

	summary, err := d.DownloadBook(context.Background(), "1234")
	if err == nil {
		t.Fatal("Expected manifest failure to abort the run")
	}
	if summary != nil {
		t.Fatal("Expected no summary when the manifest never resolved")
	}
	if !sources.IsAuthRequired(err) {
		t.Fatalf("Expected auth error to surface, got %v", err)
	}
	if src.manifestCalls != 1 {
		t.Fatalf("Expected auth failure not retried, got %d calls", src.manifestCalls)
	}
	if w.book != nil {
		t.Fatal("Expected writer never to start")
	}
}

func TestDownloadBookCancellation(t *testing.T) {
	book := makeBook(30)
	src := newStubSource(book)
	src.delay = 20 * time.Millisecond
	for i := 1; i <= 30; i++ {
		src.chapters[chapterURL(i)] = &sources.ChapterContent{
			HTML: fmt.Sprintf("<p>%d</p>", i),
			Text: fmt.Sprintf("%d", i),
		}
	}

	opts := DefaultOptions()
	opts.MaxThreads = 3

	w := newCaptureWriter()
	d := testDownloader(t, src, opts, w)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(40 * time.Millisecond)
		cancel()
	}()

	summary, err := d.DownloadBook(ctx, "1234")
	if !sources.IsCancelled(err) {
		t.Fatalf("Expected cancellation error, got %v", err)
	}
	if summary == nil {
		t.Fatal("Expected a summary even for a cancelled run")
	}

	// Whatever made it out is a contiguous prefix of the manifest.
	got := w.emitted()
	for i, idx := range got {
		if idx != i+1 {
			t.Fatalf("Expected contiguous prefix, got %v", got)
		}
	}
	if len(got) == 30 {
		t.Fatal("Expected the run to stop before completing")
	}
	snap := summary.Snapshot
	if snap.Chapters.Completed+snap.Chapters.Failed != snap.Chapters.Total {
		t.Fatalf("Expected all chapter units settled, got %+v", snap.Chapters)
	}
}

func TestNewDownloaderInheritsDefaultBackoff(t *testing.T) {
	d := NewDownloader(newStubSource(makeBook(0)), DefaultOptions())
	def := DefaultRetryPolicy()
	if d.retry.BaseDelay != def.BaseDelay || d.retry.MaxDelay != def.MaxDelay {
		t.Fatalf("Expected default backoff %v/%v, got %v/%v",
			def.BaseDelay, def.MaxDelay, d.retry.BaseDelay, d.retry.MaxDelay)
	}
	if d.retry.Attempts != DefaultOptions().RetryAttempts {
		t.Fatalf("Expected attempts from options, got %d", d.retry.Attempts)
	}
}

func TestDownloadBookTextSeparatorReachesWriter(t *testing.T) {
	book := makeBook(1)
	src := newStubSource(book)
	src.chapters[chapterURL(1)] = &sources.ChapterContent{Text: "Once upon a time."}

	opts := DefaultOptions()
	opts.Format = FormatTXT
	opts.OutputDir = t.TempDir()
	opts.TextSeparator = "----"

	d := NewDownloader(src, opts)
	d.retry.BaseDelay = time.Millisecond
	d.logger = quietLogger()

	summary, err := d.DownloadBook(context.Background(), "1234")
	if err != nil {
		t.Fatalf("DownloadBook error = %v", err)
	}

	raw, err := os.ReadFile(summary.Path)
	if err != nil {
		t.Fatalf("Expected artifact on disk: %v", err)
	}
	if !strings.Contains(string(raw), "----  Chapter 1  ----") {
		t.Fatalf("Expected configured separator in output, got %q", string(raw))
	}
}

func TestDownloadBookCoverFailureIsNotFatal(t *testing.T) {
	book := makeBook(1)
	book.CoverURL = "https://img.example.com/cover.jpg"
	src := newStubSource(book)
	src.chapters[chapterURL(1)] = &sources.ChapterContent{HTML: "<p>one</p>", Text: "one"}
	src.imageErrs["https://img.example.com/cover.jpg"] = sources.Transient("image", fmt.Errorf("503"))

	w := newCaptureWriter()
	d := testDownloader(t, src, DefaultOptions(), w)

	summary, err := d.DownloadBook(context.Background(), "1234")
	if err != nil {
		t.Fatalf("DownloadBook error = %v", err)
	}
	if summary.Snapshot.Chapters.Completed != 1 {
		t.Fatalf("Expected the chapter to complete, got %+v", summary.Snapshot.Chapters)
	}
	if src.callCount("https://img.example.com/cover.jpg") != 2 {
		t.Fatalf("Expected 2 cover attempts, got %d", src.callCount("https://img.example.com/cover.jpg"))
	}
	if w.book.CoverImage != nil {
		t.Fatal("Expected no cover bytes after failed download")
	}
}
