package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/phuslu/log"

	"github.com/kerbaras/novels/pkg/data"
	"github.com/kerbaras/novels/pkg/integrations"
	"github.com/kerbaras/novels/pkg/sources"
)

const (
	FormatEPUB = "epub"
	FormatTXT  = "txt"

	NamingBookName = "bookName"
	NamingNumber   = "number"
)

// Options is the plain configuration structure the engine accepts. File
// parsing lives in the cmd layer.
type Options struct {
	MaxThreads    int
	ImageThreads  int
	Timeout       time.Duration
	RetryAttempts uint
	Format        string
	NamingMode    string
	UseBookDir    bool
	OutputDir     string

	// TextOnly skips image fetching entirely (always on for txt output).
	TextOnly bool

	// TextSeparator frames chapter titles in txt output. Empty keeps the
	// writer's default.
	TextSeparator string

	// ImagesBestEffort emits a chapter with text only when its images
	// terminally fail. Off, the whole chapter fails instead.
	ImagesBestEffort bool

	// WindowSize caps how many chapters may be in flight ahead of the
	// slowest in-order chapter. 0 means 2×MaxThreads.
	WindowSize int
}

func DefaultOptions() Options {
	return Options{
		MaxThreads:       5,
		ImageThreads:     5,
		Timeout:          15 * time.Second,
		RetryAttempts:    3,
		Format:           FormatEPUB,
		NamingMode:       NamingBookName,
		OutputDir:        "downloads",
		ImagesBestEffort: true,
	}
}

func (o *Options) normalize() {
	if o.MaxThreads < 1 {
		o.MaxThreads = 1
	}
	if o.ImageThreads < 1 {
		o.ImageThreads = o.MaxThreads
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.RetryAttempts == 0 {
		o.RetryAttempts = 3
	}
	if o.Format == "" {
		o.Format = FormatEPUB
	}
	if o.Format == FormatTXT {
		o.TextOnly = true
	}
	if o.OutputDir == "" {
		o.OutputDir = "downloads"
	}
	if o.WindowSize < 1 {
		o.WindowSize = 2 * o.MaxThreads
	}
}

// Summary is what a run ends with whenever the manifest fetch succeeded:
// counts, not a stack trace.
type Summary struct {
	Path     string
	Title    string
	Emitted  int
	Snapshot Snapshot
}

// Downloader is the concurrent fetch-and-assembly engine: manifest in,
// packaged artifact out, bounded parallelism throughout.
type Downloader struct {
	source sources.Source
	opts   Options
	retry  RetryPolicy
	ledger *Ledger
	logger log.Logger

	// writerFor builds the artifact writer for a book. Overridable in tests.
	writerFor func(book *data.Book) (integrations.Writer, error)
}

func NewDownloader(source sources.Source, opts Options) *Downloader {
	opts.normalize()
	retry := DefaultRetryPolicy()
	retry.Attempts = opts.RetryAttempts
	retry.Timeout = opts.Timeout
	d := &Downloader{
		source: source,
		opts:   opts,
		retry:  retry,
		ledger: NewLedger(),
		logger: log.DefaultLogger,
	}
	d.writerFor = d.defaultWriter
	return d
}

// Ledger exposes the live progress counters for any presentation layer.
func (d *Downloader) Ledger() *Ledger { return d.ledger }

// DownloadBook runs the whole pipeline for one book. Only a failed manifest
// fetch or cancellation aborts the run; per-chapter and per-image failures
// are recorded and worked around.
func (d *Downloader) DownloadBook(ctx context.Context, bookID string) (*Summary, error) {
	var book *data.Book
	err := d.retry.Do(ctx, func(ctx context.Context) error {
		b, ferr := d.source.FetchManifest(ctx, bookID)
		if ferr == nil {
			book = b
		}
		return ferr
	})
	if err != nil {
		return nil, fmt.Errorf("manifest fetch failed: %w", err)
	}

	d.logger.Info().Str("title", book.Title).Int("chapters", len(book.Chapters)).Msg("manifest resolved")

	if d.opts.Format == FormatEPUB {
		d.fetchCover(ctx, book)
	}

	writer, err := d.writerFor(book)
	if err != nil {
		return nil, err
	}

	asm := NewAssembler(writer, d.opts.WindowSize)
	if err := asm.Begin(book); err != nil {
		return nil, fmt.Errorf("failed to write front matter: %w", err)
	}

	d.ledger.SealChapters(len(book.Chapters))

	run := &bookRun{
		d:           d,
		book:        book,
		asm:         asm,
		chapterPool: NewPool("chapter", d.opts.MaxThreads, len(book.Chapters)+1),
		imagePool:   NewPool("image", d.opts.ImageThreads, 1024),
	}
	run.chapterPool.Start(ctx)
	run.imagePool.Start(ctx)

	// Wake anything parked on the window the moment the run is aborted.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			asm.Abort()
		case <-watchDone:
		}
	}()

	for i := range book.Chapters {
		ch := &book.Chapters[i]
		run.jobs.Add(1)
		job := &Job{Kind: JobChapter, Ref: ch.URL, Run: func(jobCtx context.Context) {
			defer run.jobs.Done()
			run.fetchChapter(jobCtx, ch)
		}}
		if serr := run.chapterPool.Submit(job); serr != nil {
			run.jobs.Done()
			d.ledger.Fail(JobChapter)
			asm.Fail(ch.Index)
		}
	}

	run.jobs.Wait()
	run.chapterPool.Shutdown()
	run.imagePool.Shutdown()
	run.chapterPool.Wait()
	run.imagePool.Wait()
	close(watchDone)

	summary := &Summary{Title: book.Title, Emitted: asm.Emitted()}

	if ctx.Err() != nil {
		// Emitted prefix stays on disk; nothing is rolled back.
		summary.Snapshot = d.ledger.Snapshot()
		return summary, sources.Cancelled("download", ctx.Err())
	}

	path, err := asm.Finish()
	summary.Snapshot = d.ledger.Snapshot()
	if err != nil {
		return summary, fmt.Errorf("failed to finalize artifact: %w", err)
	}
	summary.Path = path

	snap := summary.Snapshot
	d.logger.Info().
		Str("path", path).
		Int("chapters_ok", snap.Chapters.Completed).
		Int("chapters_failed", snap.Chapters.Failed).
		Int("images_ok", snap.Images.Completed).
		Int("images_failed", snap.Images.Failed).
		Msg("download finished")

	return summary, nil
}

// fetchCover is best effort: two attempts, failures only logged.
func (d *Downloader) fetchCover(ctx context.Context, book *data.Book) {
	if book.CoverURL == "" {
		return
	}
	policy := d.retry
	policy.Attempts = 2

	var raw []byte
	err := policy.Do(ctx, func(ctx context.Context) error {
		b, ferr := d.source.FetchImageBytes(ctx, book.CoverURL)
		if ferr == nil {
			raw = b
		}
		return ferr
	})
	if err != nil {
		d.logger.Warn().Err(err).Msg("cover download failed, continuing without it")
		return
	}

	normalized, err := integrations.NormalizeCover(raw)
	if err != nil {
		d.logger.Warn().Err(err).Msg("cover not usable, continuing without it")
		return
	}
	book.CoverImage = normalized
	d.ledger.AddBytes(int64(len(raw)))
}

func (d *Downloader) defaultWriter(book *data.Book) (integrations.Writer, error) {
	dir := d.opts.OutputDir
	if d.opts.UseBookDir {
		dir = filepath.Join(dir, book.ID)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	name := data.SanitizeTitle(book.Title)
	if d.opts.NamingMode == NamingNumber {
		name = book.ID
	}

	path := filepath.Join(dir, name+"."+d.opts.Format)
	if d.opts.Format == FormatTXT {
		w, err := integrations.NewTextWriter(path)
		if err != nil {
			return nil, err
		}
		if d.opts.TextSeparator != "" {
			w.SetSeparator(d.opts.TextSeparator)
		}
		return w, nil
	}
	w, err := integrations.NewEPUBWriter(path)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// bookRun carries the per-run state shared between chapter and image jobs.
type bookRun struct {
	d           *Downloader
	book        *data.Book
	asm         *Assembler
	chapterPool *Pool
	imagePool   *Pool
	jobs        sync.WaitGroup
}

func (r *bookRun) fetchChapter(ctx context.Context, ch *data.Chapter) {
	d := r.d

	if ctx.Err() != nil {
		d.ledger.Fail(JobChapter)
		r.asm.Fail(ch.Index)
		return
	}

	// Dispatch-side backpressure: stay within the emit window.
	if err := r.asm.Reserve(ctx, ch.Index); err != nil {
		d.ledger.Fail(JobChapter)
		r.asm.Fail(ch.Index)
		return
	}

	var content *sources.ChapterContent
	err := d.retry.Do(ctx, func(ctx context.Context) error {
		c, ferr := d.source.FetchChapterText(ctx, ch.URL)
		if ferr == nil {
			content = c
		}
		return ferr
	})
	if err != nil {
		d.logger.Warn().Err(err).Str("chapter", ch.Title).Msg("chapter text failed")
		d.ledger.Fail(JobChapter)
		r.asm.Fail(ch.Index)
		return
	}

	if ch.Title == "" && content.Title != "" {
		ch.Title = content.Title
	}
	ch.HTML = content.HTML
	ch.Text = content.Text
	d.ledger.AddBytes(int64(len(content.HTML)))

	if d.opts.TextOnly || len(content.Images) == 0 {
		d.ledger.Complete(JobChapter)
		r.asm.Put(ch)
		return
	}

	r.queueImages(ctx, ch, content.Images)
}

// queueImages discovers a chapter's image work: deterministic local names,
// HTML rewritten to point at them, one job per image. The chapter is held
// back until its last image resolves.
func (r *bookRun) queueImages(ctx context.Context, ch *data.Chapter, urls []string) {
	d := r.d

	ch.Images = make([]data.Image, len(urls))
	for pos, src := range urls {
		filename := data.ImageFilename(r.book.ID, ch.Index, pos)
		ch.Images[pos] = data.Image{URL: src, Filename: filename}
		ch.HTML = strings.ReplaceAll(ch.HTML, src, "images/"+filename)
	}

	state := &chapterState{run: r, ch: ch, remaining: len(urls)}
	d.ledger.AddImages(len(urls))

	for pos := range ch.Images {
		pos := pos
		r.jobs.Add(1)
		job := &Job{Kind: JobImage, Ref: ch.Images[pos].URL, Run: func(jobCtx context.Context) {
			defer r.jobs.Done()
			r.fetchImage(jobCtx, ch, pos, state)
		}}
		if err := r.imagePool.Submit(job); err != nil {
			r.jobs.Done()
			d.ledger.Fail(JobImage)
			state.imageResolved(true)
		}
	}
}

func (r *bookRun) fetchImage(ctx context.Context, ch *data.Chapter, pos int, state *chapterState) {
	d := r.d

	if ctx.Err() != nil {
		d.ledger.Fail(JobImage)
		state.imageResolved(true)
		return
	}

	img := &ch.Images[pos]
	var raw []byte
	err := d.retry.Do(ctx, func(ctx context.Context) error {
		b, ferr := d.source.FetchImageBytes(ctx, img.URL)
		if ferr == nil {
			raw = b
		}
		return ferr
	})
	if err != nil {
		d.logger.Warn().Err(err).Str("image", img.URL).Msg("image failed")
		d.ledger.Fail(JobImage)
		state.imageResolved(true)
		return
	}

	img.Data = raw
	d.ledger.AddBytes(int64(len(raw)))
	d.ledger.Complete(JobImage)
	state.imageResolved(false)
}

// chapterState counts a chapter's outstanding images. The worker resolving
// the last one settles the chapter.
type chapterState struct {
	run       *bookRun
	ch        *data.Chapter
	mu        sync.Mutex
	remaining int
	failed    int
}

func (s *chapterState) imageResolved(failed bool) {
	s.mu.Lock()
	s.remaining--
	if failed {
		s.failed++
	}
	done := s.remaining == 0
	failedImages := s.failed
	s.mu.Unlock()

	if !done {
		return
	}

	d := s.run.d
	if failedImages > 0 && !d.opts.ImagesBestEffort {
		d.ledger.Fail(JobChapter)
		s.run.asm.Fail(s.ch.Index)
		return
	}
	d.ledger.Complete(JobChapter)
	s.run.asm.Put(s.ch)
}
