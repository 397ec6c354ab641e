package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/phuslu/log"
	"github.com/robfig/cron/v3"

	"github.com/kerbaras/novels/pkg/data"
	"github.com/kerbaras/novels/pkg/sources"
)

// WatchStore is the slice of the repository the monitor needs.
type WatchStore interface {
	SaveWatch(entry *data.WatchEntry) error
	GetWatch(bookID string) (*data.WatchEntry, error)
	ListWatches() ([]*data.WatchEntry, error)
	DeleteWatch(bookID string) error

	// Touch records a probe time without moving the chapter baseline.
	Touch(bookID string, at time.Time) error
}

// Delta reports how far a watched book has moved since the last check.
// NewChapters is never negative; a shrunken manifest reports zero.
type Delta struct {
	BookID        string
	Title         string
	KnownCount    int
	RemoteCount   int
	NewChapters   int
	LatestChapter string
	Err           error
}

// Monitor compares cheap status probes against stored watch state. It only
// reports; downloading stays the caller's call.
type Monitor struct {
	source sources.Source
	store  WatchStore
	logger log.Logger
}

func NewMonitor(source sources.Source, store WatchStore) *Monitor {
	return &Monitor{source: source, store: store, logger: log.DefaultLogger}
}

// Watch registers a book, seeding the baseline from the current remote state.
func (m *Monitor) Watch(ctx context.Context, bookID string) (*data.WatchEntry, error) {
	status, err := m.source.FetchBookStatus(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to probe book %s: %w", bookID, err)
	}
	entry := &data.WatchEntry{
		BookID:      bookID,
		Title:       status.Title,
		LastCount:   status.ChapterCount,
		LastChapter: status.LatestChapter,
		CheckedAt:   time.Now(),
	}
	if err := m.store.SaveWatch(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (m *Monitor) Unwatch(bookID string) error {
	return m.store.DeleteWatch(bookID)
}

// CheckBook probes a single watched book. Only the status endpoint is hit;
// no chapter bodies are fetched.
func (m *Monitor) CheckBook(ctx context.Context, bookID string) (*Delta, error) {
	entry, err := m.store.GetWatch(bookID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("book %s is not watched", bookID)
	}
	return m.check(ctx, entry), nil
}

// CheckAll probes every watched book, at most checkParallel at a time.
// Individual probe failures land in their Delta instead of failing the sweep.
func (m *Monitor) CheckAll(ctx context.Context) ([]Delta, error) {
	entries, err := m.store.ListWatches()
	if err != nil {
		return nil, err
	}

	const checkParallel = 5
	sem := make(chan struct{}, checkParallel)
	deltas := make([]Delta, len(entries))

	var wg sync.WaitGroup
	for i, entry := range entries {
		wg.Add(1)
		go func(i int, entry *data.WatchEntry) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			deltas[i] = *m.check(ctx, entry)
		}(i, entry)
	}
	wg.Wait()

	return deltas, nil
}

func (m *Monitor) check(ctx context.Context, entry *data.WatchEntry) *Delta {
	delta := &Delta{
		BookID:     entry.BookID,
		Title:      entry.Title,
		KnownCount: entry.LastCount,
	}

	status, err := m.source.FetchBookStatus(ctx, entry.BookID)
	if err != nil {
		m.logger.Warn().Err(err).Str("book", entry.BookID).Msg("status probe failed")
		delta.Err = err
		return delta
	}

	delta.RemoteCount = status.ChapterCount
	delta.LatestChapter = status.LatestChapter
	if status.Title != "" {
		delta.Title = status.Title
	}
	if status.ChapterCount > entry.LastCount {
		delta.NewChapters = status.ChapterCount - entry.LastCount
	}

	// The baseline only moves on Confirm; a check just notes when it ran.
	if err := m.store.Touch(entry.BookID, time.Now()); err != nil {
		m.logger.Warn().Err(err).Str("book", entry.BookID).Msg("failed to record check time")
	}
	return delta
}

// Confirm advances the stored baseline. Callers invoke it only after a
// successful download, so an interrupted run gets re-reported next check.
func (m *Monitor) Confirm(bookID, title string, count int, latest string) error {
	return m.store.SaveWatch(&data.WatchEntry{
		BookID:      bookID,
		Title:       title,
		LastCount:   count,
		LastChapter: latest,
		CheckedAt:   time.Now(),
	})
}

// Schedule runs fn on a cron spec until ctx is done. It blocks.
func (m *Monitor) Schedule(ctx context.Context, spec string, fn func(context.Context)) error {
	c := cron.New()
	_, err := c.AddFunc(spec, func() { fn(ctx) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	c.Start()
	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	return ctx.Err()
}
