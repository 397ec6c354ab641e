package services

import (
	"fmt"
	"sync"
	"time"
)

type JobKind string

const (
	JobChapter JobKind = "chapter"
	JobImage   JobKind = "image"
)

// KindCounts is the per-kind progress breakdown.
type KindCounts struct {
	Total     int
	Completed int
	Failed    int
}

func (c KindCounts) Pending() int { return c.Total - c.Completed - c.Failed }

// Snapshot is a consistent point-in-time view of the run. Value type; safe
// to hand to any presentation layer.
type Snapshot struct {
	Chapters KindCounts
	Images   KindCounts
	Bytes    int64
	Elapsed  time.Duration
}

func (s Snapshot) Done() bool {
	return s.Chapters.Pending() == 0 && s.Images.Pending() == 0
}

// Rate formats the byte throughput for display.
func (s Snapshot) Rate() string {
	if s.Elapsed <= 0 {
		return "0.0 KB/s"
	}
	kbps := float64(s.Bytes) / 1024 / s.Elapsed.Seconds()
	if kbps >= 1024 {
		return fmt.Sprintf("%.1f MB/s", kbps/1024)
	}
	return fmt.Sprintf("%.1f KB/s", kbps)
}

// Ledger aggregates job transitions from every worker. One short-held lock;
// no worker ever blocks here for longer than the counter update.
type Ledger struct {
	mu       sync.Mutex
	start    time.Time
	chapters KindCounts
	images   KindCounts
	bytes    int64
	sealed   bool
}

func NewLedger() *Ledger {
	return &Ledger{start: time.Now()}
}

// SealChapters fixes the chapter total for the run. The total is set exactly
// once, when the manifest resolves; later calls are ignored.
func (l *Ledger) SealChapters(total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sealed {
		return
	}
	l.chapters.Total = total
	l.sealed = true
}

// AddImages registers image units at discovery time, i.e. when a chapter's
// text resolves and its embedded references become known.
func (l *Ledger) AddImages(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.images.Total += n
}

func (l *Ledger) Complete(kind JobKind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch kind {
	case JobChapter:
		l.chapters.Completed++
	case JobImage:
		l.images.Completed++
	}
}

func (l *Ledger) Fail(kind JobKind) {
	l.FailN(kind, 1)
}

// FailN records n failed units at once. Used at shutdown to settle jobs that
// were enqueued but never ran.
func (l *Ledger) FailN(kind JobKind, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch kind {
	case JobChapter:
		l.chapters.Failed += n
	case JobImage:
		l.images.Failed += n
	}
}

func (l *Ledger) AddBytes(n int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bytes += n
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		Chapters: l.chapters,
		Images:   l.images,
		Bytes:    l.bytes,
		Elapsed:  time.Since(l.start),
	}
}
