package services

import (
	"context"
	"sync"

	"github.com/kerbaras/novels/pkg/data"
	"github.com/kerbaras/novels/pkg/integrations"
	"github.com/kerbaras/novels/pkg/sources"
)

// Assembler turns out-of-order chapter completions into an in-order artifact.
// Completed chapters wait in a holding area keyed by manifest index; the
// contiguous prefix is emitted as soon as it exists. The window is enforced
// at dispatch time: a worker reserves a slot before fetching chapter i and
// blocks while i is more than capacity ahead of the emit cursor. Completion
// itself never blocks, which keeps the image pool out of the window's way.
type Assembler struct {
	mu       sync.Mutex
	cond     *sync.Cond
	writer   integrations.Writer
	capacity int

	next     int // lowest index not yet emitted
	pending  map[int]*data.Chapter
	failed   map[int]bool
	emitted  int
	draining bool
	aborted  bool
	err      error // first writer error, sticky
}

func NewAssembler(writer integrations.Writer, capacity int) *Assembler {
	if capacity < 1 {
		capacity = 1
	}
	a := &Assembler{
		writer:   writer,
		capacity: capacity,
		next:     1,
		pending:  make(map[int]*data.Chapter),
		failed:   make(map[int]bool),
	}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// Begin writes the front matter (cover, intro, TOC) before any chapter.
func (a *Assembler) Begin(book *data.Book) error {
	return a.writer.Begin(book)
}

// Reserve blocks until index fits inside the emit window. Returns the abort
// error if the run is cancelled while waiting.
func (a *Assembler) Reserve(ctx context.Context, index int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for !a.aborted && a.err == nil && ctx.Err() == nil && index >= a.next+a.capacity {
		a.cond.Wait()
	}

	switch {
	case a.aborted || ctx.Err() != nil:
		return sources.Cancelled("assemble", context.Canceled)
	case a.err != nil:
		return a.err
	default:
		return nil
	}
}

// Put hands over a ready chapter and drains whatever prefix became
// contiguous. Never rewrites already-emitted chapters.
func (a *Assembler) Put(ch *data.Chapter) error {
	a.mu.Lock()
	if a.aborted {
		a.mu.Unlock()
		return sources.Cancelled("assemble", context.Canceled)
	}
	if ch.Index >= a.next {
		a.pending[ch.Index] = ch
	}
	a.mu.Unlock()
	return a.drain()
}

// Fail records a terminally failed chapter as a gap so the prefix can keep
// advancing past it.
func (a *Assembler) Fail(index int) error {
	a.mu.Lock()
	if index >= a.next {
		a.failed[index] = true
	}
	a.mu.Unlock()
	return a.drain()
}

// Abort wakes every blocked Reserve and freezes the emitted prefix. No
// rollback; what is written stays valid.
func (a *Assembler) Abort() {
	a.mu.Lock()
	a.aborted = true
	a.cond.Broadcast()
	a.mu.Unlock()
}

// Finish closes the artifact and returns its path.
func (a *Assembler) Finish() (string, error) {
	a.mu.Lock()
	err := a.err
	a.mu.Unlock()
	if err != nil {
		return "", err
	}
	return a.writer.Finish()
}

// Emitted reports how many chapters made it into the artifact.
func (a *Assembler) Emitted() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.emitted
}

// drain emits the contiguous prefix. Only one drainer runs at a time and the
// lock is dropped around each write so the critical section stays short.
func (a *Assembler) drain() error {
	a.mu.Lock()
	if a.draining || a.aborted || a.err != nil {
		err := a.err
		a.mu.Unlock()
		return err
	}
	a.draining = true

	for {
		if a.failed[a.next] {
			delete(a.failed, a.next)
			a.next++
			a.cond.Broadcast()
			continue
		}
		ch, ok := a.pending[a.next]
		if !ok {
			break
		}
		delete(a.pending, a.next)

		a.mu.Unlock()
		werr := a.writer.WriteChapter(ch)
		a.mu.Lock()

		if werr != nil {
			a.err = werr
			a.cond.Broadcast()
			break
		}
		a.next++
		a.emitted++
		a.cond.Broadcast()
	}

	a.draining = false
	err := a.err
	a.mu.Unlock()
	return err
}
