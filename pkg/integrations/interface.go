package integrations

import "github.com/kerbaras/novels/pkg/data"

// Writer emits a reading artifact incrementally: front matter first, then
// chapters strictly in manifest order, then Finish. Implementations are
// driven by a single goroutine at a time.
type Writer interface {
	Begin(book *data.Book) error
	WriteChapter(ch *data.Chapter) error
	Finish() (string, error)
}
