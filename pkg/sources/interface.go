package sources

import (
	"context"
	"net/http"

	"github.com/kerbaras/novels/pkg/data"
)

// ChapterContent is what a single chapter text fetch yields: cleaned HTML,
// plain text, and the image references discovered inside it.
type ChapterContent struct {
	Title  string
	HTML   string
	Text   string
	Images []string // absolute source URLs, document order
}

// Source is the fixed capability contract every site adapter implements.
// The engine depends only on this interface.
type Source interface {
	FetchManifest(ctx context.Context, bookID string) (*data.Book, error)
	FetchChapterText(ctx context.Context, chapterURL string) (*ChapterContent, error)
	FetchImageBytes(ctx context.Context, imageURL string) ([]byte, error)

	// FetchBookStatus retrieves only chapter count and freshness. Cheap;
	// used by the update monitor.
	FetchBookStatus(ctx context.Context, bookID string) (*data.BookStatus, error)

	// FetchFavorites needs a valid session and fails with AuthRequired
	// otherwise.
	FetchFavorites(ctx context.Context) ([]data.FavoriteEntry, error)
}

// AuthProvider supplies an opaque session the adapter attaches to requests.
// The engine never inspects it.
type AuthProvider interface {
	Cookies() []*http.Cookie
}
