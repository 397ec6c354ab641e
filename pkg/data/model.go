package data

import (
	"fmt"
	"strings"
	"time"
)

// Book is the manifest for a single run. Fetched once, immutable afterwards;
// only the Chapters it owns are filled in by workers.
type Book struct {
	ID          string
	URL         string
	Title       string
	Author      string
	Description string
	Tags        []string
	CoverURL    string
	CoverImage  []byte
	UpdatedAt   time.Time
	Chapters    []Chapter
}

// Chapter position in the final artifact is Index, not arrival order.
type Chapter struct {
	Index   int // 1-based manifest position
	Title   string
	URL     string
	Section string // volume/arc grouping, empty when the source has none
	HTML    string
	Text    string
	Images  []Image
}

type Image struct {
	URL      string
	Filename string
	Data     []byte
}

// BookStatus is the cheap probe used by the update monitor. No chapter bodies.
type BookStatus struct {
	BookID        string
	Title         string
	ChapterCount  int
	LatestChapter string
	UpdatedAt     time.Time
}

// WatchEntry tracks a monitored book across runs.
type WatchEntry struct {
	BookID      string
	Title       string
	LastCount   int
	LastChapter string
	CheckedAt   time.Time
}

type FavoriteEntry struct {
	BookID        string
	Title         string
	LatestChapter string
	UpdatedAt     time.Time
	FavoritedAt   time.Time
}

type FavoriteSort string

const (
	FavoriteSortUpdated   FavoriteSort = "updated"
	FavoriteSortFavorited FavoriteSort = "favorited"
)

// ImageFilename derives the local name for an embedded image. It is a pure
// function of (book, chapter index, position) so re-runs land on the same
// names and never duplicate assets.
func ImageFilename(bookID string, chapterIndex, position int) string {
	return fmt.Sprintf("%s_c%04d_i%03d.png", sanitizeID(bookID), chapterIndex, position)
}

func sanitizeID(id string) string {
	invalid := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|", " "}
	result := id
	for _, char := range invalid {
		result = strings.ReplaceAll(result, char, "_")
	}
	return strings.Trim(result, "._")
}

// SanitizeTitle removes characters that are invalid in filenames.
func SanitizeTitle(name string) string {
	invalid := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|"}
	result := name
	for _, char := range invalid {
		result = strings.ReplaceAll(result, char, "_")
	}
	result = strings.TrimSpace(result)
	return strings.Trim(result, ".")
}
