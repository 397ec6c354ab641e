package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/phuslu/log"

	"github.com/kerbaras/novels/pkg/data"
	"github.com/kerbaras/novels/pkg/sources"
)

// FavoriteStore is the slice of the repository the favorites sync needs.
type FavoriteStore interface {
	ReplaceFavorites(sortKey data.FavoriteSort, entries []data.FavoriteEntry) error
	ListFavorites(sortKey data.FavoriteSort) ([]data.FavoriteEntry, error)
}

// Favorites pulls the account favorites list and keeps a local cache so the
// list stays browsable offline.
type Favorites struct {
	source sources.Source
	store  FavoriteStore
	logger log.Logger
}

func NewFavorites(source sources.Source, store FavoriteStore) *Favorites {
	return &Favorites{source: source, store: store, logger: log.DefaultLogger}
}

// Sync fetches the live list and replaces the cache for the given sort key.
// Auth failures surface unchanged so the caller can prompt for a session.
func (f *Favorites) Sync(ctx context.Context, sortKey data.FavoriteSort) ([]data.FavoriteEntry, error) {
	entries, err := f.source.FetchFavorites(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch favorites: %w", err)
	}

	sortFavorites(entries, sortKey)

	if f.store != nil {
		if err := f.store.ReplaceFavorites(sortKey, entries); err != nil {
			f.logger.Warn().Err(err).Msg("favorites cache update failed")
		}
	}
	return entries, nil
}

// Cached returns the last synced list without touching the network.
func (f *Favorites) Cached(sortKey data.FavoriteSort) ([]data.FavoriteEntry, error) {
	if f.store == nil {
		return nil, nil
	}
	return f.store.ListFavorites(sortKey)
}

func sortFavorites(entries []data.FavoriteEntry, sortKey data.FavoriteSort) {
	sort.SliceStable(entries, func(i, j int) bool {
		if sortKey == data.FavoriteSortFavorited {
			return entries[i].FavoritedAt.After(entries[j].FavoritedAt)
		}
		return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
	})
}
