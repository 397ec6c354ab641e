package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/phuslu/log"
	"github.com/spf13/cobra"

	"github.com/kerbaras/novels/pkg/data"
	"github.com/kerbaras/novels/pkg/services"
	"github.com/kerbaras/novels/pkg/sources"
)

var favoritesCmd = &cobra.Command{
	Use:   "favorites",
	Short: "List the account's favorite books",
	Long:  "Fetch the favorites list from the logged-in account, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		sortFlag, _ := cmd.Flags().GetString("sort")
		cached, _ := cmd.Flags().GetBool("cached")

		sortKey := data.FavoriteSortUpdated
		if sortFlag == "favor" {
			sortKey = data.FavoriteSortFavorited
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		repo, err := newRepository()
		if err != nil {
			log.Warn().Err(err).Msg("favorites cache unavailable")
		} else {
			defer repo.Close()
		}

		var store services.FavoriteStore
		if repo != nil {
			store = repo
		}
		favorites := services.NewFavorites(newSource(), store)

		var entries []data.FavoriteEntry
		if cached {
			entries, err = favorites.Cached(sortKey)
		} else {
			entries, err = favorites.Sync(ctx, sortKey)
		}
		if err != nil {
			if sources.IsAuthRequired(err) {
				log.Error().Msg("favorites need a logged-in session, point account.cookie_file at an exported cookie file")
			}
			cobra.CheckErr(err)
		}

		if len(entries) == 0 {
			fmt.Println("no favorites")
			return
		}
		for _, entry := range entries {
			fmt.Printf("%-10s  %-40s  %s  (updated %s)\n",
				entry.BookID, entry.Title, entry.LatestChapter,
				entry.UpdatedAt.Format("2006-01-02"))
		}
	},
}

func init() {
	favoritesCmd.Flags().StringP("sort", "s", "new", "sort order: new (latest update) or favor (latest favorited)")
	favoritesCmd.Flags().Bool("cached", false, "show the last synced list without hitting the network")
}
