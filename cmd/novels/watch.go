package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kerbaras/novels/pkg/services"
	"github.com/kerbaras/novels/pkg/sources"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Manage the watched book list",
}

var watchAddCmd = &cobra.Command{
	Use:   "add [book-id or url]",
	Short: "Start watching a book for new chapters",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		bookID := sources.BookID(args[0])
		if bookID == "" {
			bookID = args[0]
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		repo, err := newRepository()
		cobra.CheckErr(err)
		defer repo.Close()

		monitor := services.NewMonitor(newSource(), repo)
		entry, err := monitor.Watch(ctx, bookID)
		cobra.CheckErr(err)

		fmt.Printf("watching %s (%s), %d chapters known\n", entry.Title, entry.BookID, entry.LastCount)
	},
}

var watchRemoveCmd = &cobra.Command{
	Use:   "remove [book-id]",
	Short: "Stop watching a book",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		repo, err := newRepository()
		cobra.CheckErr(err)
		defer repo.Close()

		monitor := services.NewMonitor(newSource(), repo)
		cobra.CheckErr(monitor.Unwatch(args[0]))
		fmt.Printf("stopped watching %s\n", args[0])
	},
}

var watchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watched books",
	Run: func(cmd *cobra.Command, args []string) {
		repo, err := newRepository()
		cobra.CheckErr(err)
		defer repo.Close()

		entries, err := repo.ListWatches()
		cobra.CheckErr(err)

		if len(entries) == 0 {
			fmt.Println("no watched books")
			return
		}
		for _, entry := range entries {
			fmt.Printf("%-10s  %-40s  %d chapters  (checked %s)\n",
				entry.BookID, entry.Title, entry.LastCount,
				entry.CheckedAt.Format("2006-01-02 15:04"))
		}
	},
}

func init() {
	watchCmd.AddCommand(watchAddCmd)
	watchCmd.AddCommand(watchRemoveCmd)
	watchCmd.AddCommand(watchListCmd)
}
