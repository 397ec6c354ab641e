package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/phuslu/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kerbaras/novels/pkg/app"
	"github.com/kerbaras/novels/pkg/services"
	"github.com/kerbaras/novels/pkg/sources"
)

var downloadCmd = &cobra.Command{
	Use:   "download [book-id or url]",
	Short: "Download a book",
	Long:  "Fetch every chapter of a book and assemble the result into a single file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		bookID := sources.BookID(args[0])
		if bookID == "" {
			bookID = args[0]
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		source := newSource()
		downloader := services.NewDownloader(source, downloadOptions())

		var summary *services.Summary
		var err error
		if viper.GetBool("download.no_tui") {
			summary, err = downloader.DownloadBook(ctx, bookID)
		} else {
			summary, err = app.RunDownload(ctx, downloader, bookID, "book "+bookID)
		}

		if summary != nil {
			snap := summary.Snapshot
			fmt.Printf("chapters %d ok / %d failed, images %d ok / %d failed, %s\n",
				snap.Chapters.Completed, snap.Chapters.Failed,
				snap.Images.Completed, snap.Images.Failed, snap.Rate())
			if summary.Path != "" {
				fmt.Printf("saved to %s\n", summary.Path)
			}
		}
		if err != nil {
			if sources.IsAuthRequired(err) {
				log.Error().Msg("this book needs a logged-in session, point account.cookie_file at an exported cookie file")
			}
			cobra.CheckErr(err)
		}

		// A finished download moves the watch baseline forward.
		if summary != nil && summary.Path != "" {
			confirmWatch(ctx, source, bookID)
		}
	},
}

func confirmWatch(ctx context.Context, source sources.Source, bookID string) {
	repo, err := newRepository()
	if err != nil {
		return
	}
	defer repo.Close()

	entry, err := repo.GetWatch(bookID)
	if err != nil || entry == nil {
		return
	}

	monitor := services.NewMonitor(source, repo)
	status, err := source.FetchBookStatus(ctx, bookID)
	if err != nil {
		return
	}
	if err := monitor.Confirm(bookID, status.Title, status.ChapterCount, status.LatestChapter); err != nil {
		log.Warn().Err(err).Msg("failed to advance watch baseline")
	}
}

func init() {
	downloadCmd.Flags().StringP("format", "f", "", "output format (epub or txt)")
	downloadCmd.Flags().IntP("threads", "t", 0, "parallel chapter fetches")
	downloadCmd.Flags().StringP("output", "o", "", "output directory")
	downloadCmd.Flags().Bool("text-only", false, "skip images even for epub output")
	downloadCmd.Flags().Bool("no-tui", false, "plain log output instead of the progress display")

	viper.BindPFlag("download.format", downloadCmd.Flags().Lookup("format"))
	viper.BindPFlag("download.threads", downloadCmd.Flags().Lookup("threads"))
	viper.BindPFlag("download.output_dir", downloadCmd.Flags().Lookup("output"))
	viper.BindPFlag("download.text_only", downloadCmd.Flags().Lookup("text-only"))
	viper.BindPFlag("download.no_tui", downloadCmd.Flags().Lookup("no-tui"))
}
