package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/phuslu/log"
	"github.com/spf13/cobra"

	"github.com/kerbaras/novels/pkg/services"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check watched books for new chapters",
	Long:  "Probe every watched book and report how many chapters appeared since the last confirmed download",
	Run: func(cmd *cobra.Command, args []string) {
		download, _ := cmd.Flags().GetBool("download")
		every, _ := cmd.Flags().GetString("every")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		repo, err := newRepository()
		cobra.CheckErr(err)
		defer repo.Close()

		source := newSource()
		monitor := services.NewMonitor(source, repo)

		sweep := func(ctx context.Context) {
			deltas, err := monitor.CheckAll(ctx)
			if err != nil {
				log.Error().Err(err).Msg("check sweep failed")
				return
			}
			reportDeltas(ctx, monitor, deltas, download)
		}

		if every != "" {
			fmt.Printf("checking on schedule %q, ctrl-c to stop\n", every)
			sweep(ctx)
			err := monitor.Schedule(ctx, every, sweep)
			if err != nil && err != context.Canceled {
				cobra.CheckErr(err)
			}
			return
		}

		sweep(ctx)
	},
}

func reportDeltas(ctx context.Context, monitor *services.Monitor, deltas []services.Delta, download bool) {
	fresh := 0
	for _, delta := range deltas {
		switch {
		case delta.Err != nil:
			fmt.Printf("%-10s  %-40s  check failed: %v\n", delta.BookID, delta.Title, delta.Err)
		case delta.NewChapters > 0:
			fresh++
			fmt.Printf("%-10s  %-40s  %d new (latest: %s)\n",
				delta.BookID, delta.Title, delta.NewChapters, delta.LatestChapter)
		default:
			fmt.Printf("%-10s  %-40s  up to date\n", delta.BookID, delta.Title)
		}
	}

	if !download || fresh == 0 {
		return
	}

	source := newSource()
	for _, delta := range deltas {
		if delta.Err != nil || delta.NewChapters == 0 {
			continue
		}
		downloader := services.NewDownloader(source, downloadOptions())
		summary, err := downloader.DownloadBook(ctx, delta.BookID)
		if err != nil {
			log.Error().Err(err).Str("book", delta.BookID).Msg("download failed")
			continue
		}
		fmt.Printf("%-10s  saved to %s\n", delta.BookID, summary.Path)
		if err := monitor.Confirm(delta.BookID, delta.Title, delta.RemoteCount, delta.LatestChapter); err != nil {
			log.Warn().Err(err).Str("book", delta.BookID).Msg("failed to advance watch baseline")
		}
	}
}

func init() {
	checkCmd.Flags().BoolP("download", "d", false, "download books that have new chapters")
	checkCmd.Flags().StringP("every", "e", "", "keep checking on a cron schedule (e.g. \"@every 6h\")")
}
