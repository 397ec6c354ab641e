package cmd

import (
	"os"
	"path/filepath"
	"time"

	"github.com/phuslu/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kerbaras/novels/pkg/data"
	"github.com/kerbaras/novels/pkg/services"
	"github.com/kerbaras/novels/pkg/sources"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "novels",
	Short: "Download web novels as EPUB or plain text",
	Long:  "Fetch a novel's chapters and images in parallel and assemble them into a single EPUB or text file",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.novels.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(favoritesCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(checkCmd)
}

func initConfig() {
	viper.SetDefault("download.threads", 5)
	viper.SetDefault("download.image_threads", 5)
	viper.SetDefault("download.timeout", "15s")
	viper.SetDefault("download.retries", 3)
	viper.SetDefault("download.format", services.FormatEPUB)
	viper.SetDefault("download.naming", services.NamingBookName)
	viper.SetDefault("download.use_book_dir", false)
	viper.SetDefault("download.images_best_effort", true)
	viper.SetDefault("download.output_dir", "downloads")
	viper.SetDefault("download.separator", "")
	viper.SetDefault("log.level", "info")

	home, err := os.UserHomeDir()
	if err == nil {
		viper.SetDefault("data.path", filepath.Join(home, ".novels", "novels.db"))
		viper.SetDefault("account.cookie_file", filepath.Join(home, ".novels", "cookies.json"))
	} else {
		viper.SetDefault("data.path", "novels.db")
		viper.SetDefault("account.cookie_file", "cookies.json")
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".novels")
		viper.SetConfigType("yaml")
		if home != "" {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("NOVELS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn().Err(err).Msg("config file unreadable, using defaults")
		}
	}

	log.DefaultLogger = log.Logger{
		Level:      log.ParseLevel(viper.GetString("log.level")),
		TimeFormat: time.RFC3339,
		Writer:     &log.ConsoleWriter{Writer: os.Stderr, ColorOutput: true},
	}
}

func newSource() *sources.Esjzone {
	cookieFile := viper.GetString("account.cookie_file")
	auth, err := sources.LoadCookieFile(cookieFile)
	if err != nil {
		log.Warn().Err(err).Str("file", cookieFile).Msg("cookie file unreadable, continuing without a session")
	}
	return sources.NewEsjzone(auth)
}

func newRepository() (*data.Repository, error) {
	return data.NewRepository(viper.GetString("data.path"))
}

func downloadOptions() services.Options {
	opts := services.DefaultOptions()
	opts.MaxThreads = viper.GetInt("download.threads")
	opts.ImageThreads = viper.GetInt("download.image_threads")
	opts.Timeout = viper.GetDuration("download.timeout")
	opts.RetryAttempts = uint(viper.GetInt("download.retries"))
	opts.Format = viper.GetString("download.format")
	opts.NamingMode = viper.GetString("download.naming")
	opts.UseBookDir = viper.GetBool("download.use_book_dir")
	opts.ImagesBestEffort = viper.GetBool("download.images_best_effort")
	opts.TextOnly = viper.GetBool("download.text_only")
	opts.TextSeparator = viper.GetString("download.separator")
	opts.OutputDir = viper.GetString("download.output_dir")
	return opts
}
