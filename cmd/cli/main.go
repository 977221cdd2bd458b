package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tiktok-extractor/internal/app"
	"tiktok-extractor/internal/config"
	"tiktok-extractor/internal/downloader"
	"tiktok-extractor/internal/export"
	"tiktok-extractor/internal/server"
	"tiktok-extractor/internal/tui"
	"tiktok-extractor/internal/utils"
	"tiktok-extractor/pkg/models"
)

var (
	configPath string
	outputPath string
	formatID   string
	limit      int
	workers    int
	verbose    bool

	listPlatform string
	listStatus   string
	listUploader string
	listLimit    int
	listSearch   string
	exportLimit  int
	retryAll     bool

	exportFormat  string
	exportColumns []string
)

var rootCmd = &cobra.Command{
	Use:   "tiktok-extractor",
	Short: "Extract and download videos and collections from TikTok and Douyin",
	Long: `TikTok Extractor resolves TikTok and Douyin URLs into video metadata,
ranked formats and subtitles, and walks user, sound, effect and tag
collections page by page.

Features:
- Video, user, sound, effect and tag URLs
- vm.tiktok.com short links
- Mobile API with app version negotiation and webpage fallback
- Resumable downloads with SRT subtitles
- SQLite archive with CSV, XLSX, JSON and TXT export
- HTTP API and terminal UI`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func newApp(opts ...app.Option) (*app.App, error) {
	if workers > 0 {
		opts = append(opts, app.WithWorkers(workers))
	}
	a, err := app.New(configPath, opts...)
	if err != nil {
		return nil, err
	}
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	return a, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

var infoCmd = &cobra.Command{
	Use:   "info [url]",
	Short: "Show video or collection information without downloading",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signalContext()
		defer cancel()

		result, err := a.Downloader.Process(ctx, args[0], downloader.Options{Limit: limit})
		if result == nil {
			return fmt.Errorf("error extracting %s: %w", args[0], err)
		}

		if result.Record != nil {
			printRecord(result.Record)
		} else {
			printPlaylist(result)
		}
		if err != nil {
			fmt.Printf("⚠️  Listing stopped early: %v\n", err)
		}
		return nil
	},
}

var playlistCmd = &cobra.Command{
	Use:   "playlist [url]",
	Short: "List the entries of a user, sound, effect or tag collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signalContext()
		defer cancel()

		result, err := a.Downloader.Process(ctx, args[0], downloader.Options{Limit: limit})
		if result == nil {
			return fmt.Errorf("error extracting %s: %w", args[0], err)
		}
		if result.Playlist == nil {
			return fmt.Errorf("%s is a single video, use info instead", args[0])
		}

		printPlaylist(result)
		if err != nil {
			fmt.Printf("⚠️  Listing stopped early: %v\n", err)
		}
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download [url]",
	Short: "Download a video, or every video of a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signalContext()
		defer cancel()

		fmt.Printf("Downloading from: %s\n", args[0])
		result, err := a.Downloader.Process(ctx, args[0], downloader.Options{
			Download:   true,
			OutputPath: outputPath,
			FormatID:   formatID,
			Limit:      limit,
			Progress:   printProgress,
		})
		fmt.Println()

		if result != nil && result.Playlist != nil {
			fmt.Printf("📚 %s %s: %d entries, %d failed\n",
				result.Playlist.Kind, result.Playlist.Title, len(result.Entries), result.Failed)
		}
		if err != nil {
			return fmt.Errorf("error downloading %s: %w", args[0], err)
		}

		if result.Record != nil {
			fmt.Printf("✅ Download completed: %s\n", result.Record.FilePath)
			fmt.Printf("   Duration: %s\n", utils.FormatDuration(time.Duration(result.Record.Duration)*time.Second))
		}
		return nil
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch [urls-file]",
	Short: "Download every URL listed in a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		urls, err := readURLsFromFile(args[0])
		if err != nil {
			return fmt.Errorf("error reading URLs file: %w", err)
		}
		if len(urls) == 0 {
			fmt.Println("No URLs found in file")
			return nil
		}
		fmt.Printf("Found %d URLs to download\n", len(urls))

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signalContext()
		defer cancel()

		results := a.Downloader.Batch(ctx, urls, downloader.Options{
			Download:   true,
			OutputPath: outputPath,
			FormatID:   formatID,
			Limit:      limit,
		})

		success, failed := 0, 0
		for _, result := range results {
			if result.Err != nil {
				failed++
				fmt.Printf("❌ %s: %v\n", result.URL, result.Err)
				continue
			}
			success++
			switch {
			case result.Record != nil:
				fmt.Printf("✅ %s\n", result.Record.FilePath)
			case result.Playlist != nil:
				fmt.Printf("✅ %s: %d entries, %d failed\n", result.URL, len(result.Entries), result.Failed)
			}
		}

		fmt.Printf("\nDownload summary: %d success, %d failed\n", success, failed)
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry [id]",
	Short: "Retry a failed download, or every failed download with --all",
	Args: func(cmd *cobra.Command, args []string) error {
		if retryAll {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signalContext()
		defer cancel()

		ids := args
		if retryAll {
			failed, err := a.Storage.GetFailedRecords()
			if err != nil {
				return fmt.Errorf("error listing failed records: %w", err)
			}
			ids = make([]string, len(failed))
			for i, r := range failed {
				ids[i] = r.ID
			}
			fmt.Printf("Retrying %d failed downloads\n", len(ids))
		}

		var errs []error
		for _, id := range ids {
			result, err := a.Downloader.Retry(ctx, id, downloader.Options{
				OutputPath: outputPath,
				FormatID:   formatID,
				Progress:   printProgress,
			})
			fmt.Println()
			if err != nil {
				fmt.Printf("❌ %s: %v\n", id, err)
				errs = append(errs, fmt.Errorf("error retrying %s: %w", id, err))
				continue
			}
			if result.Record != nil {
				fmt.Printf("✅ Download completed: %s\n", result.Record.FilePath)
			}
		}
		return errors.Join(errs...)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived records",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var records []*models.MediaRecord
		if listSearch != "" {
			records, err = a.Storage.SearchRecords(listSearch, listLimit)
		} else {
			records, err = a.Storage.ListRecords(recordFilter(listLimit))
		}
		if err != nil {
			return fmt.Errorf("error listing records: %w", err)
		}
		if len(records) == 0 {
			fmt.Println("No records found")
			return nil
		}

		fmt.Printf("📚 Records (%d)\n", len(records))
		for i, r := range records {
			fmt.Printf("\n%d. %s\n", i+1, r.Title)
			fmt.Printf("   Platform: %s | ID: %s | Uploader: %s\n", r.Platform, r.ID, r.Uploader)
			fmt.Printf("   Status: %s", r.Status)
			if r.ErrorMessage != "" {
				fmt.Printf(" (%s)", r.ErrorMessage)
			}
			fmt.Println()
			if r.DownloadedAt != nil {
				fmt.Printf("   Downloaded: %s to %s\n", r.DownloadedAt.Format("2006-01-02 15:04:05"), r.FilePath)
			}
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export archived records to CSV, XLSX, JSON or TXT",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format := export.ExportFormat(exportFormat)
		if format == "" {
			var err error
			if format, err = export.FormatFromPath(args[0]); err != nil {
				return err
			}
		}

		exportConfig := export.ExportConfig{
			Format:   format,
			FilePath: args[0],
			Columns:  exportColumns,
		}
		if err := export.ValidateConfig(exportConfig); err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.Storage.ListRecords(recordFilter(exportLimit))
		if err != nil {
			return fmt.Errorf("error listing records: %w", err)
		}

		if err := export.NewDataExporter(exportConfig).ExportRecords(records); err != nil {
			return fmt.Errorf("error exporting records: %w", err)
		}
		fmt.Printf("Exported %d records to %s\n", len(records), args[0])
		return nil
	},
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		srv, err := server.NewServer(a.Config, a.Storage, a.Downloader, a.Registry, a.Monitor, a.Logger)
		if err != nil {
			return err
		}

		a.Monitor.Start()
		fmt.Printf("🚀 Server listening on http://%s:%d\n", a.Config.Server.Host, a.Config.Server.Port)
		fmt.Println("Press Ctrl+C to stop the server")

		if err := srv.Run(); err != nil {
			return fmt.Errorf("error running server: %w", err)
		}
		return nil
	},
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Start the terminal UI",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTUI()
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var initConfigCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := configPath
		if dir == "" {
			dir = "./config"
		}
		if err := config.WriteDefault(dir); err != nil {
			return err
		}
		fmt.Printf("Configuration file created in %s\n", dir)
		return nil
	},
}

var showConfigCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cm := config.NewManager()
		if _, err := cm.Load(configPath); err != nil {
			return fmt.Errorf("error loading configuration: %w", err)
		}

		fmt.Printf("📋 Current Configuration\n")
		settings := flatten("", cm.Settings())
		keys := make([]string, 0, len(settings))
		for k := range settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("   %s: %v\n", k, settings[k])
		}
		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	for _, cmd := range []*cobra.Command{downloadCmd, batchCmd, retryCmd} {
		cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output directory")
		cmd.Flags().StringVarP(&formatID, "format", "f", "", "Format ID to download instead of the best one")
	}
	for _, cmd := range []*cobra.Command{infoCmd, playlistCmd, downloadCmd, batchCmd} {
		cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of collection entries (0 for all)")
	}
	batchCmd.Flags().IntVarP(&workers, "workers", "w", 0, "URLs processed at once")

	for _, cmd := range []*cobra.Command{listCmd, exportCmd} {
		cmd.Flags().StringVar(&listPlatform, "platform", "", "Only records of this platform")
		cmd.Flags().StringVar(&listStatus, "status", "", "Only records with this status")
		cmd.Flags().StringVar(&listUploader, "uploader", "", "Only records of this uploader")
	}
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 50, "Maximum number of records")
	listCmd.Flags().StringVarP(&listSearch, "search", "s", "", "Search titles and descriptions instead of filtering")
	retryCmd.Flags().BoolVar(&retryAll, "all", false, "Retry every failed download")
	exportCmd.Flags().IntVarP(&exportLimit, "limit", "n", 0, "Maximum number of records (0 for all)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "", "csv, xlsx, json or txt (default from the file extension)")
	exportCmd.Flags().StringSliceVar(&exportColumns, "columns", nil, "Columns to export")

	// Add commands
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(playlistCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(configCmd)

	// Config subcommands
	configCmd.AddCommand(initConfigCmd)
	configCmd.AddCommand(showConfigCmd)
}

func recordFilter(n int) models.RecordFilter {
	filter := models.RecordFilter{
		Limit:     n,
		OrderBy:   "collected_at",
		OrderDesc: true,
	}
	if listPlatform != "" {
		p := models.Platform(listPlatform)
		filter.Platform = &p
	}
	if listStatus != "" {
		filter.Status = &listStatus
	}
	if listUploader != "" {
		filter.Uploader = &listUploader
	}
	return filter
}

func runTUI() error {
	// the alternate screen owns stdout
	a, err := newApp(app.WithLogger(zerolog.Nop()))
	if err != nil {
		return err
	}
	defer a.Close()

	p := tea.NewProgram(tui.NewModel(a.Downloader, a.Storage), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func printRecord(r *models.MediaRecord) {
	fmt.Printf("📹 Video Information\n")
	fmt.Printf("   ID: %s\n", r.ID)
	fmt.Printf("   Title: %s\n", r.Title)
	fmt.Printf("   Platform: %s (%s)\n", r.Platform, r.Extractor)
	fmt.Printf("   Uploader: %s (%s)\n", r.Uploader, r.UploaderID)
	fmt.Printf("   Duration: %s\n", utils.FormatDuration(time.Duration(r.Duration)*time.Second))
	fmt.Printf("   Views: %d | Likes: %d | Comments: %d | Reposts: %d\n",
		r.ViewCount, r.LikeCount, r.CommentCount, r.RepostCount)
	if r.Timestamp > 0 {
		fmt.Printf("   Published: %s\n", time.Unix(r.Timestamp, 0).UTC().Format("2006-01-02 15:04:05"))
	}
	if r.Track != "" {
		fmt.Printf("   Music: %s by %s\n", r.Track, r.Artist)
	}
	fmt.Printf("   Availability: %s\n", r.Availability)
	fmt.Printf("   URL: %s\n", r.WebpageURL)

	if len(r.Subtitles) > 0 {
		langs := make([]string, 0, len(r.Subtitles))
		for lang := range r.Subtitles {
			langs = append(langs, lang)
		}
		sort.Strings(langs)
		fmt.Printf("   Subtitles: %s\n", strings.Join(langs, ", "))
	}

	fmt.Printf("\n   Formats (best first):\n")
	for i := len(r.Formats) - 1; i >= 0; i-- {
		f := r.Formats[i]
		line := fmt.Sprintf("   %-32s %5dx%-5d %-5s", f.FormatID, f.Width, f.Height, f.VCodec)
		if f.Filesize > 0 {
			line += " " + utils.FormatBytes(f.Filesize)
		}
		if f.FormatNote != "" {
			line += " " + f.FormatNote
		}
		fmt.Println(line)
	}
}

func printPlaylist(result *downloader.Result) {
	p := result.Playlist
	fmt.Printf("📚 %s: %s (%s)\n", p.Kind, p.Title, p.ID)
	if p.Nickname != "" {
		fmt.Printf("   Nickname: %s | Followers: %d | Following: %d\n", p.Nickname, p.FollowerCount, p.FollowingCount)
	}
	fmt.Printf("   Entries: %d\n", len(result.Entries))
	for i, r := range result.Entries {
		fmt.Printf("   %3d. %s  %s  %s\n", i+1, r.ID, r.Uploader, r.Title)
	}
}

func printProgress(downloaded, total int64) {
	if total > 0 {
		fmt.Printf("\r   %s / %s (%.0f%%)", utils.FormatBytes(downloaded), utils.FormatBytes(total),
			float64(downloaded)*100/float64(total))
		return
	}
	fmt.Printf("\r   %s", utils.FormatBytes(downloaded))
}

// flatten turns nested settings into dotted keys
func flatten(prefix string, settings map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for k, v := range settings {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}

func readURLsFromFile(filename string) ([]string, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	// Split by lines and filter empty lines and comments
	lines := strings.Split(string(content), "\n")
	var urls []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			urls = append(urls, line)
		}
	}

	return urls, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
