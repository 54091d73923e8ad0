package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mikoworkspace/mikoproxy/download"
	"github.com/mikoworkspace/mikoproxy/events"
	"github.com/mikoworkspace/mikoproxy/platform"
)

var (
	downloadHeaders []string
	downloadDir     string
	downloadNotify  bool
)

var downloadCmd = &cobra.Command{
	Use:   "download <url> [filename]",
	Short: "Download a file through the downloader, as the desktop UI does",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if downloadDir != "" {
			cfg.Downloads.Dir = downloadDir
		}
		req := download.Request{URL: args[0]}
		if len(args) == 2 {
			req.Filename = args[1]
		}
		for _, raw := range downloadHeaders {
			h, err := download.ParseHeader(raw)
			if err != nil {
				return err
			}
			req.Headers = append(req.Headers, h)
		}

		var notifier download.Notifier = platform.Log{Logger: logger}
		if downloadNotify {
			notifier = platform.NewDesktop(logger)
		}
		bus := events.NewBus(events.DefaultCapacity)
		sup := download.NewSupervisor(cfg.Downloads.Downloader, cfg.Downloads.Dir, bus,
			download.WithLogger(logger), download.WithNotifier(notifier))

		// The downloader runs in its own process group and does not see
		// the terminal's interrupt.
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		go func() {
			<-ctx.Done()
			sup.Shutdown(context.Background())
		}()

		var last download.Progress
		show := func(e events.Event) {
			if e.Name != events.DownloadProgress {
				return
			}
			var p download.Progress
			if json.Unmarshal(e.Detail, &p) != nil || p.URL == "" {
				return
			}
			last = p
			printProgress(cmd.OutOrStdout(), p)
		}

		printCtx, stopPrinting := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				e, err := bus.Receive(printCtx)
				if err != nil {
					return
				}
				show(e)
			}
		}()

		_, startErr := sup.Start(ctx, req)
		sup.Wait()
		stopPrinting()
		<-done
		for _, e := range bus.Drain(0) {
			show(e)
		}

		if startErr != nil {
			return startErr
		}
		if last.Status != download.StatusCompleted {
			return errors.New("download failed")
		}
		return nil
	},
}

func printProgress(w io.Writer, p download.Progress) {
	switch p.Status {
	case download.StatusDownloading:
		total := "?"
		if p.TotalSize > 0 {
			total = humanize.IBytes(p.TotalSize)
		}
		eta := ""
		if p.EtaHuman != nil {
			eta = ", " + *p.EtaHuman + " left"
		}
		fmt.Fprintf(w, "%3.0f%%  %s / %s  %s%s\n", p.ProgressPercent, humanize.IBytes(p.Downloaded), total, p.DownloadSpeedHuman, eta)
	case download.StatusCompleted:
		color.New(color.FgGreen).Fprintf(w, "Saved %s (%s)\n", p.Filename, humanize.IBytes(p.Downloaded))
	case download.StatusError:
		msg := "unknown error"
		if p.Error != nil {
			msg = *p.Error
		}
		color.New(color.FgRed).Fprintf(w, "Failed to download %s: %s\n", p.Filename, msg)
	default:
		fmt.Fprintf(w, "%s %s\n", p.Status, p.URL)
	}
}

func init() {
	rootCmd.AddCommand(downloadCmd)
	downloadCmd.Flags().StringArrayVarP(&downloadHeaders, "header", "H", nil, `Request header, "Name: Value" (repeatable)`)
	downloadCmd.Flags().StringVar(&downloadDir, "dir", "", "Downloads directory (default from config)")
	downloadCmd.Flags().BoolVar(&downloadNotify, "notify", false, "Show a desktop notification when done")
}
