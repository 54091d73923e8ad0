// Command downloaderservice downloads one URL and reports progress as JSON
// lines on stdout. The last line is a result envelope; the exit status is 0
// on success and 1 otherwise.
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mikoworkspace/mikoproxy/download"
	"github.com/mikoworkspace/mikoproxy/httpclient"
)

// errReported marks failures whose envelope was already printed.
var errReported = errors.New("reported")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cmd := newCommand(stdout, logger)
	cmd.SetArgs(args)
	cmd.SetOut(stderr)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			download.WriteLine(stdout, download.ErrorEnvelope(err.Error()))
		}
		return 1
	}
	return 0
}

func newCommand(stdout io.Writer, logger *slog.Logger) *cobra.Command {
	var rawHeaders []string
	cmd := &cobra.Command{
		Use:           "downloaderservice <URL> <OUTPUT_PATH>",
		Short:         "Download one file and stream progress as JSON lines",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return errors.New(`usage: downloaderservice <URL> <OUTPUT_PATH> [-H "Name: Value"]...`)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			headers := make([]download.Header, 0, len(rawHeaders))
			for _, raw := range rawHeaders {
				h, err := download.ParseHeader(raw)
				if err != nil {
					return err
				}
				headers = append(headers, h)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := httpclient.New(httpclient.DefaultConfig())
			// Downloads may take far longer than an API call.
			client.Timeout = 0
			f := &download.Fetcher{Client: client, Out: stdout}
			path, err := f.Fetch(ctx, args[0], args[1], headers)
			if err != nil {
				logger.Error("download failed", "url", args[0], "error", err)
				download.WriteLine(stdout, download.ErrorEnvelope(err.Error()))
				return errReported
			}
			download.WriteLine(stdout, download.SuccessEnvelope(path))
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&rawHeaders, "header", "H", nil, `Request header, "Name: Value" (repeatable)`)
	return cmd
}
