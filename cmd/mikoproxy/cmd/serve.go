package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mikoworkspace/mikoproxy/config"
	"github.com/mikoworkspace/mikoproxy/internal/app"
	"github.com/mikoworkspace/mikoproxy/platform"
)

var (
	listenHost string
	listenPort int
	upstream   string
	ephemeral  bool
	headless   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("host") {
			cfg.Listen.Host = listenHost
		}
		if cmd.Flags().Changed("port") {
			cfg.Listen.Port = listenPort
		}
		if upstream != "" {
			if err := cfg.SetUpstream(upstream); err != nil {
				return err
			}
		}
		if ephemeral {
			cfg.Sessions.Backend = config.BackendMemory
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var opts []app.Option
		if headless {
			opts = append(opts, app.WithDesktop(platform.Log{Logger: logger}))
		}
		application, err := app.New(ctx, cfg, logger, opts...)
		if err != nil {
			return err
		}
		if err := application.Start(ctx); err != nil {
			return err
		}

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Mount("/", application.Handler())

		server := &http.Server{
			Addr:              cfg.Listen.Addr(),
			Handler:           h2c.NewHandler(r, &http2.Server{}),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		logger.Info("proxy listening",
			"addr", cfg.Listen.Addr(),
			"upstream", cfg.UpstreamURL(),
			"sessions", application.Sessions.Location(),
			"downloads", cfg.Downloads.Dir,
		)

		var serveErr error
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
		case serveErr = <-done:
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			serveErr = errors.Join(serveErr, fmt.Errorf("server shutdown failed: %w", err))
		}
		if err := application.Shutdown(shutdownCtx); err != nil {
			serveErr = errors.Join(serveErr, err)
		}
		return serveErr
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&listenHost, "host", "0.0.0.0", "Address to listen on")
	serveCmd.Flags().IntVarP(&listenPort, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&upstream, "upstream", "", "ERP base URL used for login and token validation")
	serveCmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "Keep sessions in memory only")
	serveCmd.Flags().BoolVar(&headless, "headless", false, "Log notifications and dialogs instead of showing them")
}
