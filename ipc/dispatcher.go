package ipc

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mikoworkspace/mikoproxy/download"
	"github.com/mikoworkspace/mikoproxy/events"
	"github.com/mikoworkspace/mikoproxy/platform"
)

// Downloads starts downloads. *download.Supervisor satisfies it.
type Downloads interface {
	Start(ctx context.Context, req download.Request) (string, error)
	Dir() string
}

// DialogResult is the detail of a dialog-result event.
type DialogResult struct {
	RequestID   string `json:"requestId"`
	Result      string `json:"result"`
	ButtonIndex int    `json:"buttonIndex"`
}

// Dispatcher routes parsed commands to the download supervisor and the
// desktop.
type Dispatcher struct {
	downloads Downloads
	desktop   platform.Capabilities
	bus       *events.Bus
	logger    *slog.Logger

	wg sync.WaitGroup
}

func NewDispatcher(downloads Downloads, desktop platform.Capabilities, bus *events.Bus, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		downloads: downloads,
		desktop:   desktop,
		bus:       bus,
		logger:    logger.With("component", "ipc"),
	}
}

// Dispatch parses raw and performs it. Dialogs are shown in the background;
// their answer arrives as a dialog-result event.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) error {
	cmd, err := Parse(raw)
	if err != nil {
		d.logger.Warn("rejected command", "error", err)
		return err
	}

	switch c := cmd.(type) {
	case StartDownload:
		id, err := d.downloads.Start(ctx, c.Request)
		if err != nil {
			d.logger.Warn("download not started", "download_id", id, "url", c.URL, "error", err)
			return err
		}
		d.logger.Info("download requested", "download_id", id, "url", c.URL)
		return nil

	case ShowInFolder:
		path := d.downloads.Dir()
		if c.Filename != "" {
			if path, err = download.ResolveOutputPath(d.downloads.Dir(), c.Filename, ""); err != nil {
				d.logger.Warn("show_in_folder rejected", "filename", c.Filename, "error", err)
				return err
			}
		}
		return d.desktop.RevealInFolder(ctx, path)

	case ShowNotification:
		return d.desktop.Notify(ctx, c.Notification)

	case ShowDialog:
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.showDialog(context.WithoutCancel(ctx), c)
		}()
		return nil

	default:
		d.logger.Info("ignoring unknown command", "type", cmd.Type())
		return nil
	}
}

func (d *Dispatcher) showDialog(ctx context.Context, c ShowDialog) {
	res, err := d.desktop.ShowDialog(ctx, c.Dialog)
	if err != nil {
		d.logger.Warn("dialog failed, using default answer", "request_id", c.RequestID, "error", err)
		res = c.DefaultResult()
	}
	detail := DialogResult{RequestID: c.RequestID, Result: res.Result, ButtonIndex: res.ButtonIndex}
	if err := d.bus.PublishJSON(ctx, events.DialogResult, c.RequestID, detail); err != nil {
		d.logger.Warn("dropping dialog result", "request_id", c.RequestID, "error", err)
	}
}

// Wait blocks until every open dialog has been answered.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
