package platform

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
)

// Runner executes an external command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Desktop implements Capabilities with the host's own tools: osascript and
// open on macOS, PowerShell and explorer on Windows, notify-send, zenity
// and xdg-open elsewhere.
type Desktop struct {
	goos   string
	run    Runner
	logger *slog.Logger
}

var _ Capabilities = (*Desktop)(nil)

// NewDesktop returns a Desktop for the running OS.
func NewDesktop(logger *slog.Logger) *Desktop {
	return newDesktop(runtime.GOOS, execRunner, logger)
}

func newDesktop(goos string, run Runner, logger *slog.Logger) *Desktop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Desktop{goos: goos, run: run, logger: logger.With("component", "platform")}
}

func (d *Desktop) Notify(ctx context.Context, n Notification) error {
	var name string
	var args []string
	switch d.goos {
	case "darwin":
		name = "osascript"
		args = appleScript([]string{"display notification (item 1 of argv) with title (item 2 of argv)"}, n.Message, n.Title)
	case "windows":
		name = "powershell"
		args = []string{"-NoProfile", "-NonInteractive", "-Command", windowsToast(n)}
	default:
		name = "notify-send"
		args = []string{"--app-name=mikoproxy"}
		if n.Icon != "" {
			args = append(args, "--icon="+n.Icon)
		}
		args = append(args, "--", n.Title, n.Message)
	}
	if _, err := d.run(ctx, name, args...); err != nil {
		d.logger.Warn("notification failed", "tool", name, "error", err)
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%s: %w", name, ErrUnsupported)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (d *Desktop) RevealInFolder(ctx context.Context, path string) error {
	var name string
	var args []string
	switch d.goos {
	case "darwin":
		name, args = "open", []string{"-R", path}
	case "windows":
		name, args = "explorer", []string{"/select," + path}
	default:
		// xdg-open cannot select a file; open its folder.
		name, args = "xdg-open", []string{parentDir(path)}
	}
	_, err := d.run(ctx, name, args...)
	// explorer exits 1 even when it succeeds.
	if err != nil && d.goos != "windows" {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (d *Desktop) ShowDialog(ctx context.Context, dlg Dialog) (DialogResult, error) {
	buttons := dlg.Buttons()
	switch d.goos {
	case "darwin":
		items := make([]string, len(buttons))
		for i := range buttons {
			items[i] = fmt.Sprintf("item %d of argv", i+3)
		}
		script := fmt.Sprintf("display dialog (item 1 of argv) with title (item 2 of argv) buttons {%s} default button (item 3 of argv)",
			strings.Join(items, ", "))
		out, err := d.run(ctx, "osascript", appleScript([]string{script}, append([]string{dlg.Message, dlg.Title}, buttons...)...)...)
		if err != nil {
			// osascript fails with "User canceled" for the cancel button.
			return dlg.result(len(buttons) - 1), nil
		}
		answer := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(string(out)), "button returned:"))
		for i, b := range buttons {
			if b == answer {
				return dlg.result(i), nil
			}
		}
		return dlg.DefaultResult(), nil
	case "windows":
		kind := map[string]string{
			DialogConfirm:     "OKCancel",
			DialogOKCancel:    "OKCancel",
			DialogYesNoCancel: "YesNoCancel",
		}[dlg.Kind]
		if kind == "" {
			kind = "OK"
		}
		script := fmt.Sprintf("Add-Type -AssemblyName PresentationFramework; [System.Windows.MessageBox]::Show(%s, %s, '%s')",
			psString(dlg.Message), psString(dlg.Title), kind)
		out, err := d.run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script)
		if err != nil {
			return DialogResult{}, fmt.Errorf("powershell: %w", err)
		}
		switch strings.TrimSpace(string(out)) {
		case "Cancel":
			return dlg.result(len(buttons) - 1), nil
		case "No":
			return dlg.result(1), nil
		default:
			return dlg.DefaultResult(), nil
		}
	default:
		var args []string
		switch dlg.Kind {
		case DialogConfirm, DialogOKCancel:
			args = []string{"--question", "--ok-label=" + buttons[0], "--cancel-label=" + buttons[1]}
		case DialogError:
			args = []string{"--error"}
		case DialogWarning:
			args = []string{"--warning"}
		case DialogInfo:
			args = []string{"--info"}
		default:
			d.logger.Info("dialog kind not supported, using default answer", "kind", dlg.Kind)
			return dlg.DefaultResult(), nil
		}
		args = append(args, "--title="+dlg.Title, "--text="+dlg.Message)
		if _, err := d.run(ctx, "zenity", args...); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && len(buttons) > 1 {
				return dlg.result(1), nil
			}
			if exitErr == nil {
				d.logger.Warn("zenity unavailable, using default answer", "error", err)
			}
		}
		return dlg.DefaultResult(), nil
	}
}

func parentDir(path string) string {
	i := strings.LastIndexAny(path, `/\`)
	if i <= 0 {
		return "."
	}
	return path[:i]
}

// appleScript wraps lines in a run handler and passes argv after them, so
// caller text never becomes script source.
func appleScript(lines []string, argv ...string) []string {
	args := []string{"-e", "on run argv"}
	for _, l := range lines {
		args = append(args, "-e", l)
	}
	args = append(args, "-e", "end run", "--")
	return append(args, argv...)
}

// psString yields a PowerShell expression evaluating to s. The text travels
// base64 encoded, which keeps every quote form PowerShell accepts out of the
// script.
func psString(s string) string {
	return fmt.Sprintf("([Text.Encoding]::UTF8.GetString([Convert]::FromBase64String('%s')))",
		base64.StdEncoding.EncodeToString([]byte(s)))
}

func windowsToast(n Notification) string {
	return fmt.Sprintf(`[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
$t = [Windows.UI.Notifications.ToastNotificationManager]::GetTemplateContent([Windows.UI.Notifications.ToastTemplateType]::ToastText02)
$x = $t.GetElementsByTagName('text')
$x.Item(0).AppendChild($t.CreateTextNode(%s)) | Out-Null
$x.Item(1).AppendChild($t.CreateTextNode(%s)) | Out-Null
[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier('mikoproxy').Show([Windows.UI.Notifications.ToastNotification]::new($t))`,
		psString(n.Title), psString(n.Message))
}
