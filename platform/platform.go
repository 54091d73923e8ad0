// Package platform adapts desktop capabilities (notifications, revealing
// files, dialogs) to the host OS.
package platform

import (
	"context"
	"errors"
	"log/slog"
)

// Dialog kinds.
const (
	DialogConfirm     = "confirm"
	DialogInfo        = "info"
	DialogError       = "error"
	DialogWarning     = "warning"
	DialogOKCancel    = "ok_cancel"
	DialogYesNoCancel = "yes_no_cancel"
)

// ErrUnsupported is returned when the host has no way to perform an action.
var ErrUnsupported = errors.New("not supported on this platform")

// Notification is a desktop notification.
type Notification struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Icon     string `json:"icon,omitempty"`
	ChatUUID string `json:"chat_uuid,omitempty"`
}

// Dialog is a modal question for the user.
type Dialog struct {
	Kind       string `json:"dialogType"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	OKText     string `json:"okText,omitempty"`
	CancelText string `json:"cancelText,omitempty"`
}

// DialogResult is the user's answer. ButtonIndex counts from 0 in the order
// the buttons are listed for the dialog kind.
type DialogResult struct {
	Result      string `json:"result"`
	ButtonIndex int    `json:"buttonIndex"`
}

// Buttons returns the button labels for d, first button first.
func (d Dialog) Buttons() []string {
	ok := d.OKText
	cancel := d.CancelText
	switch d.Kind {
	case DialogConfirm, DialogOKCancel:
		if ok == "" {
			ok = "OK"
		}
		if cancel == "" {
			cancel = "Cancel"
		}
		return []string{ok, cancel}
	case DialogYesNoCancel:
		return []string{"Yes", "No", "Cancel"}
	default:
		if ok == "" {
			ok = "OK"
		}
		return []string{ok}
	}
}

// DefaultResult is the answer used when no dialog can be shown: the first
// button.
func (d Dialog) DefaultResult() DialogResult {
	return d.result(0)
}

func (d Dialog) result(index int) DialogResult {
	return DialogResult{Result: d.resultName(index), ButtonIndex: index}
}

func (d Dialog) resultName(index int) string {
	switch d.Kind {
	case DialogYesNoCancel:
		return [...]string{"yes", "no", "cancel"}[index]
	case DialogConfirm, DialogOKCancel:
		if index == 0 {
			return "ok"
		}
		return "cancel"
	default:
		return "ok"
	}
}

// Capabilities is what the core needs from the desktop.
type Capabilities interface {
	Notify(ctx context.Context, n Notification) error
	RevealInFolder(ctx context.Context, path string) error
	ShowDialog(ctx context.Context, d Dialog) (DialogResult, error)
}

// Log is a headless Capabilities that only logs. Dialogs get their
// default answer.
type Log struct {
	Logger *slog.Logger
}

var _ Capabilities = Log{}

func (l Log) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func (l Log) Notify(ctx context.Context, n Notification) error {
	l.logger().InfoContext(ctx, "notification", "title", n.Title, "message", n.Message)
	return nil
}

func (l Log) RevealInFolder(ctx context.Context, path string) error {
	l.logger().InfoContext(ctx, "reveal in folder", "path", path)
	return nil
}

func (l Log) ShowDialog(ctx context.Context, d Dialog) (DialogResult, error) {
	res := d.DefaultResult()
	l.logger().InfoContext(ctx, "dialog", "kind", d.Kind, "title", d.Title, "result", res.Result)
	return res, nil
}
