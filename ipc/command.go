// Package ipc turns UI messages into core actions and streams core events
// back to the UI.
package ipc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mikoworkspace/mikoproxy/download"
	"github.com/mikoworkspace/mikoproxy/platform"
)

// Command types, as sent in the "type" field.
const (
	TypeStartDownload    = "start_download"
	TypeShowInFolder     = "show_in_folder"
	TypeShowNotification = "show_notification"
	TypeShowDialog       = "show_dialog"
)

// ErrMalformedCommand is returned for messages that are not JSON objects
// with a string type, or whose payload does not fit their type.
var ErrMalformedCommand = errors.New("malformed command")

// Command is one parsed UI message.
type Command interface {
	Type() string
}

type StartDownload struct {
	download.Request
}

type ShowInFolder struct {
	Filename string `json:"filename"`
}

type ShowNotification struct {
	platform.Notification
}

type ShowDialog struct {
	platform.Dialog
	RequestID string `json:"requestId"`
}

// Unknown is any message with an unrecognized type. It is ignored.
type Unknown struct {
	Kind string
}

func (StartDownload) Type() string    { return TypeStartDownload }
func (ShowInFolder) Type() string     { return TypeShowInFolder }
func (ShowNotification) Type() string { return TypeShowNotification }
func (ShowDialog) Type() string       { return TypeShowDialog }
func (u Unknown) Type() string        { return u.Kind }

// Parse decodes one UI message.
func Parse(raw []byte) (Command, error) {
	var head struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	if head.Type == nil {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedCommand)
	}

	switch *head.Type {
	case TypeStartDownload:
		var msg struct {
			URL      string          `json:"url"`
			Filename string          `json:"filename"`
			Headers  json.RawMessage `json:"headers"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
		}
		if msg.URL == "" {
			return nil, fmt.Errorf("%w: start_download needs a url", ErrMalformedCommand)
		}
		headers, err := parseHeaders(msg.Headers)
		if err != nil {
			return nil, err
		}
		return StartDownload{download.Request{URL: msg.URL, Filename: msg.Filename, Headers: headers}}, nil

	case TypeShowInFolder:
		var cmd ShowInFolder
		if err := json.Unmarshal(raw, &cmd); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
		}
		return cmd, nil

	case TypeShowNotification:
		var cmd ShowNotification
		if err := json.Unmarshal(raw, &cmd); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
		}
		return cmd, nil

	case TypeShowDialog:
		var cmd ShowDialog
		if err := json.Unmarshal(raw, &cmd); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
		}
		switch cmd.Kind {
		case platform.DialogConfirm, platform.DialogInfo, platform.DialogError,
			platform.DialogWarning, platform.DialogOKCancel, platform.DialogYesNoCancel:
		default:
			return nil, fmt.Errorf("%w: unknown dialogType %q", ErrMalformedCommand, cmd.Kind)
		}
		if cmd.RequestID == "" {
			cmd.RequestID = uuid.NewString()
		}
		return cmd, nil
	}
	return Unknown{Kind: *head.Type}, nil
}

// parseHeaders accepts an object (order kept), an array of "Name: Value"
// strings, or an array of {name, value} objects.
func parseHeaders(raw json.RawMessage) ([]download.Header, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var headers []download.Header
	switch raw[0] {
	case '{':
		dec := json.NewDecoder(bytes.NewReader(raw))
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("%w: headers: %v", ErrMalformedCommand, err)
		}
		for dec.More() {
			key, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("%w: headers: %v", ErrMalformedCommand, err)
			}
			var value string
			if err := dec.Decode(&value); err != nil {
				return nil, fmt.Errorf("%w: header %v: %v", ErrMalformedCommand, key, err)
			}
			headers = append(headers, download.Header{Name: key.(string), Value: value})
		}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("%w: headers: %v", ErrMalformedCommand, err)
		}
		for _, item := range items {
			var line string
			if err := json.Unmarshal(item, &line); err == nil {
				h, err := download.ParseHeader(line)
				if err != nil {
					return nil, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
				}
				headers = append(headers, h)
				continue
			}
			var h download.Header
			if err := json.Unmarshal(item, &h); err != nil {
				return nil, fmt.Errorf("%w: headers: %v", ErrMalformedCommand, err)
			}
			headers = append(headers, h)
		}
	default:
		return nil, fmt.Errorf("%w: headers must be an object or an array", ErrMalformedCommand)
	}

	for _, h := range headers {
		if err := h.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
		}
	}
	return headers, nil
}
