package download

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// ErrInvalidHeader is returned for headers that cannot be sent on the wire.
var ErrInvalidHeader = errors.New("invalid header")

// Header is one request header passed to the downloader as -H "Name: Value".
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ParseHeader splits "Name: Value" at the first colon.
func ParseHeader(s string) (Header, error) {
	name, value, ok := strings.Cut(s, ":")
	if !ok {
		return Header{}, fmt.Errorf("%w: %q has no colon", ErrInvalidHeader, s)
	}
	h := Header{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)}
	return h, h.Validate()
}

// Validate checks that h is a legal HTTP header field.
func (h Header) Validate() error {
	if !httpguts.ValidHeaderFieldName(h.Name) {
		return fmt.Errorf("%w: bad name %q", ErrInvalidHeader, h.Name)
	}
	if !httpguts.ValidHeaderFieldValue(h.Value) {
		return fmt.Errorf("%w: bad value for %q", ErrInvalidHeader, h.Name)
	}
	return nil
}

// String returns the -H argument form.
func (h Header) String() string {
	return h.Name + ": " + h.Value
}
