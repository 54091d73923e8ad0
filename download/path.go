package download

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidFilename is returned when a requested file name would land
// outside the downloads directory.
var ErrInvalidFilename = errors.New("invalid filename")

// DefaultFilename is used when the URL has no usable last path segment.
const DefaultFilename = "downloaded_file"

// isDirectory reports whether p names a directory rather than a file: it is
// empty, "." or ends in a path separator.
func isDirectory(p string) bool {
	return p == "" || p == "." || strings.HasSuffix(p, "/") || strings.HasSuffix(p, `\`)
}

// URLFilename returns the last path segment of rawURL, or DefaultFilename.
func URLFilename(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return DefaultFilename
	}
	name := path.Base(u.Path)
	// An escaped separator must not turn into a directory.
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	switch name {
	case "", ".", "..", "/":
		return DefaultFilename
	}
	return name
}

// TargetPath applies the downloader's output rule: a directory-like
// outputPath gets the URL's file name appended; anything else is used as
// the file path.
func TargetPath(outputPath, rawURL string) string {
	if !isDirectory(outputPath) {
		return outputPath
	}
	name := URLFilename(rawURL)
	if outputPath == "" || outputPath == "." {
		return name
	}
	return filepath.Join(outputPath, name)
}

// ResolveOutputPath returns the absolute file a download of rawURL requested
// as filename should be written to. filename is relative to dir (or an
// absolute path inside it) and may name a directory, see TargetPath. The
// result is NFC-normalized and always inside dir.
func ResolveOutputPath(dir, filename, rawURL string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving downloads directory: %w", err)
	}
	filename = norm.NFC.String(filename)

	rel := filename
	if filepath.IsAbs(filename) {
		if rel, err = filepath.Rel(absDir, filename); err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
		}
		if isDirectory(filename) {
			rel += string(filepath.Separator)
		}
	}

	target := TargetPath(rel, rawURL)
	target = norm.NFC.String(filepath.Clean(target))
	if !filepath.IsLocal(target) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return filepath.Join(absDir, target), nil
}
