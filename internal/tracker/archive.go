package tracker

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Archive keeps processed bill images on disk so a bad extraction can be
// re-checked against the original photo.
type Archive interface {
	// Save stores an image and returns the name it was stored under.
	Save(filename string, data []byte) (string, error)
}

// LocalArchive implements Archive on a local directory
type LocalArchive struct {
	basePath string
}

// NewLocalArchive creates the archive directory if it does not exist
func NewLocalArchive(basePath string) (*LocalArchive, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	return &LocalArchive{basePath: basePath}, nil
}

// Save writes an image file into the archive directory
func (a *LocalArchive) Save(filename string, data []byte) (string, error) {
	name := sanitizeFilename(filename)
	path := filepath.Join(a.basePath, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return name, nil
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	multiSpace  = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up phone-generated filenames: strips special
// characters, collapses whitespace and truncates overlong names.
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	base = unsafeChars.ReplaceAllString(base, "")
	base = multiSpace.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	const maxLen = 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}
	if base == "" {
		base = "bill"
	}

	return base + ext
}
