package contextnorm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrFileNotFound is returned by LoadFile when the path does not exist.
var ErrFileNotFound = errors.New("file not found")

// LoadFile reads a context file. Files are treated as UTF-8 text, except
// that a .json file whose top level is an array or object is normalized as
// structured context.
func LoadFile(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Document{}, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return Document{}, fmt.Errorf("read context file: %w", err)
	}
	if !utf8.Valid(raw) {
		return Document{}, fmt.Errorf("context file %s is not valid UTF-8", path)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		trimmed := strings.TrimSpace(string(raw))
		if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
			if json.Valid(raw) {
				return Normalize(json.RawMessage(raw))
			}
		}
	}
	return Normalize(string(raw))
}
