package source

import (
	"context"
	"fmt"
	"os"
)

// FileSource reads signal lines from a local file dropped by an external
// bridge (an MT5 expert advisor or similar).
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (f *FileSource) Name() string { return "file" }

// Fetch reads the whole file. A missing file means no pending signal, not an
// error: the bridge only creates the file when it has something to say.
func (f *FileSource) Fetch(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read signal file %s: %w", f.path, err)
	}
	return string(data), true, nil
}

// Clear truncates the file in place rather than deleting it, so the bridge
// keeps its file handle valid.
func (f *FileSource) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Truncate(f.path, 0); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("truncate signal file %s: %w", f.path, err)
	}
	return nil
}
