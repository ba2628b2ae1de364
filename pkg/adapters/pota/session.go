package pota

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// FileSessionDriver reads a session storage snapshot exported by the UI
// layer's sign-in flow. The file is re-read on every login so the UI can
// refresh it without restarting the service.
type FileSessionDriver struct {
	Path string
}

func (d *FileSessionDriver) Login(_ context.Context) (map[string]string, error) {
	raw, err := os.ReadFile(d.Path)
	if err != nil {
		return nil, fmt.Errorf("reading session snapshot: %w", err)
	}
	var storage map[string]string
	if err := json.Unmarshal(raw, &storage); err != nil {
		return nil, fmt.Errorf("parsing session snapshot %s: %w", d.Path, err)
	}
	return storage, nil
}
