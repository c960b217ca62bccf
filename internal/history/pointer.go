package history

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
	"github.com/rotisserie/eris"
)

// ActivePointer persists the token of the wiki that is currently open. Its
// lifecycle is independent of the visit history.
type ActivePointer struct {
	mu   sync.Mutex
	path string
}

// NewActivePointer returns a pointer stored at path.
func NewActivePointer(path string) (*ActivePointer, error) {
	if strings.TrimSpace(path) == "" {
		return nil, eris.New("active wiki pointer path is required")
	}
	return &ActivePointer{path: path}, nil
}

// Get returns the active token, or "" when none is set.
func (p *ActivePointer) Get() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	raw, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", eris.Wrapf(err, "reading active wiki pointer: %s", p.path)
	}

	return strings.TrimSpace(string(raw)), nil
}

// Set replaces the active token. The file is swapped atomically so a reader
// never observes a partial write.
func (p *ActivePointer) Set(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return eris.New("token is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return eris.Wrapf(err, "creating pointer directory for %s", p.path)
	}

	if err := atomic.WriteFile(p.path, strings.NewReader(token+"\n")); err != nil {
		return eris.Wrapf(err, "writing active wiki pointer: %s", p.path)
	}
	return nil
}

// Clear removes the active token. Clearing an unset pointer is a no-op.
func (p *ActivePointer) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.Remove(p.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrapf(err, "clearing active wiki pointer: %s", p.path)
	}
	return nil
}
