// Package resource loads named game resources (shapes, palettes, textures).
// Names are matched case-insensitively, the way the game's archives did.
package resource

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/colorfulnotion/openfa/log"
)

var ErrNotFound = errors.New("resource not found")

// Library is the "load named resource bytes" boundary.
type Library interface {
	Load(name string) ([]byte, error)
	// Find lists the names matching a glob such as "*.SH".
	Find(pattern string) ([]string, error)
}

func key(name string) string { return strings.ToUpper(filepath.Base(name)) }

// DirLibrary serves the regular files of one directory.
type DirLibrary struct {
	dir string

	mu    sync.Mutex
	index map[string]string // upper-case name -> file name on disk
}

func NewDirLibrary(dir string) (*DirLibrary, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("resource dir: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("resource dir %s is not a directory", dir)
	}
	return &DirLibrary{dir: dir}, nil
}

func (l *DirLibrary) Dir() string { return l.dir }

func (l *DirLibrary) scan() (map[string]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.index != nil {
		return l.index, nil
	}
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", l.dir, err)
	}
	index := make(map[string]string, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		k := key(e.Name())
		if prev, dup := index[k]; dup {
			log.Warn(log.ToolModule, "duplicate resource name", "name", k, "kept", prev, "ignored", e.Name())
			continue
		}
		index[k] = e.Name()
	}
	l.index = index
	return index, nil
}

// Refresh drops the directory index so new files are seen.
func (l *DirLibrary) Refresh() {
	l.mu.Lock()
	l.index = nil
	l.mu.Unlock()
}

func (l *DirLibrary) Load(name string) ([]byte, error) {
	index, err := l.scan()
	if err != nil {
		return nil, err
	}
	file, ok := index[key(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return os.ReadFile(filepath.Join(l.dir, file))
}

func (l *DirLibrary) Find(pattern string) ([]string, error) {
	index, err := l.scan()
	if err != nil {
		return nil, err
	}
	return match(index, pattern)
}

func match(index map[string]string, pattern string) ([]string, error) {
	pattern = strings.ToUpper(pattern)
	var out []string
	for k, name := range index {
		ok, err := filepath.Match(pattern, k)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", pattern, err)
		}
		if ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// MemLibrary is an in-memory Library.
type MemLibrary struct {
	mu    sync.RWMutex
	files map[string][]byte
	names map[string]string
}

func NewMemLibrary() *MemLibrary {
	return &MemLibrary{files: make(map[string][]byte), names: make(map[string]string)}
}

func (l *MemLibrary) Add(name string, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.files[key(name)] = data
	l.names[key(name)] = name
}

func (l *MemLibrary) Load(name string) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	data, ok := l.files[key(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return data, nil
}

func (l *MemLibrary) Find(pattern string) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return match(l.names, pattern)
}
