package config

import (
	"sync"

	"github.com/jvs-project/motion/pkg/logging"
)

// Source yields the configuration for one operation. Callers read it once
// at the start of an operation and use that value throughout.
type Source interface {
	Current() Config
}

// Static is a Source that never changes.
type Static struct {
	cfg Config
}

// NewStatic returns a Source serving a copy of cfg.
func NewStatic(cfg *Config) *Static {
	return &Static{cfg: *cfg}
}

func (s *Static) Current() Config {
	return s.cfg
}

// FileSource re-reads a config file on every Current call so that edits
// apply to the next operation. A file that fails to load leaves the last
// good value in place.
type FileSource struct {
	path string

	mu   sync.Mutex
	last Config
}

// NewFileSource loads path once and returns a Source backed by it.
func NewFileSource(path string) (*FileSource, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &FileSource{path: path, last: *cfg}, nil
}

func (s *FileSource) Current() Config {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := Load(s.path)
	if err != nil {
		logging.Warn("config reload failed, keeping previous values", map[string]any{
			"path":  s.path,
			"error": err.Error(),
		})
		return s.last
	}
	s.last = *cfg
	return s.last
}
