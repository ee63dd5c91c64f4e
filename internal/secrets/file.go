package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileConfig configures the file-based secrets provider.
type FileConfig struct {
	// Path to the JSON secrets file.
	Path string
	// CreateIfMissing writes an empty file when none exists.
	CreateIfMissing bool
}

// FileProvider keeps secrets in a JSON file on local disk. It exists for
// development setups where neither Vault nor the environment is
// convenient. The embedding API key and store DSN it holds are plain
// text, so the file must stay private to the service user; a file
// readable by group or world is refused on load.
type FileProvider struct {
	path string
	mu   sync.RWMutex
	data map[string]string
}

// NewFileProvider creates a file-based secrets provider. A missing file
// behaves as an empty provider; the first Set creates it.
func NewFileProvider(config *FileConfig) (*FileProvider, error) {
	if config == nil || config.Path == "" {
		return nil, fmt.Errorf("file path required")
	}

	p := &FileProvider{
		path: config.Path,
		data: make(map[string]string),
	}

	err := p.load()
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		if config.CreateIfMissing {
			if err := p.flush(); err != nil {
				return nil, fmt.Errorf("create secrets file: %w", err)
			}
		}
	default:
		return nil, fmt.Errorf("load secrets file: %w", err)
	}

	return p, nil
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Get(ctx context.Context, key string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	val, ok := p.data[key]
	if !ok {
		return "", fmt.Errorf("secret not found: %s", key)
	}
	return val, nil
}

func (p *FileProvider) Set(ctx context.Context, key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.data[key] = value
	return p.flush()
}

func (p *FileProvider) Delete(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.data, key)
	return p.flush()
}

// Reload re-reads the file, picking up edits made outside the process.
func (p *FileProvider) Reload() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load()
}

func (p *FileProvider) load() error {
	info, err := os.Stat(p.path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return fmt.Errorf("secrets file %s is readable by other users (mode %04o), tighten to 0600", p.path, perm)
	}

	raw, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}
	data := make(map[string]string)
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parse %s: %w", p.path, err)
	}
	p.data = data
	return nil
}

func (p *FileProvider) flush() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	raw, err := json.MarshalIndent(p.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}
	return os.WriteFile(p.path, raw, 0o600)
}
