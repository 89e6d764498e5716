// Package fileloader reads the YAML configuration layout.
package fileloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/reg-armada/internal/config"
)

// FileLoader implements config.Loader for a YAML file on disk.
type FileLoader struct {
	path string
}

// NewFileLoader returns a FileLoader for path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Load decodes the file into a Config. Unknown keys are rejected so a typo
// never silently falls back to a default. An empty file yields a zero Config
// that the environment overlay may still complete.
func (l *FileLoader) Load(ctx context.Context) (*config.Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()

	var cfg config.Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config %s: %w", l.path, err)
	}
	return &cfg, nil
}
