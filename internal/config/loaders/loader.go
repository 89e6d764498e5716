package loaders

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/ahrav/reg-armada/internal/config"
	"github.com/ahrav/reg-armada/internal/config/fileloader"
	"github.com/ahrav/reg-armada/internal/config/iniloader"
)

// ForPath picks a Loader from the file extension. Anything that is not .ini
// is treated as YAML.
func ForPath(path string) config.Loader {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ini":
		return iniloader.New(path)
	default:
		return fileloader.NewFileLoader(path)
	}
}

// Load reads path, overlays the environment, applies defaults and validates.
func Load(ctx context.Context, path string) (*config.Config, error) {
	cfg, err := ForPath(path).Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := config.Finalize(cfg, nil); err != nil {
		return nil, err
	}
	return cfg, nil
}
