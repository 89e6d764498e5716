package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Loader provides configuration loading capabilities. It abstracts the source
// of configuration to allow for different implementations like YAML files or
// the legacy INI layout.
type Loader interface {
	// Load retrieves and parses the configuration from the underlying source.
	// It returns the parsed configuration or an error if loading fails.
	Load(ctx context.Context) (*Config, error)
}

// Finalize overlays REG_* environment variables onto cfg, applies defaults and
// validates the result. environ overrides the process environment when non-nil.
func Finalize(cfg *Config, environ map[string]string) error {
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	cfg.ApplyDefaults()

	if err := Validate(cfg); err != nil {
		return err
	}
	return nil
}

// Validate checks cfg against its validate tags.
func Validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q check", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Registration.Phone == PhoneSourceLocal && len(cfg.Registration.PhoneList) == 0 {
		return errors.New("invalid config: registration.phone_list is required when registration.phone is local")
	}
	return nil
}
