package state

import (
	"context"
	"fmt"
)

// BackendConfig selects where the state document lives.
type BackendConfig struct {
	Type    string `yaml:"type" json:"type"` // "local" or "s3"
	Path    string `yaml:"path" json:"path"`
	Bucket  string `yaml:"bucket" json:"bucket"`
	Key     string `yaml:"key" json:"key"`
	Region  string `yaml:"region" json:"region"`
	Profile string `yaml:"profile" json:"profile"`
	Encrypt bool   `yaml:"encrypt" json:"encrypt"`
}

// NewBackend creates a state backend from configuration.
func NewBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	switch cfg.Type {
	case "local", "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("local state backend requires a path")
		}
		return NewManager(cfg.Path), nil
	case "s3":
		b, err := NewS3Backend(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
