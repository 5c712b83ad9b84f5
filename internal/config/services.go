package config

import (
	"context"
	"fmt"
	"os"

	"github.com/nholik/relay-sentinel/internal/compose"
	"github.com/nholik/relay-sentinel/internal/watchdog"
	"gopkg.in/yaml.v3"
)

// ServiceSource names where the monitored service table came from.
type ServiceSource string

const (
	SourceServicesFile ServiceSource = "services_file"
	SourceCompose      ServiceSource = "compose"
	SourceBuiltin      ServiceSource = "builtin"
)

// ServiceSet is the resolved service table plus its provenance.
type ServiceSet struct {
	Services []watchdog.ServiceSpec
	Source   ServiceSource
	// Fingerprint is the compose file hash; empty for other sources.
	Fingerprint string
}

// ServicesFile is the parsed YAML structure:
// services: [{name, port, container}]
type ServicesFile struct {
	Services []watchdog.ServiceSpec `yaml:"services"`
}

// LoadServicesFile parses a YAML services file from the given path.
// Returns nil if path is empty (no services file).
func LoadServicesFile(path string) ([]watchdog.ServiceSpec, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read services file: %w", err)
	}

	var sf ServicesFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse services file: %w", err)
	}

	if len(sf.Services) == 0 {
		return nil, fmt.Errorf("services file contains no services")
	}
	if err := watchdog.ValidateServices(sf.Services); err != nil {
		return nil, fmt.Errorf("services file: %w", err)
	}

	return sf.Services, nil
}

// ResolveServices picks the service table: services file first, then compose
// label discovery, then the built-in relay defaults.
func ResolveServices(ctx context.Context, cfg Config) (ServiceSet, error) {
	if cfg.ServicesFile != "" {
		services, err := LoadServicesFile(cfg.ServicesFile)
		if err != nil {
			return ServiceSet{}, err
		}
		return ServiceSet{Services: services, Source: SourceServicesFile}, nil
	}

	if cfg.ComposeFile != "" {
		services, fingerprint, err := compose.LoadServicesFile(ctx, cfg.ComposeFile)
		if err != nil {
			return ServiceSet{}, err
		}
		if err := watchdog.ValidateServices(services); err != nil {
			return ServiceSet{}, fmt.Errorf("compose services: %w", err)
		}
		return ServiceSet{Services: services, Source: SourceCompose, Fingerprint: fingerprint}, nil
	}

	return ServiceSet{Services: watchdog.DefaultServices(), Source: SourceBuiltin}, nil
}
