package compose

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"github.com/nholik/relay-sentinel/internal/watchdog"
)

const (
	// LabelPort marks a compose service for monitoring and names the probed port.
	LabelPort = "relay-sentinel.port"
	// LabelName overrides the watchdog service name (defaults to the compose service key).
	LabelName = "relay-sentinel.name"
	// LabelEnable opts a service in using its first published TCP port.
	LabelEnable = "relay-sentinel.enable"

	// envProjectName overrides the compose project name, as with docker compose.
	envProjectName = "COMPOSE_PROJECT_NAME"

	fallbackProjectName = "relay"
)

// LoadServicesFile reads a compose file from disk and derives watchdog services from it.
func LoadServicesFile(ctx context.Context, path string) ([]watchdog.ServiceSpec, string, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read compose file: %w", err)
	}
	fingerprint, err := Fingerprint(body)
	if err != nil {
		return nil, "", err
	}
	services, err := ParseServices(ctx, body, filepath.Dir(path))
	if err != nil {
		return nil, "", err
	}
	return services, fingerprint, nil
}

// ParseServices loads compose content and returns the services carrying
// relay-sentinel labels, sorted by name. The container reference is
// container_name, or the compose default "<project>-<service>-1" where the
// project is COMPOSE_PROJECT_NAME, else the file's top-level name, else the
// working directory's base name.
func ParseServices(ctx context.Context, body []byte, workingDir string) ([]watchdog.ServiceSpec, error) {
	if len(body) == 0 {
		return nil, errors.New("compose body is empty")
	}
	if workingDir == "" {
		workingDir = "."
	}

	details := types.ConfigDetails{
		WorkingDir: workingDir,
		ConfigFiles: []types.ConfigFile{
			{
				Filename: "docker-compose.yml",
				Content:  body,
			},
		},
		Environment: types.NewMapping(os.Environ()),
	}

	name, imperative := projectName(workingDir)
	project, err := loader.LoadWithContext(ctx, details, func(opts *loader.Options) {
		opts.SetProjectName(name, imperative)
		opts.SkipConsistencyCheck = true
		opts.ResolvePaths = false
	})
	if err != nil {
		return nil, fmt.Errorf("load compose: %w", err)
	}
	if len(project.Services) == 0 {
		return nil, errors.New("compose has no services")
	}

	specs := make([]watchdog.ServiceSpec, 0, len(project.Services))
	for key, service := range project.Services {
		spec, ok, err := serviceSpec(project.Name, key, service)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", key, err)
		}
		if !ok {
			continue
		}
		specs = append(specs, spec)
	}

	if len(specs) == 0 {
		return nil, fmt.Errorf("no compose service carries a %s or %s label", LabelPort, LabelEnable)
	}

	sort.Slice(specs, func(i, j int) bool {
		return specs[i].Name < specs[j].Name
	})

	return specs, nil
}

// projectName mirrors docker compose precedence below the -p flag. The bool
// reports whether the name beats a top-level name: in the file.
func projectName(workingDir string) (string, bool) {
	if value, ok := os.LookupEnv(envProjectName); ok {
		if name := loader.NormalizeProjectName(value); name != "" {
			return name, true
		}
	}

	dir := workingDir
	if abs, err := filepath.Abs(workingDir); err == nil {
		dir = abs
	}
	if name := loader.NormalizeProjectName(filepath.Base(dir)); name != "" {
		return name, false
	}
	return fallbackProjectName, false
}

func serviceSpec(projectName, key string, service types.ServiceConfig) (watchdog.ServiceSpec, bool, error) {
	portLabel, hasPort := service.Labels[LabelPort]
	enabled := strings.EqualFold(strings.TrimSpace(service.Labels[LabelEnable]), "true")
	if !hasPort && !enabled {
		return watchdog.ServiceSpec{}, false, nil
	}

	var port int
	if hasPort {
		parsed, err := strconv.Atoi(strings.TrimSpace(portLabel))
		if err != nil {
			return watchdog.ServiceSpec{}, false, fmt.Errorf("invalid %s label %q", LabelPort, portLabel)
		}
		port = parsed
	} else {
		published, ok := firstPublishedTCPPort(service.Ports)
		if !ok {
			return watchdog.ServiceSpec{}, false, fmt.Errorf("%s set but no published tcp port", LabelEnable)
		}
		port = published
	}

	name := strings.TrimSpace(service.Labels[LabelName])
	if name == "" {
		name = key
	}

	ref := service.ContainerName
	if ref == "" {
		ref = fmt.Sprintf("%s-%s-1", projectName, key)
	}

	return watchdog.ServiceSpec{Name: name, Port: port, ProcessRef: ref}, true, nil
}

func firstPublishedTCPPort(ports []types.ServicePortConfig) (int, bool) {
	for _, p := range ports {
		if p.Protocol != "" && !strings.EqualFold(p.Protocol, "tcp") {
			continue
		}
		published, err := strconv.Atoi(p.Published)
		if err != nil || published <= 0 {
			continue
		}
		return published, true
	}
	return 0, false
}
