package compose

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nholik/relay-sentinel/internal/watchdog"
)

const relayCompose = `
services:
  xray:
    image: teddysun/xray:latest
    container_name: xray-reality
    network_mode: host
    restart: unless-stopped
    labels:
      relay-sentinel.port: "443"
  shadowsocks:
    image: shadowsocks/shadowsocks-libev:latest
    container_name: shadowsocks-fallback
    ports:
      - "8388:8388/tcp"
      - "8388:8388/udp"
    labels:
      relay-sentinel.enable: "true"
  watchtower:
    image: containrrr/watchtower:latest
`

func TestParseServices_Labels(t *testing.T) {
	services, err := ParseServices(context.Background(), []byte(relayCompose), t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []watchdog.ServiceSpec{
		{Name: "shadowsocks", Port: 8388, ProcessRef: "shadowsocks-fallback"},
		{Name: "xray", Port: 443, ProcessRef: "xray-reality"},
	}
	if len(services) != len(want) {
		t.Fatalf("expected %d services, got %+v", len(want), services)
	}
	for i := range want {
		if services[i] != want[i] {
			t.Fatalf("service %d = %+v, want %+v", i, services[i], want[i])
		}
	}
}

func TestParseServices_DefaultContainerNameAndRename(t *testing.T) {
	body := `
services:
  proxy:
    image: nginx:1.25
    labels:
      relay-sentinel.port: "80"
      relay-sentinel.name: decoy-site
`
	t.Setenv(envProjectName, "")

	services, err := ParseServices(context.Background(), []byte(body), "/srv/relay")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(services) != 1 {
		t.Fatalf("expected one service, got %+v", services)
	}
	got := services[0]
	if got.Name != "decoy-site" || got.Port != 80 || got.ProcessRef != "relay-proxy-1" {
		t.Fatalf("unexpected service: %+v", got)
	}
}

const unnamedXray = `
services:
  xray:
    image: teddysun/xray
    labels:
      relay-sentinel.port: "443"
`

func parseSingleRef(t *testing.T, body, workingDir string) string {
	t.Helper()
	services, err := ParseServices(context.Background(), []byte(body), workingDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(services) != 1 {
		t.Fatalf("expected one service, got %+v", services)
	}
	return services[0].ProcessRef
}

func TestParseServices_ProjectNameFromWorkingDir(t *testing.T) {
	t.Setenv(envProjectName, "")

	if got := parseSingleRef(t, unnamedXray, "/opt/vpn"); got != "vpn-xray-1" {
		t.Fatalf("expected vpn-xray-1, got %s", got)
	}
	if got := parseSingleRef(t, unnamedXray, "/opt/My.VPN"); got != "myvpn-xray-1" {
		t.Fatalf("expected normalized directory name, got %s", got)
	}
}

func TestParseServices_ProjectNamePrecedence(t *testing.T) {
	named := "name: edge\n" + unnamedXray

	t.Setenv(envProjectName, "")
	if got := parseSingleRef(t, named, "/opt/vpn"); got != "edge-xray-1" {
		t.Fatalf("top-level name should beat the directory, got %s", got)
	}

	t.Setenv(envProjectName, "override")
	if got := parseSingleRef(t, named, "/opt/vpn"); got != "override-xray-1" {
		t.Fatalf("COMPOSE_PROJECT_NAME should beat the top-level name, got %s", got)
	}
	if got := parseSingleRef(t, unnamedXray, "/opt/vpn"); got != "override-xray-1" {
		t.Fatalf("COMPOSE_PROJECT_NAME should beat the directory, got %s", got)
	}
}

func TestParseServices_Errors(t *testing.T) {
	cases := map[string]string{
		"empty": "",
		"no labels": `
services:
  web:
    image: nginx
`,
		"bad port label": `
services:
  web:
    image: nginx
    labels:
      relay-sentinel.port: "https"
`,
		"enable without ports": `
services:
  web:
    image: nginx
    labels:
      relay-sentinel.enable: "true"
`,
		"invalid yaml": "services: [",
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseServices(context.Background(), []byte(body), t.TempDir()); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadServicesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docker-compose.yml")
	if err := os.WriteFile(path, []byte(relayCompose), 0o600); err != nil {
		t.Fatalf("write compose: %v", err)
	}

	services, fingerprint, err := LoadServicesFile(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(services) != 2 {
		t.Fatalf("expected 2 services, got %d", len(services))
	}
	if len(fingerprint) != 64 || strings.Trim(fingerprint, "0123456789abcdef") != "" {
		t.Fatalf("unexpected fingerprint %q", fingerprint)
	}

	if _, _, err := LoadServicesFile(context.Background(), filepath.Join(dir, "missing.yml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
