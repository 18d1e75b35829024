package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/postalsys/pppoat-udp/internal/udp"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Node.LogLevel != "info" {
		t.Errorf("Node.LogLevel = %s, want info", cfg.Node.LogLevel)
	}
	if cfg.Node.LogFormat != "text" {
		t.Errorf("Node.LogFormat = %s, want text", cfg.Node.LogFormat)
	}
	if cfg.UDP.Server != "false" {
		t.Errorf("UDP.Server = %q, want false", cfg.UDP.Server)
	}
	if cfg.UDP.MaxDatagramSize != 4096 {
		t.Errorf("UDP.MaxDatagramSize = %d, want 4096", cfg.UDP.MaxDatagramSize)
	}
	if !cfg.UDP.ValidateSender {
		t.Error("UDP.ValidateSender should be true by default")
	}
	if cfg.UDP.Initiator.RemoteHost != "192.168.4.10" {
		t.Errorf("UDP.Initiator.RemoteHost = %s, want 192.168.4.10", cfg.UDP.Initiator.RemoteHost)
	}
	if cfg.UDP.Responder.RemoteHost != "192.168.4.1" {
		t.Errorf("UDP.Responder.RemoteHost = %s, want 192.168.4.1", cfg.UDP.Responder.RemoteHost)
	}
	if cfg.UDP.Initiator.LocalPort != 49153 || cfg.UDP.Responder.RemotePort != 49153 {
		t.Errorf("default ports = %d/%d, want 49153", cfg.UDP.Initiator.LocalPort, cfg.UDP.Responder.RemotePort)
	}
	if cfg.Health.Enabled {
		t.Error("Health.Enabled should be false by default")
	}
	if cfg.Health.Address != "127.0.0.1:9101" {
		t.Errorf("Health.Address = %s, want 127.0.0.1:9101", cfg.Health.Address)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestParse_ValidConfig(t *testing.T) {
	yamlConfig := `
node:
  log_level: "debug"
  log_format: "json"

udp:
  server: true
  max_datagram_size: 1500
  validate_sender: false
  initiator:
    local_port: 5000
    remote_host: "peer.example.net"
    remote_port: 5001
  responder:
    local_port: 5001
    remote_host: "10.0.0.1"
    remote_port: 5000

health:
  enabled: true
  address: ":9200"
  read_timeout: 5s
  write_timeout: 15s
`

	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Node.LogLevel != "debug" {
		t.Errorf("Node.LogLevel = %s, want debug", cfg.Node.LogLevel)
	}
	if cfg.Node.LogFormat != "json" {
		t.Errorf("Node.LogFormat = %s, want json", cfg.Node.LogFormat)
	}
	if cfg.UDP.Server != "true" || !cfg.UDP.Server.Bool() {
		t.Errorf("UDP.Server = %q, want truthy", cfg.UDP.Server)
	}
	if cfg.UDP.MaxDatagramSize != 1500 {
		t.Errorf("UDP.MaxDatagramSize = %d, want 1500", cfg.UDP.MaxDatagramSize)
	}
	if cfg.UDP.ValidateSender {
		t.Error("UDP.ValidateSender should be false")
	}
	want := EndpointConfig{LocalPort: 5000, RemoteHost: "peer.example.net", RemotePort: 5001}
	if cfg.UDP.Initiator != want {
		t.Errorf("UDP.Initiator = %+v, want %+v", cfg.UDP.Initiator, want)
	}
	if !cfg.Health.Enabled || cfg.Health.Address != ":9200" {
		t.Errorf("Health = %+v", cfg.Health)
	}
	if cfg.Health.ReadTimeout != 5*time.Second {
		t.Errorf("Health.ReadTimeout = %v, want 5s", cfg.Health.ReadTimeout)
	}
	if cfg.Health.WriteTimeout != 15*time.Second {
		t.Errorf("Health.WriteTimeout = %v, want 15s", cfg.Health.WriteTimeout)
	}
}

func TestParse_MinimalConfig(t *testing.T) {
	cfg, err := Parse([]byte("udp:\n  server: \"1\"\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.UDP.Server != "1" {
		t.Errorf("UDP.Server = %q, want 1", cfg.UDP.Server)
	}
	// Unset keys keep their defaults.
	if cfg.UDP.MaxDatagramSize != 4096 {
		t.Errorf("UDP.MaxDatagramSize = %d, want 4096", cfg.UDP.MaxDatagramSize)
	}
	if cfg.UDP.Responder.RemoteHost != "192.168.4.1" {
		t.Errorf("UDP.Responder.RemoteHost = %s, want 192.168.4.1", cfg.UDP.Responder.RemoteHost)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("udp: [unbalanced"))
	if err == nil {
		t.Fatal("Parse() should fail on invalid YAML")
	}
	if !strings.Contains(err.Error(), "failed to parse config") {
		t.Errorf("error = %v, want parse failure", err)
	}
}

func TestParse_PortOutOfRange(t *testing.T) {
	_, err := Parse([]byte("udp:\n  initiator:\n    local_port: 70000\n"))
	if err == nil {
		t.Fatal("Parse() should reject a port above 65535")
	}
}

func TestParse_ServerMustBeScalar(t *testing.T) {
	_, err := Parse([]byte("udp:\n  server: [true]\n"))
	if err == nil {
		t.Fatal("Parse() should reject a non-scalar server value")
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "invalid log level",
			yaml:    "node:\n  log_level: loud\n",
			wantErr: "invalid log_level",
		},
		{
			name:    "invalid log format",
			yaml:    "node:\n  log_format: xml\n",
			wantErr: "invalid log_format",
		},
		{
			name:    "server not boolean",
			yaml:    "udp:\n  server: sometimes\n",
			wantErr: "udp.server",
		},
		{
			name:    "datagram size zero",
			yaml:    "udp:\n  max_datagram_size: 0\n",
			wantErr: "udp.max_datagram_size",
		},
		{
			name:    "datagram size too large",
			yaml:    "udp:\n  max_datagram_size: 65508\n",
			wantErr: "udp.max_datagram_size",
		},
		{
			name:    "missing remote host",
			yaml:    "udp:\n  initiator:\n    remote_host: \"\"\n",
			wantErr: "udp.initiator.remote_host is required",
		},
		{
			name:    "missing remote port",
			yaml:    "udp:\n  responder:\n    remote_port: 0\n",
			wantErr: "udp.responder.remote_port is required",
		},
		{
			name:    "health without address",
			yaml:    "health:\n  enabled: true\n  address: \"\"\n",
			wantErr: "health.address is required",
		},
		{
			name:    "health bad address",
			yaml:    "health:\n  enabled: true\n  address: \"localhost\"\n",
			wantErr: "health.address",
		},
		{
			name:    "negative timeout",
			yaml:    "health:\n  read_timeout: -1s\n",
			wantErr: "must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Node.LogLevel = "loud"
	cfg.UDP.MaxDatagramSize = -1
	cfg.UDP.Initiator.RemoteHost = " "

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should fail")
	}
	for _, want := range []string{"log_level", "max_datagram_size", "udp.initiator.remote_host"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %v, missing %q", err, want)
		}
	}
}

func TestParse_EnvVarSubstitution(t *testing.T) {
	t.Setenv("PPPOAT_PEER", "10.1.2.3")
	t.Setenv("PPPOAT_SERVER", "yes")

	yamlConfig := `
udp:
  server: "${PPPOAT_SERVER}"
  initiator:
    remote_host: "$PPPOAT_PEER"
`
	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.UDP.Initiator.RemoteHost != "10.1.2.3" {
		t.Errorf("UDP.Initiator.RemoteHost = %s, want 10.1.2.3", cfg.UDP.Initiator.RemoteHost)
	}
	if cfg.Role() != udp.RoleInitiator {
		t.Errorf("Role() = %v, want initiator", cfg.Role())
	}
}

func TestParse_EnvVarDefaultValue(t *testing.T) {
	os.Unsetenv("PPPOAT_UNSET_LEVEL")

	cfg, err := Parse([]byte("node:\n  log_level: \"${PPPOAT_UNSET_LEVEL:-warn}\"\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Node.LogLevel != "warn" {
		t.Errorf("Node.LogLevel = %s, want warn", cfg.Node.LogLevel)
	}
}

func TestExpandEnvVars_NotFound(t *testing.T) {
	os.Unsetenv("PPPOAT_MISSING")

	if got := expandEnvVars("host: $PPPOAT_MISSING"); got != "host: $PPPOAT_MISSING" {
		t.Errorf("expandEnvVars() = %q, want reference kept", got)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/pppoat-udp.yaml")
	if err == nil {
		t.Fatal("Load() should fail for a missing file")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("error = %v", err)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "udp:\n  server: on\n  max_datagram_size: 2048\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.UDP.MaxDatagramSize != 2048 {
		t.Errorf("UDP.MaxDatagramSize = %d, want 2048", cfg.UDP.MaxDatagramSize)
	}
	if !cfg.UDP.Server.Bool() {
		t.Errorf("UDP.Server = %q, want truthy", cfg.UDP.Server)
	}
}

func TestConfig_Get(t *testing.T) {
	tests := []struct {
		server   Flag
		wantVal  string
		wantOK   bool
		wantRole udp.Role
	}{
		{"true", "true", true, udp.RoleInitiator},
		{"1", "1", true, udp.RoleInitiator},
		{"false", "false", true, udp.RoleResponder},
		{"0", "0", true, udp.RoleResponder},
		{"", "", false, udp.RoleResponder},
	}

	for _, tt := range tests {
		cfg := Default()
		cfg.UDP.Server = tt.server

		val, ok := cfg.Get("server")
		if val != tt.wantVal || ok != tt.wantOK {
			t.Errorf("Get(server) with %q = (%q, %v), want (%q, %v)", tt.server, val, ok, tt.wantVal, tt.wantOK)
		}
		if got := cfg.Role(); got != tt.wantRole {
			t.Errorf("Role() with %q = %v, want %v", tt.server, got, tt.wantRole)
		}
	}

	if _, ok := Default().Get("unknown"); ok {
		t.Error("Get(unknown) should report absent")
	}
}

func TestConfig_UDPSettings(t *testing.T) {
	cfg := Default()
	cfg.UDP.MaxDatagramSize = 1200
	cfg.UDP.ValidateSender = false
	cfg.UDP.Responder = EndpointConfig{LocalPort: 1, RemoteHost: "peer", RemotePort: 2}

	got := cfg.UDPSettings()
	if got.MaxDatagramSize != 1200 || got.ValidateSender {
		t.Errorf("UDPSettings() = %+v", got)
	}
	want := udp.Endpoints{LocalPort: 1, RemoteHost: "peer", RemotePort: 2}
	if got.Responder != want {
		t.Errorf("Responder = %+v, want %+v", got.Responder, want)
	}
	if got.Initiator != udp.DefaultConfig().Initiator {
		t.Errorf("Initiator = %+v, want defaults", got.Initiator)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("UDPSettings().Validate() error = %v", err)
	}
}

func TestConfig_String(t *testing.T) {
	s := Default().String()

	for _, want := range []string{"node:", "log_level: info", "remote_host: 192.168.4.10", "max_datagram_size: 4096"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() missing %q:\n%s", want, s)
		}
	}

	// The output parses back to the same settings.
	cfg, err := Parse([]byte(s))
	if err != nil {
		t.Fatalf("Parse(String()) error = %v", err)
	}
	if cfg.UDP != Default().UDP {
		t.Errorf("round trip UDP = %+v, want %+v", cfg.UDP, Default().UDP)
	}
}
