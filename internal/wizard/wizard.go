// Package wizard provides an interactive setup wizard for pppoat-udp.
package wizard

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/postalsys/pppoat-udp/internal/config"
	"github.com/postalsys/pppoat-udp/internal/udp"
)

// Result contains the wizard output.
type Result struct {
	Config     *config.Config
	ConfigPath string
}

// Wizard manages the interactive setup process.
type Wizard struct {
	theme *huh.Theme
}

// New creates a new setup wizard.
func New() *Wizard {
	return &Wizard{
		theme: huh.ThemeDracula(),
	}
}

// answers collects everything the forms ask for. Ports and sizes stay as
// typed text until buildConfig.
type answers struct {
	configPath string
	role       string

	localPort  string
	remoteHost string
	remotePort string

	maxDatagramSize string
	validateSender  bool

	logLevel      string
	healthEnabled bool
	healthAddress string
}

func defaultAnswers() answers {
	def := udp.DefaultConfig()
	return answers{
		configPath:      "./pppoat-udp.yaml",
		role:            udp.RoleResponder.String(),
		localPort:       strconv.Itoa(int(def.Responder.LocalPort)),
		remoteHost:      def.Responder.RemoteHost,
		remotePort:      strconv.Itoa(int(def.Responder.RemotePort)),
		maxDatagramSize: strconv.Itoa(def.MaxDatagramSize),
		validateSender:  def.ValidateSender,
		logLevel:        "info",
		healthEnabled:   false,
		healthAddress:   config.Default().Health.Address,
	}
}

// Run executes the interactive setup wizard.
func (w *Wizard) Run() (*Result, error) {
	w.printBanner()

	a := defaultAnswers()

	// Step 1: Config path and role
	if err := w.askBasicSetup(&a); err != nil {
		return nil, err
	}

	// Step 2: Endpoints for the chosen role
	if err := w.askEndpoints(&a); err != nil {
		return nil, err
	}

	// Step 3: Datagram handling
	if err := w.askTransportOptions(&a); err != nil {
		return nil, err
	}

	// Step 4: Logging and monitoring
	if err := w.askAdvancedOptions(&a); err != nil {
		return nil, err
	}

	cfg, err := buildConfig(a)
	if err != nil {
		return nil, err
	}

	if err := writeConfig(cfg, a.configPath); err != nil {
		return nil, err
	}

	w.printSummary(a.configPath, cfg)

	return &Result{Config: cfg, ConfigPath: a.configPath}, nil
}

func (w *Wizard) printBanner() {
	banner := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212")).
		Render(`
  _ __  _ __  _ __   ___   __ _| |_      _   _  __| |_ __
 | '_ \| '_ \| '_ \ / _ \ / _' | __|____| | | |/ _' | '_ \
 | |_) | |_) | |_) | (_) | (_| | ||_____| |_| | (_| | |_) |
 | .__/| .__/| .__/ \___/ \__,_|\__|     \__,_|\__,_| .__/
 |_|   |_|   |_|                                    |_|
`)

	subtitle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("  PPP over UDP Transport - Setup Wizard\n")

	fmt.Println(banner)
	fmt.Println(subtitle)
}

func (w *Wizard) askBasicSetup(a *answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Basic Setup").
				Description("Choose where to write the configuration and which side of the link this node is."),

			huh.NewInput().
				Title("Config File Path").
				Description("Where to write the configuration file").
				Placeholder("./pppoat-udp.yaml").
				Value(&a.configPath).
				Validate(validateConfigPath),

			huh.NewSelect[string]().
				Title("Role").
				Description("Both ends use the same port by default; they differ in the peer address").
				Options(
					huh.NewOption("Initiator (server: true)", udp.RoleInitiator.String()),
					huh.NewOption("Responder (default)", udp.RoleResponder.String()),
				).
				Value(&a.role),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askEndpoints(a *answers) error {
	if a.role == udp.RoleInitiator.String() {
		def := udp.DefaultConfig().Initiator
		a.remoteHost = def.RemoteHost
		a.localPort = strconv.Itoa(int(def.LocalPort))
		a.remotePort = strconv.Itoa(int(def.RemotePort))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Endpoints").
				Description(fmt.Sprintf("Addresses used by the %s role.", a.role)),

			huh.NewInput().
				Title("Local Port").
				Description("UDP port to bind on all addresses (0 picks one)").
				Value(&a.localPort).
				Validate(func(s string) error {
					_, err := parsePort(s, true)
					return err
				}),

			huh.NewInput().
				Title("Peer Host").
				Description("Host name or IP address of the other end").
				Value(&a.remoteHost).
				Validate(validateHost),

			huh.NewInput().
				Title("Peer Port").
				Value(&a.remotePort).
				Validate(func(s string) error {
					_, err := parsePort(s, false)
					return err
				}),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askTransportOptions(a *answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Datagrams").
				Description("Each read from the link is sent as one datagram."),

			huh.NewInput().
				Title("Maximum Datagram Size").
				Description(fmt.Sprintf("Bytes per link read, 1 to %d", udp.MaxUDPPayload)).
				Value(&a.maxDatagramSize).
				Validate(func(s string) error {
					_, err := parseDatagramSize(s)
					return err
				}),

			huh.NewConfirm().
				Title("Only accept datagrams from the peer?").
				Description("Datagrams from other sources are dropped and counted").
				Value(&a.validateSender),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askAdvancedOptions(a *answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Advanced Options").
				Description("Configure monitoring and logging."),

			huh.NewSelect[string]().
				Title("Log Level").
				Options(
					huh.NewOption("Debug (verbose)", "debug"),
					huh.NewOption("Info (recommended)", "info"),
					huh.NewOption("Warning", "warn"),
					huh.NewOption("Error (quiet)", "error"),
				).
				Value(&a.logLevel),

			huh.NewConfirm().
				Title("Enable health check endpoint?").
				Description("HTTP endpoint for monitoring (/health, /healthz, /metrics)").
				Value(&a.healthEnabled),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return err
	}
	if !a.healthEnabled {
		return nil
	}

	addrForm := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Health Address").
				Value(&a.healthAddress).
				Validate(func(s string) error {
					_, _, err := net.SplitHostPort(s)
					return err
				}),
		),
	).WithTheme(w.theme)

	return addrForm.Run()
}

// buildConfig turns the answers into a validated configuration. The role that
// was not chosen keeps its default endpoints.
func buildConfig(a answers) (*config.Config, error) {
	cfg := config.Default()

	cfg.Node.LogLevel = a.logLevel
	cfg.Node.LogFormat = "text"

	localPort, err := parsePort(a.localPort, true)
	if err != nil {
		return nil, fmt.Errorf("local port: %w", err)
	}
	remotePort, err := parsePort(a.remotePort, false)
	if err != nil {
		return nil, fmt.Errorf("peer port: %w", err)
	}
	ep := config.EndpointConfig{
		LocalPort:  localPort,
		RemoteHost: strings.TrimSpace(a.remoteHost),
		RemotePort: remotePort,
	}

	switch a.role {
	case udp.RoleInitiator.String():
		cfg.UDP.Server = "true"
		cfg.UDP.Initiator = ep
	case udp.RoleResponder.String():
		cfg.UDP.Server = "false"
		cfg.UDP.Responder = ep
	default:
		return nil, fmt.Errorf("unknown role %q", a.role)
	}

	size, err := parseDatagramSize(a.maxDatagramSize)
	if err != nil {
		return nil, err
	}
	cfg.UDP.MaxDatagramSize = size
	cfg.UDP.ValidateSender = a.validateSender

	cfg.Health.Enabled = a.healthEnabled
	if a.healthEnabled {
		cfg.Health.Address = a.healthAddress
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func writeConfig(cfg *config.Config, path string) error {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := `# pppoat-udp configuration
# Generated by setup wizard
# Values may reference environment variables as ${VAR} or ${VAR:-default}.

`
	if err := os.WriteFile(path, []byte(header+string(data)), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (w *Wizard) printSummary(configPath string, cfg *config.Config) {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("42"))

	divider := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("─────────────────────────────────────────────────")

	role := cfg.Role()
	ep := cfg.UDPSettings().Endpoints(role)

	fmt.Println()
	fmt.Println(divider)
	fmt.Println(style.Render("✓ Setup Complete!"))
	fmt.Println(divider)
	fmt.Println()

	fmt.Printf("  Config file:  %s\n", configPath)
	fmt.Printf("  Role:         %s\n", role)
	fmt.Printf("  Local port:   %d\n", ep.LocalPort)
	fmt.Printf("  Peer:         %s\n", net.JoinHostPort(ep.RemoteHost, strconv.Itoa(int(ep.RemotePort))))
	fmt.Printf("  Datagrams:    up to %s\n", humanize.IBytes(uint64(cfg.UDP.MaxDatagramSize)))

	if cfg.Health.Enabled {
		fmt.Printf("  Health:       http://%s/health\n", cfg.Health.Address)
	}

	fmt.Println()
	fmt.Println("  To start the transport (link on stdin/stdout):")
	fmt.Printf("    pppoat-udp run -c %s\n", configPath)
	fmt.Println()
}

func validateConfigPath(s string) error {
	if s == "" {
		return fmt.Errorf("config path is required")
	}
	if !strings.HasSuffix(s, ".yaml") && !strings.HasSuffix(s, ".yml") {
		return fmt.Errorf("config file should have .yaml or .yml extension")
	}
	return nil
}

func validateHost(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("peer host is required")
	}
	if strings.ContainsAny(s, " /") {
		return fmt.Errorf("invalid host %q", s)
	}
	return nil
}

// parsePort parses a UDP port. Zero is accepted only when allowZero is set.
func parsePort(s string, allowZero bool) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if n == 0 && !allowZero {
		return 0, fmt.Errorf("port must not be 0")
	}
	return uint16(n), nil
}

func parseDatagramSize(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > udp.MaxUDPPayload {
		return 0, fmt.Errorf("datagram size must be between 1 and %d", udp.MaxUDPPayload)
	}
	return n, nil
}
