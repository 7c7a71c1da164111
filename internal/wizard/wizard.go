// Package wizard provides an interactive setup wizard for slotline.
package wizard

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/postalsys/slotline/internal/config"
)

// Result contains the wizard output.
type Result struct {
	Config     *config.Config
	ConfigPath string
}

// Answers holds the raw form values. Numeric fields are strings because huh
// inputs edit text.
type Answers struct {
	ConfigPath     string
	Listen         string // comma-separated
	MaxClients     string
	QueueCapacity  string
	IdleTimeout    string
	Echo           bool
	LogLevel       string
	LogFormat      string
	LogFile        string
	HealthEnabled  bool
	HealthAddress  string
	ControlEnabled bool
	SocketPath     string
}

// DefaultAnswers returns the values the forms start with.
func DefaultAnswers() Answers {
	def := config.Default()
	return Answers{
		ConfigPath:     "./config.yaml",
		Listen:         strings.Join(def.Server.Listen, ", "),
		MaxClients:     strconv.Itoa(def.Server.MaxClients),
		QueueCapacity:  strconv.Itoa(def.Server.QueueCapacity),
		IdleTimeout:    "0s",
		LogLevel:       def.Log.Level,
		LogFormat:      def.Log.Format,
		HealthEnabled:  true,
		HealthAddress:  def.Health.Address,
		ControlEnabled: true,
		SocketPath:     def.Control.SocketPath,
	}
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

// Run executes the interactive setup wizard.
func (w *Wizard) Run() (*Result, error) {
	w.printBanner()

	a := DefaultAnswers()

	// Step 1: Where to write the config
	if err := w.askBasicSetup(&a); err != nil {
		return nil, err
	}

	// Step 2: Sockets and slot table
	if err := w.askServerConfig(&a); err != nil {
		return nil, err
	}

	// Step 3: Logging
	if err := w.askLogging(&a); err != nil {
		return nil, err
	}

	// Step 4: Monitoring and control
	if err := w.askAdvancedOptions(&a); err != nil {
		return nil, err
	}

	cfg, err := buildConfig(a)
	if err != nil {
		return nil, err
	}

	if err := writeConfig(cfg, a.ConfigPath); err != nil {
		return nil, err
	}

	w.printSummary(a.ConfigPath, cfg)

	return &Result{
		Config:     cfg,
		ConfigPath: a.ConfigPath,
	}, nil
}

func (w *Wizard) printBanner() {
	banner := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212")).
		Render(`
      _       _   _ _
  ___| | ___ | |_| (_)_ __   ___
 / __| |/ _ \| __| | | '_ \ / _ \
 \__ \ | (_) | |_| | | | | |  __/
 |___/_|\___/ \__|_|_|_| |_|\___|
`)

	subtitle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("  UDP Session Server - Setup Wizard\n")

	fmt.Println(banner)
	fmt.Println(subtitle)
}

func (w *Wizard) askBasicSetup(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Basic Setup").
				Description("Choose where to write the configuration file."),

			huh.NewInput().
				Title("Config File Path").
				Description("Where to write the configuration file").
				Placeholder("./config.yaml").
				Value(&a.ConfigPath).
				Validate(validateConfigPath),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askServerConfig(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Server").
				Description("Each listen address gets its own UDP socket. Clients are\nadmitted into a fixed number of slots."),

			huh.NewInput().
				Title("Listen Addresses").
				Description("Comma-separated host:port list").
				Placeholder("0.0.0.0:1053, 0.0.0.0:5353").
				Value(&a.Listen).
				Validate(func(s string) error {
					_, err := parseListen(s)
					return err
				}),

			huh.NewInput().
				Title("Maximum Clients").
				Description("Number of client slots").
				Placeholder("128").
				Value(&a.MaxClients).
				Validate(validatePositiveInt),

			huh.NewInput().
				Title("Outbound Queue Capacity").
				Description("Packets held while sockets are busy; oldest are dropped when full").
				Placeholder("1024").
				Value(&a.QueueCapacity).
				Validate(validatePositiveInt),

			huh.NewInput().
				Title("Idle Timeout").
				Description("Release slots after this much silence (0s = never)").
				Placeholder("0s").
				Value(&a.IdleTimeout).
				Validate(validateDuration),

			huh.NewConfirm().
				Title("Echo payloads back to clients?").
				Description("Useful for testing connectivity").
				Value(&a.Echo),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askLogging(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Logging").
				Description("Logs go to stderr, and optionally to a rotating file."),

			huh.NewSelect[string]().
				Title("Log Level").
				Options(
					huh.NewOption("Debug (verbose)", "debug"),
					huh.NewOption("Info (recommended)", "info"),
					huh.NewOption("Warning", "warn"),
					huh.NewOption("Error (quiet)", "error"),
				).
				Value(&a.LogLevel),

			huh.NewSelect[string]().
				Title("Log Format").
				Options(
					huh.NewOption("Text", "text"),
					huh.NewOption("JSON", "json"),
				).
				Value(&a.LogFormat),

			huh.NewInput().
				Title("Log File").
				Description("Leave empty to log to stderr only").
				Placeholder("/var/log/slotline.log").
				Value(&a.LogFile),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askAdvancedOptions(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Advanced Options").
				Description("Configure monitoring and the control socket."),

			huh.NewConfirm().
				Title("Enable health check endpoint?").
				Description("HTTP endpoint for monitoring (/health, /healthz, /metrics)").
				Value(&a.HealthEnabled),

			huh.NewConfirm().
				Title("Enable control socket?").
				Description("Unix socket for CLI commands (status, slots)").
				Value(&a.ControlEnabled),
		),
	).WithTheme(w.theme)

	return form.Run()
}

// buildConfig turns form answers into a validated configuration.
func buildConfig(a Answers) (*config.Config, error) {
	cfg := config.Default()

	listen, err := parseListen(a.Listen)
	if err != nil {
		return nil, err
	}
	cfg.Server.Listen = listen

	if cfg.Server.MaxClients, err = strconv.Atoi(strings.TrimSpace(a.MaxClients)); err != nil {
		return nil, fmt.Errorf("invalid max clients: %w", err)
	}
	if cfg.Server.QueueCapacity, err = strconv.Atoi(strings.TrimSpace(a.QueueCapacity)); err != nil {
		return nil, fmt.Errorf("invalid queue capacity: %w", err)
	}
	if a.IdleTimeout != "" {
		if cfg.Server.IdleTimeout, err = time.ParseDuration(strings.TrimSpace(a.IdleTimeout)); err != nil {
			return nil, fmt.Errorf("invalid idle timeout: %w", err)
		}
	}
	cfg.Server.Echo = a.Echo

	cfg.Log.Level = a.LogLevel
	cfg.Log.Format = a.LogFormat
	cfg.Log.File.Path = strings.TrimSpace(a.LogFile)

	cfg.Health.Enabled = a.HealthEnabled
	if a.HealthAddress != "" {
		cfg.Health.Address = a.HealthAddress
	}

	cfg.Control.Enabled = a.ControlEnabled
	if a.SocketPath != "" {
		cfg.Control.SocketPath = a.SocketPath
	} else if a.ControlEnabled {
		cfg.Control.SocketPath = filepath.Join(filepath.Dir(a.ConfigPath), "slotline.sock")
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

	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := `# slotline configuration
# Generated by setup wizard

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

	fmt.Println()
	fmt.Println(divider)
	fmt.Println(style.Render("✓ Setup Complete!"))
	fmt.Println(divider)
	fmt.Println()

	fmt.Printf("  Config file:  %s\n", configPath)
	for _, l := range cfg.Server.Listen {
		fmt.Printf("  Listener:     udp://%s\n", l)
	}
	fmt.Printf("  Slots:        %s\n", humanize.Comma(int64(cfg.Server.MaxClients)))
	fmt.Printf("  Queue:        %s packets (up to %s)\n",
		humanize.Comma(int64(cfg.Server.QueueCapacity)),
		humanize.IBytes(uint64(cfg.Server.QueueCapacity)*uint64(cfg.Server.MaxDatagramSize)))
	if cfg.Server.IdleTimeout > 0 {
		fmt.Printf("  Idle timeout: %s\n", cfg.Server.IdleTimeout)
	}
	if cfg.Health.Enabled {
		fmt.Printf("  Health:       http://%s/health\n", cfg.Health.Address)
	}
	if cfg.Control.Enabled {
		fmt.Printf("  Control:      %s\n", cfg.Control.SocketPath)
	}

	fmt.Println()
	fmt.Println("  To start the server:")
	fmt.Printf("    slotline run -c %s\n", configPath)
	fmt.Println()
}

// parseListen splits a comma-separated address list.
func parseListen(s string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(part); err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", part, err)
		}
		out = append(out, part)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one listen address is required")
	}
	return out, nil
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

func validatePositiveInt(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if n < 1 {
		return fmt.Errorf("must be at least 1")
	}
	return nil
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("must be a duration like 30s or 5m")
	}
	if d < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}
