package core

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Config is the global configuration instance
var Config *Configuration

// Configuration represents the complete pfm configuration
type Configuration struct {
	ConfigPath   string // Directory containing config, registry and history
	Verbose      int    // Verbosity level
	RegistryFile string // Forward registry, relative to ConfigPath unless absolute
	HistoryFile  string // SQLite event history, relative to ConfigPath unless absolute
	Ports        PortsConfig
	SSH          SSHConfig
	Lock         LockConfig
}

// PortsConfig controls local port allocation
type PortsConfig struct {
	BindAddress  string // Address local forwards listen on
	SearchWindow int    // How many ports above the requested one are tried
}

// SSHConfig represents settings passed to the ssh child process
type SSHConfig struct {
	Binary              string        // ssh executable, looked up in PATH
	ConfigFile          string        // Optional -F file
	Identity            string        // Default -i identity file
	Options             []string      // Default -o options
	ServerAliveInterval int           // Send keepalive every N seconds (0 to disable)
	ServerAliveCountMax int           // Exit after N failed keepalives
	StartupGrace        time.Duration // How long a fresh child must survive to count as launched
	TerminateTimeout    time.Duration // SIGTERM grace before SIGKILL
}

// LockConfig controls the registry file lock
type LockConfig struct {
	Timeout time.Duration
}

// HCL parsing structs

type hclConfig struct {
	Verbose      int       `hcl:"verbose,optional"`
	RegistryFile string    `hcl:"registry_file,optional"`
	HistoryFile  string    `hcl:"history_file,optional"`
	Ports        *hclPorts `hcl:"ports,block"`
	SSH          *hclSSH   `hcl:"ssh,block"`
	Lock         *hclLock  `hcl:"lock,block"`
}

type hclPorts struct {
	BindAddress  string `hcl:"bind_address,optional"`
	SearchWindow int    `hcl:"search_window,optional"`
}

type hclSSH struct {
	Binary              string   `hcl:"binary,optional"`
	ConfigFile          string   `hcl:"config_file,optional"`
	Identity            string   `hcl:"identity,optional"`
	Options             []string `hcl:"options,optional"`
	ServerAliveInterval *int     `hcl:"server_alive_interval,optional"`
	ServerAliveCountMax int      `hcl:"server_alive_count_max,optional"`
	StartupGrace        string   `hcl:"startup_grace,optional"`
	TerminateTimeout    string   `hcl:"terminate_timeout,optional"`
}

type hclLock struct {
	Timeout string `hcl:"timeout,optional"`
}

// LoadConfig loads the HCL configuration file and returns a Configuration struct.
// Unset values keep their defaults from GetDefaultConfig.
func LoadConfig(filename string) (*Configuration, error) {
	var hclCfg hclConfig

	err := hclsimple.DecodeFile(filename, nil, &hclCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HCL config: %w", err)
	}

	cfg := GetDefaultConfig()
	cfg.ConfigPath = filepath.Dir(filename)
	cfg.Verbose = hclCfg.Verbose

	if hclCfg.RegistryFile != "" {
		cfg.RegistryFile = hclCfg.RegistryFile
	}
	if hclCfg.HistoryFile != "" {
		cfg.HistoryFile = hclCfg.HistoryFile
	}

	if p := hclCfg.Ports; p != nil {
		if p.BindAddress != "" {
			cfg.Ports.BindAddress = p.BindAddress
		}
		if p.SearchWindow < 0 {
			return nil, fmt.Errorf("ports.search_window must not be negative, got %d", p.SearchWindow)
		}
		if p.SearchWindow > 0 {
			cfg.Ports.SearchWindow = p.SearchWindow
		}
	}

	if s := hclCfg.SSH; s != nil {
		if s.Binary != "" {
			cfg.SSH.Binary = s.Binary
		}
		cfg.SSH.ConfigFile = s.ConfigFile
		cfg.SSH.Identity = s.Identity
		cfg.SSH.Options = s.Options
		// Explicit 0 disables keepalives, so only nil means "use default"
		if s.ServerAliveInterval != nil {
			cfg.SSH.ServerAliveInterval = *s.ServerAliveInterval
		}
		if s.ServerAliveCountMax > 0 {
			cfg.SSH.ServerAliveCountMax = s.ServerAliveCountMax
		}
		if cfg.SSH.StartupGrace, err = parseDuration("ssh.startup_grace", s.StartupGrace, cfg.SSH.StartupGrace); err != nil {
			return nil, err
		}
		if cfg.SSH.TerminateTimeout, err = parseDuration("ssh.terminate_timeout", s.TerminateTimeout, cfg.SSH.TerminateTimeout); err != nil {
			return nil, err
		}
	}

	if l := hclCfg.Lock; l != nil {
		if cfg.Lock.Timeout, err = parseDuration("lock.timeout", l.Timeout, cfg.Lock.Timeout); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func parseDuration(key, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", key, value)
	}
	return d, nil
}

// GetDefaultConfig returns a Configuration with default values
func GetDefaultConfig() *Configuration {
	return &Configuration{
		ConfigPath:   DefaultConfigPath(),
		Verbose:      0,
		RegistryFile: RegistryFileName,
		HistoryFile:  HistoryFileName,
		Ports: PortsConfig{
			BindAddress:  "127.0.0.1",
			SearchWindow: 100,
		},
		SSH: SSHConfig{
			Binary:              "ssh",
			ServerAliveInterval: 15,
			ServerAliveCountMax: 3,
			StartupGrace:        500 * time.Millisecond,
			TerminateTimeout:    5 * time.Second,
		},
		Lock: LockConfig{
			Timeout: 5 * time.Second,
		},
	}
}

// RegistryPath returns the absolute path of the forward registry file
func (c *Configuration) RegistryPath() string {
	return c.resolve(c.RegistryFile)
}

// HistoryPath returns the absolute path of the history database
func (c *Configuration) HistoryPath() string {
	return c.resolve(c.HistoryFile)
}

func (c *Configuration) resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.ConfigPath, name)
}

// ConfigExists checks if a config file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return err == nil
}
