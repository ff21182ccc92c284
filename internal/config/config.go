// Package config persists fleet connection parameters. The on-disk
// format is a flat env file (one KEY="value" per line) so the file can
// also be sourced by a shell, matching the setup scripts sparkctl
// replaces.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Error kinds surfaced by the store.
var (
	// ErrIncomplete means a required field is unset and prompting is
	// not possible.
	ErrIncomplete = errors.New("incomplete configuration")
	// ErrIO means the config file exists but could not be read.
	// Non-fatal: callers fall back to prompting.
	ErrIO = errors.New("config file unreadable")
	// ErrParse means the config file is malformed. Fatal: proceeding
	// with partial state would be worse than stopping.
	ErrParse = errors.New("config file malformed")
)

// File keys. Uppercase shell-style names keep the file sourceable.
const (
	keyUser   = "SPARK_USER"
	keyHost   = "SPARK_HOST"
	keyPeers  = "SPARK_PEERS"
	keyModel  = "SPARK_MODEL"
	keyPort   = "SPARK_PORT"
	keyTPSize = "SPARK_TP_SIZE"
	keyToken  = "HF_TOKEN"
)

// envPrefix lets any key be overridden via SPARKCTL_<KEY> environment
// variables without touching the file.
const envPrefix = "SPARKCTL"

// HostConfig holds the connection parameters for one fleet. Fields
// absent from the file stay at their zero value so callers can detect
// "needs prompting"; defaults are applied at playbook render time, not
// here.
type HostConfig struct {
	Username string
	Hostname string   // manager node
	Peers    []string // worker nodes, in join order
	Model    string
	Port     int
	TPSize   int
	HFToken  string
}

// MissingFields lists the required fields that are still unset.
func (c *HostConfig) MissingFields() []string {
	var missing []string
	if c.Username == "" {
		missing = append(missing, "username")
	}
	if c.Hostname == "" {
		missing = append(missing, "hostname")
	}
	return missing
}

// Complete reports whether every required field is set. Peers may be
// empty: a single node is a valid fleet.
func (c *HostConfig) Complete() bool {
	return len(c.MissingFields()) == 0
}

// Hosts returns the full fleet in dispatch order, manager first.
func (c *HostConfig) Hosts() []string {
	return append([]string{c.Hostname}, c.Peers...)
}

// DefaultPath returns the config file location. Respects
// $XDG_CONFIG_HOME, falling back to ~/.config.
func DefaultPath() string {
	return filepath.Join(configDir(), "fleet.env")
}

// PlaybookPath returns the user playbook file location.
func PlaybookPath() string {
	return filepath.Join(configDir(), "playbooks.yaml")
}

func configDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "sparkctl")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "sparkctl"
	}
	return filepath.Join(home, ".config", "sparkctl")
}

// Load reads the config file at path. A missing file yields a zero
// HostConfig and no error. Unreadable files are ErrIO; malformed files
// are ErrParse. Environment variables prefixed SPARKCTL_ override file
// values either way.
func Load(path string) (*HostConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// First run: nothing persisted yet.
		case errors.Is(err, fs.ErrPermission):
			return nil, fmt.Errorf("%w: %s: %v", ErrIO, path, err)
		default:
			return nil, fmt.Errorf("%w: %s: %v", ErrParse, path, err)
		}
	}

	cfg := &HostConfig{
		Username: v.GetString(keyUser),
		Hostname: v.GetString(keyHost),
		Model:    v.GetString(keyModel),
		Port:     v.GetInt(keyPort),
		TPSize:   v.GetInt(keyTPSize),
		HFToken:  v.GetString(keyToken),
	}
	if peers := v.GetString(keyPeers); peers != "" {
		cfg.Peers = splitPeers(peers)
	}
	return cfg, nil
}

// Save writes the config atomically: render to a temp file in the same
// directory, then rename into place. Mode 0600 because the file can
// carry the HF token.
func Save(path string, cfg *HostConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".fleet-*.env")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	// Best-effort cleanup if anything below fails before the rename.
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp config: %w", err)
	}
	if _, err := tmp.WriteString(render(cfg)); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename config into place: %w", err)
	}
	return nil
}

// render emits one KEY="value" line per set field, in a fixed order so
// saves are diffable.
func render(cfg *HostConfig) string {
	var b strings.Builder
	write := func(key, val string) {
		if val != "" {
			fmt.Fprintf(&b, "%s=%q\n", key, val)
		}
	}
	write(keyUser, cfg.Username)
	write(keyHost, cfg.Hostname)
	write(keyPeers, strings.Join(cfg.Peers, ","))
	write(keyModel, cfg.Model)
	if cfg.Port != 0 {
		fmt.Fprintf(&b, "%s=%q\n", keyPort, fmt.Sprintf("%d", cfg.Port))
	}
	if cfg.TPSize != 0 {
		fmt.Fprintf(&b, "%s=%q\n", keyTPSize, fmt.Sprintf("%d", cfg.TPSize))
	}
	write(keyToken, cfg.HFToken)
	return b.String()
}

// RenderServeEnv renders the env file pushed to every node before
// deploy: the serve container and the model download read it.
func RenderServeEnv(cfg *HostConfig) string {
	var b strings.Builder
	if cfg.HFToken != "" {
		fmt.Fprintf(&b, "HF_TOKEN=%q\n", cfg.HFToken)
	}
	if cfg.Model != "" {
		fmt.Fprintf(&b, "SPARK_MODEL=%q\n", cfg.Model)
	}
	return b.String()
}

func splitPeers(s string) []string {
	var peers []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			peers = append(peers, p)
		}
	}
	return peers
}
