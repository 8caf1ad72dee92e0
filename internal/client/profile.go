package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ModeServer = "server"
	ModeDirect = "direct"

	profileEnv = "XIANWEN_CLIENT_CONFIG"
)

// Profile is the terminal client's saved settings. The completion API key is
// never written to disk; DirectKeyEnv names the variable that holds it.
type Profile struct {
	Mode           string `yaml:"mode"`
	ServerURL      string `yaml:"server_url"`
	Email          string `yaml:"email,omitempty"`
	Token          string `yaml:"token,omitempty"`
	ConversationID string `yaml:"conversation_id"`
	StorePath      string `yaml:"store_path"`
	MaxTurns       int    `yaml:"max_turns"`

	DirectBaseURL string `yaml:"direct_base_url,omitempty"`
	DirectModel   string `yaml:"direct_model,omitempty"`
	DirectKeyEnv  string `yaml:"direct_key_env"`
}

// ProfilePath resolves ~/.xianwen/client.yaml, overridable via XIANWEN_CLIENT_CONFIG.
func ProfilePath() string {
	if custom := strings.TrimSpace(os.Getenv(profileEnv)); custom != "" {
		return expandHome(custom)
	}
	return filepath.Join(userHomeDir(), ".xianwen", "client.yaml")
}

// LoadProfile reads the profile at path, writing defaults when it is missing.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		p := DefaultProfile()
		if err := SaveProfile(path, p); err != nil {
			return Profile{}, err
		}
		return p, nil
	}
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parse profile %s: %w", path, err)
	}
	p = hydrateDefaults(p)
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// SaveProfile writes p with owner-only permissions since it may hold a token.
func SaveProfile(path string, p Profile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	raw, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	return os.WriteFile(path, raw, 0o600)
}

func DefaultProfile() Profile {
	return hydrateDefaults(Profile{})
}

func hydrateDefaults(p Profile) Profile {
	if p.Mode == "" {
		p.Mode = ModeServer
	}
	if p.ServerURL == "" {
		p.ServerURL = "http://127.0.0.1:3000"
	}
	if p.ConversationID == "" {
		p.ConversationID = "default"
	}
	if p.StorePath == "" {
		p.StorePath = filepath.Join(userHomeDir(), ".xianwen", "history.db")
	}
	p.StorePath = expandHome(p.StorePath)
	if p.MaxTurns == 0 {
		p.MaxTurns = 20
	}
	if p.DirectKeyEnv == "" {
		p.DirectKeyEnv = "COMPLETION_API_KEY"
	}
	return p
}

func (p Profile) Validate() error {
	switch p.Mode {
	case ModeServer, ModeDirect:
	default:
		return fmt.Errorf("profile mode must be %q or %q, got %q", ModeServer, ModeDirect, p.Mode)
	}
	if p.MaxTurns < 2 || p.MaxTurns%2 != 0 {
		return fmt.Errorf("profile max_turns must be an even number >= 2")
	}
	return nil
}

func userHomeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}

func expandHome(path string) string {
	if path == "~" {
		return userHomeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(userHomeDir(), path[2:])
	}
	return path
}
