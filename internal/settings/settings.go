package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Settings is the on-disk state that must survive app restarts: the
// builtin player identity, the last player the user had selected, and
// how this installation presents itself.
type Settings struct {
	ServerURL          string `json:"server_url"`
	BuiltinPlayerID    string `json:"builtin_player_id"`
	LastSelectedPlayer string `json:"last_selected_player"`
	PlayerName         string `json:"player_name"`
	OwnerName          string `json:"owner_name"`
}

// Store reads and writes the settings file. Path is resolved lazily so
// tests can point it somewhere temporary.
type Store struct {
	Path string

	mu       sync.Mutex
	settings *Settings
}

func defaultPath() (string, error) {
	oscfg, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("defaultPath: failed to get config dir due to error: %w", err)
	}

	return filepath.Join(oscfg, "masgo", "settings.json"), nil
}

func (s *Store) path() (string, error) {
	if s.Path != "" {
		return s.Path, nil
	}
	return defaultPath()
}

// Load reads the settings file, creating it with defaults when missing.
func (s *Store) Load() (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settings != nil {
		return s.settings, nil
	}

	path, err := s.path()
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
				return nil, fmt.Errorf("Load: failed to create config path due to error: %w", err)
			}

			conf := &Settings{
				PlayerName: "This Device",
			}

			b, err := json.Marshal(conf)
			if err != nil {
				return nil, fmt.Errorf("Load: failed to encode default config due to error: %w", err)
			}

			if err := os.WriteFile(path, b, 0644); err != nil {
				return nil, fmt.Errorf("Load: failed to create default config due to error: %w", err)
			}

			s.settings = conf
			return conf, nil
		}

		return nil, fmt.Errorf("Load: failed to open config due to error: %w", err)
	}
	defer f.Close()

	conf := &Settings{}
	if err := json.NewDecoder(f).Decode(conf); err != nil {
		return nil, fmt.Errorf("Load: failed to decode config due to error: %w", err)
	}

	s.settings = conf
	return conf, nil
}

func (s *Store) save() error {
	b, err := json.Marshal(s.settings)
	if err != nil {
		return fmt.Errorf("save: failed to marshal config due to error: %w", err)
	}

	path, err := s.path()
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, b, 0644); err != nil {
		return fmt.Errorf("save: failed to write config due to error: %w", err)
	}

	return nil
}

// BuiltinPlayerID .
func (s *Store) BuiltinPlayerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		return ""
	}
	return s.settings.BuiltinPlayerID
}

// SetBuiltinPlayerID persists the builtin player identity. This is the
// one write the rest of the app cannot proceed without, so failures
// propagate.
func (s *Store) SetBuiltinPlayerID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		s.settings = &Settings{}
	}
	s.settings.BuiltinPlayerID = id
	return s.save()
}

// LastSelectedPlayer .
func (s *Store) LastSelectedPlayer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		return ""
	}
	return s.settings.LastSelectedPlayer
}

// SetLastSelectedPlayer .
func (s *Store) SetLastSelectedPlayer(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		s.settings = &Settings{}
	}
	s.settings.LastSelectedPlayer = id
	return s.save()
}

// PlayerName returns the display name for this installation's player.
func (s *Store) PlayerName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil || s.settings.PlayerName == "" {
		return "This Device"
	}
	return s.settings.PlayerName
}

// SetPlayerName .
func (s *Store) SetPlayerName(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		s.settings = &Settings{}
	}
	s.settings.PlayerName = name
	return s.save()
}

// OwnerName .
func (s *Store) OwnerName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		return ""
	}
	return s.settings.OwnerName
}

// ServerURL .
func (s *Store) ServerURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		return ""
	}
	return s.settings.ServerURL
}

// SetServerURL .
func (s *Store) SetServerURL(u string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		s.settings = &Settings{}
	}
	s.settings.ServerURL = u
	return s.save()
}
