package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNoSession means encore-ctl login has not been run, or the saved
// session carries no token.
var ErrNoSession = errors.New("no saved operator session")

// Session is the operator token stored by `encore-ctl login`.
type Session struct {
	Token   string    `json:"token"`
	BaseURL string    `json:"base_url"`
	SavedAt time.Time `json:"saved_at"`
}

// sessionFile is ~/.encore/session.json; the directory is created on save.
func sessionFile() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, ".encore", "session.json"), nil
}

// SaveSession replaces the session file atomically.
func SaveSession(s Session) error {
	path, err := sessionFile()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	if s.SavedAt.IsZero() {
		s.SavedAt = time.Now().UTC()
	}
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func LoadSession() (Session, error) {
	path, err := sessionFile()
	if err != nil {
		return Session{}, err
	}
	body, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("read session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return Session{}, fmt.Errorf("session file %s is corrupt: %w", path, err)
	}
	if strings.TrimSpace(s.Token) == "" {
		return Session{}, ErrNoSession
	}
	return s, nil
}

// ClearSession removes the saved session; clearing twice is fine.
func ClearSession() error {
	path, err := sessionFile()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
