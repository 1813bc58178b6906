// Package identity keeps the local player's stable id and editable display
// name across runs.
package identity

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// ErrEmptyName is returned when setting a blank display name.
var ErrEmptyName = errors.New("display name is required")

// Identity is the persisted form.
type Identity struct {
	UserID string `yaml:"userId"`
	Name   string `yaml:"name"`
}

// NewUserID returns a fresh opaque user id.
func NewUserID() string {
	return "user_" + uuid.NewString()
}

// RandomName returns a default display name such as Player4821.
func RandomName() string {
	return fmt.Sprintf("Player%d", 1000+rand.IntN(9000))
}

// FileProvider stores an Identity in a YAML file.
type FileProvider struct {
	path string

	mu sync.RWMutex
	id Identity
}

// LoadOrCreate reads the identity at path, creating and saving a new one if
// the file does not exist. A missing name is filled with RandomName.
func LoadOrCreate(path string) (*FileProvider, error) {
	p := &FileProvider{path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read identity: %w", err)
	default:
		if err := yaml.Unmarshal(data, &p.id); err != nil {
			return nil, fmt.Errorf("failed to decode identity: %w", err)
		}
	}

	dirty := false
	if p.id.UserID == "" {
		p.id.UserID = NewUserID()
		dirty = true
	}
	if strings.TrimSpace(p.id.Name) == "" {
		p.id.Name = RandomName()
		dirty = true
	}
	if dirty {
		if err := p.save(p.id); err != nil {
			return nil, err
		}
		log.Info().Str("user_id", p.id.UserID).Str("path", path).Msg("created local identity")
	}
	return p, nil
}

// ID returns the stable user id.
func (p *FileProvider) ID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.id.UserID
}

// Name returns the current display name.
func (p *FileProvider) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.id.Name
}

// SetName changes and persists the display name.
func (p *FileProvider) SetName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	next := p.id
	next.Name = name
	if err := p.save(next); err != nil {
		return err
	}
	p.id = next
	return nil
}

func (p *FileProvider) save(id Identity) error {
	data, err := yaml.Marshal(id)
	if err != nil {
		return fmt.Errorf("failed to encode identity: %w", err)
	}
	if dir := filepath.Dir(p.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create identity dir: %w", err)
		}
	}
	if err := os.WriteFile(p.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write identity: %w", err)
	}
	return nil
}
