package identity

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestLoadOrCreatePersistsIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "identity.yaml")

	p, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate returned error: %v", err)
	}
	if !strings.HasPrefix(p.ID(), "user_") {
		t.Errorf("ID() = %q, want user_ prefix", p.ID())
	}
	if !regexp.MustCompile(`^Player\d{4}$`).MatchString(p.Name()) {
		t.Errorf("Name() = %q, want Player####", p.Name())
	}

	again, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("second LoadOrCreate returned error: %v", err)
	}
	if again.ID() != p.ID() || again.Name() != p.Name() {
		t.Errorf("identity changed across loads: %q/%q vs %q/%q", again.ID(), again.Name(), p.ID(), p.Name())
	}
}

func TestSetName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.yaml")
	p, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate returned error: %v", err)
	}

	if err := p.SetName("  "); err != ErrEmptyName {
		t.Errorf("SetName(blank) error = %v, want ErrEmptyName", err)
	}
	if err := p.SetName(" Ana "); err != nil {
		t.Fatalf("SetName returned error: %v", err)
	}

	reloaded, _ := LoadOrCreate(path)
	if reloaded.Name() != "Ana" {
		t.Errorf("persisted name = %q, want Ana", reloaded.Name())
	}
}

func TestLoadOrCreateFillsMissingName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.yaml")
	if err := os.WriteFile(path, []byte("userId: user_fixed\n"), 0o600); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}
	p, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate returned error: %v", err)
	}
	if p.ID() != "user_fixed" || p.Name() == "" {
		t.Errorf("identity = %q/%q", p.ID(), p.Name())
	}
}
