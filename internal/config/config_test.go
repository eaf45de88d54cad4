package config

import (
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileReturnsZeroValue(t *testing.T) {
	d, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != (Defaults{}) {
		t.Errorf("expected zero-value Defaults, got %+v", d)
	}
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	want := Defaults{WindowSize: 30, SliceSize: 15, TopK: 8, MaxVerifyCount: 5}
	if err := Save(path, want); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
}

func TestResolve_ProjectOverridesUserOverridesBuiltin(t *testing.T) {
	projectRoot := t.TempDir()
	if err := Save(ProjectConfigPath(projectRoot), Defaults{TopK: 12}); err != nil {
		t.Fatal(err)
	}
	got, err := Resolve(projectRoot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TopK != 12 {
		t.Errorf("TopK = %d, want 12 (project override)", got.TopK)
	}
	if got.WindowSize != DefaultDefaults().WindowSize {
		t.Errorf("WindowSize = %d, want built-in default %d", got.WindowSize, DefaultDefaults().WindowSize)
	}
}

func TestResolve_NoProjectRootUsesBuiltinDefaults(t *testing.T) {
	got, err := Resolve("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TopK != DefaultDefaults().TopK {
		t.Errorf("TopK = %d, want built-in default %d", got.TopK, DefaultDefaults().TopK)
	}
}
