package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	dir := t.TempDir()

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.VM.StackSize != 0 || m.VM.CodeHeapSize != 0 {
		t.Error("defaults must keep the engine sizes")
	}
	if len(m.Packages.Dirs) != 1 || m.Packages.Dirs[0] != "packages" {
		t.Errorf("default package dirs = %v", m.Packages.Dirs)
	}
	if m.Cache.Enabled {
		t.Error("cache must default to disabled")
	}
	if m.CachePath() != "" {
		t.Error("CachePath must be empty when the cache is disabled")
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()

	src := `
[vm]
stack-size = 1024
code-heap-size = 4096

[packages]
dirs = ["pkgs", "/abs/pkgs"]

[cache]
enabled = true
path = "cache.db"
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.VM.StackSize != 1024 || m.VM.CodeHeapSize != 4096 {
		t.Errorf("vm sizes = %+v", m.VM)
	}

	dirs := m.SearchDirs()
	if len(dirs) != 2 {
		t.Fatalf("SearchDirs = %v", dirs)
	}
	if dirs[0] != filepath.Join(dir, "pkgs") {
		t.Errorf("relative dir = %q, want it resolved against the manifest dir", dirs[0])
	}
	if dirs[1] != "/abs/pkgs" {
		t.Errorf("absolute dir = %q must pass through", dirs[1])
	}

	if m.CachePath() != filepath.Join(dir, "cache.db") {
		t.Errorf("CachePath = %q", m.CachePath())
	}
}

func TestLoadBadManifest(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("[vm\nbroken"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(dir); err == nil {
		t.Error("Load of a malformed manifest must fail")
	}
}
