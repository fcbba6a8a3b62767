package telemetry

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestResourceManagerLoadsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "prompt.json"), []byte(`{"x":1}`), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewResourceManager(dir, nil)
	r, ok := m.Get("prompt.json")
	if !ok {
		t.Fatal("expected prompt.json to be loaded")
	}
	if r.Version != 1 {
		t.Fatalf("expected version 1, got %d", r.Version)
	}
}

func TestResourceManagerReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "toolset.json")
	if err := os.WriteFile(path, []byte(`{"v":1}`), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewResourceManager(dir, nil)
	m.SetInterval(10 * time.Millisecond)
	go m.Start()
	defer m.Stop()

	time.Sleep(20 * time.Millisecond)
	future := time.Now().Add(time.Second)
	if err := os.WriteFile(path, []byte(`{"v":2}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		r, _ := m.Get("toolset.json")
		if r.Version == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected resource to be reloaded with bumped version")
}

func TestResourceManagerPutBumpsVersion(t *testing.T) {
	m := NewResourceManager("", nil)
	m.Put("a", "one")
	m.Put("a", "two")
	r, ok := m.Get("a")
	if !ok || r.Version != 2 || r.Body != "two" {
		t.Fatalf("expected version 2 body two, got %+v ok=%v", r, ok)
	}
}
