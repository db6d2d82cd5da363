package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startWatcher(t *testing.T, path string, debounce time.Duration) *Watcher {
	t.Helper()

	w, err := NewWatcher(debounce)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	if err := w.Start(path); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { w.Stop() })

	// Give the inotify registration a moment to take effect.
	time.Sleep(50 * time.Millisecond)
	return w
}

func waitForReload(t *testing.T, w *Watcher, timeout time.Duration) ReloadEvent {
	t.Helper()

	select {
	case ev, ok := <-w.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case err := <-w.Errors():
		t.Fatalf("watcher error: %v", err)
	case <-time.After(timeout):
		t.Fatal("timed out waiting for reload event")
	}
	return ReloadEvent{}
}

func expectQuiet(t *testing.T, w *Watcher, window time.Duration) {
	t.Helper()

	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected reload event: %+v", ev)
	case <-time.After(window):
	}
}

func TestWatcher_EmitsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("bridge_port = 7911\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	w := startWatcher(t, path, 50*time.Millisecond)

	if err := os.WriteFile(path, []byte("bridge_port = 8123\n"), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	ev := waitForReload(t, w, 2*time.Second)
	if ev.Path != path {
		t.Errorf("event path = %s, want %s", ev.Path, path)
	}
}

func TestWatcher_EmitsOnAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("bridge_port = 7911\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	w := startWatcher(t, path, 50*time.Millisecond)

	tmp := filepath.Join(dir, "config.toml.tmp")
	if err := os.WriteFile(tmp, []byte("bridge_port = 8123\n"), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("failed to rename over config: %v", err)
	}

	waitForReload(t, w, 2*time.Second)
}

func TestWatcher_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("bridge_port = 7911\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	w := startWatcher(t, path, 50*time.Millisecond)

	sibling := filepath.Join(dir, "credentials.toml")
	if err := os.WriteFile(sibling, []byte("token = \"x\"\n"), 0600); err != nil {
		t.Fatalf("failed to write sibling file: %v", err)
	}

	expectQuiet(t, w, 300*time.Millisecond)
}

func TestWatcher_DebounceCoalescesBurst(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("bridge_port = 7911\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	w := startWatcher(t, path, 150*time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("bridge_port = 8123\n"), 0644); err != nil {
			t.Fatalf("failed to rewrite config: %v", err)
		}
		time.Sleep(30 * time.Millisecond)
	}

	waitForReload(t, w, 2*time.Second)
	expectQuiet(t, w, 400*time.Millisecond)
}

func TestWatcher_StartStop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	w, err := NewWatcher(0)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	if w.IsRunning() {
		t.Error("new watcher should not be running")
	}

	if err := w.Start(path); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !w.IsRunning() {
		t.Error("watcher should be running after Start")
	}
	if err := w.Start(path); err == nil {
		t.Error("second Start should fail")
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if w.IsRunning() {
		t.Error("watcher should not be running after Stop")
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}

	// Channels are closed after Stop.
	for range w.Events() {
	}
	for range w.Errors() {
	}
}

func TestWatcher_StartMissingDirectory(t *testing.T) {
	w, err := NewWatcher(0)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.watcher.Close()

	missing := filepath.Join(t.TempDir(), "missing", "config.toml")
	if err := w.Start(missing); err == nil {
		t.Error("expected error for missing directory")
	}
}
