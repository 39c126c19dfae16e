package supervisor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestRegisterCreatesAllFiles(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, "pulsar")
	r.Register(4242, "pipe", "")

	procDir := filepath.Join(dir, "processes", "pulsar")
	for _, name := range []string{"pulsar.pid", "meta.json", "meta.debug.yaml", "current.out", "current.err"} {
		if _, err := os.Stat(filepath.Join(procDir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(procDir, "meta.json"))
	if err != nil {
		t.Fatalf("read meta.json: %v", err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal meta.json: %v", err)
	}
	if m.PID != 4242 || m.CommType != "pipe" {
		t.Errorf("meta = %+v", m)
	}

	yamlData, err := os.ReadFile(filepath.Join(procDir, "meta.debug.yaml"))
	if err != nil {
		t.Fatalf("read meta.debug.yaml: %v", err)
	}
	var ym Meta
	if err := yaml.Unmarshal(yamlData, &ym); err != nil {
		t.Fatalf("unmarshal meta.debug.yaml: %v", err)
	}
	if ym != m {
		t.Errorf("meta.debug.yaml = %+v, want %+v", ym, m)
	}
}

func TestDeregisterRemovesDirectory(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, "pulsar")
	r.Register(1, "fifo", "/tmp/pulsar.fifo")
	r.Deregister()

	if _, err := os.Stat(filepath.Join(dir, "processes", "pulsar")); !os.IsNotExist(err) {
		t.Errorf("expected process dir removed, stat err = %v", err)
	}
}

func TestNextIDIncrements(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, "pulsar")
	first := r.nextID()
	second := r.nextID()
	if second != first+1 {
		t.Errorf("second id = %d, want %d", second, first+1)
	}
}
