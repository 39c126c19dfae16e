// Package supervisor writes and removes the filesystem process-descriptor
// directory an external service supervisor ("TSM") reads to observe and
// terminate the PULSAR child out-of-band. Directory layout conventions are
// adapted from the teacher's user/project config-dir helpers, re-purposed to
// a TSM runtime root instead of a per-user config dir.
package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/quasar-relay/quasar/internal/logger"
	"gopkg.in/yaml.v3"
)

// Meta mirrors the on-disk meta.json contents an external supervisor reads.
type Meta struct {
	Name        string `json:"name" yaml:"name"`
	PID         int    `json:"pid" yaml:"pid"`
	CommType    string `json:"comm_type" yaml:"comm_type"` // "pipe" or "fifo"
	CommPath    string `json:"comm_path,omitempty" yaml:"comm_path,omitempty"`
	StartedAt   string `json:"started_at" yaml:"started_at"`
	Parent      string `json:"parent,omitempty" yaml:"parent,omitempty"`
	ParentTSMID string `json:"parent_tsm_id,omitempty" yaml:"parent_tsm_id,omitempty"`
}

// Registrar owns one SupervisorEntry directory for the PULSAR process's
// lifetime.
type Registrar struct {
	runtimeDir string
	name       string
}

// New returns a Registrar rooted at runtimeDir, with name identifying the
// registered process (e.g. "pulsar").
func New(runtimeDir, name string) *Registrar {
	return &Registrar{runtimeDir: runtimeDir, name: name}
}

func (r *Registrar) dir() string {
	return filepath.Join(r.runtimeDir, "processes", r.name)
}

func (r *Registrar) nextIDFile() string {
	return filepath.Join(r.runtimeDir, "next_id")
}

// nextID reads, atomically increments, and persists the numeric counter
// file. On any read failure it falls back to a fixed id rather than failing
// registration outright.
func (r *Registrar) nextID() int {
	const fallbackID = 1

	if err := os.MkdirAll(r.runtimeDir, 0o755); err != nil {
		logger.Warn("supervisor: mkdir runtime dir failed", "error", err)
		return fallbackID
	}

	data, err := os.ReadFile(r.nextIDFile())
	current := 0
	if err == nil {
		fmt.Sscanf(string(data), "%d", &current)
	}
	next := current + 1
	if err := os.WriteFile(r.nextIDFile(), []byte(fmt.Sprintf("%d", next)), 0o644); err != nil {
		logger.Warn("supervisor: persist next_id failed", "error", err)
		return fallbackID
	}
	return next
}

// Register performs the five-step registration sequence. Failures at any
// step are logged and non-fatal.
func (r *Registrar) Register(pid int, commType, commPath string) {
	id := r.nextID()

	dir := r.dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("supervisor: create process dir failed", "error", err, "dir", dir)
		return
	}

	pidPath := filepath.Join(dir, r.name+".pid")
	if err := os.WriteFile(pidPath, []byte(fmt.Sprintf("%d", pid)), 0o644); err != nil {
		logger.Warn("supervisor: write pid file failed", "error", err)
	}

	meta := Meta{
		Name:      r.name,
		PID:       pid,
		CommType:  commType,
		CommPath:  commPath,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if parent, parentID, ok := r.readOwnEntry(); ok {
		meta.Parent = parent
		meta.ParentTSMID = parentID
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		logger.Warn("supervisor: marshal meta.json failed", "error", err)
	} else if err := os.WriteFile(filepath.Join(dir, "meta.json"), metaJSON, 0o644); err != nil {
		logger.Warn("supervisor: write meta.json failed", "error", err)
	}

	// meta.debug.yaml is a human-editable sibling of meta.json, for
	// operators skimming a process dir by hand; it carries the same
	// fields and isn't read back by Register or Deregister.
	if metaYAML, err := yaml.Marshal(meta); err != nil {
		logger.Warn("supervisor: marshal meta.debug.yaml failed", "error", err)
	} else if err := os.WriteFile(filepath.Join(dir, "meta.debug.yaml"), metaYAML, 0o644); err != nil {
		logger.Warn("supervisor: write meta.debug.yaml failed", "error", err)
	}

	for _, name := range []string{"current.out", "current.err"} {
		if f, err := os.Create(filepath.Join(dir, name)); err != nil {
			logger.Warn("supervisor: create log file failed", "file", name, "error", err)
		} else {
			f.Close()
		}
	}

	logger.Info("supervisor: registered", "name", r.name, "pid", pid, "id", id)
}

// readOwnEntry reads the hub's own supervisor entry (if this process was
// itself registered by a parent TSM) to fill parent-linkage fields. Absence
// is acceptable and not logged as an error.
func (r *Registrar) readOwnEntry() (parent, parentTSMID string, ok bool) {
	selfMeta := filepath.Join(r.runtimeDir, "processes", "quasard", "meta.json")
	data, err := os.ReadFile(selfMeta)
	if err != nil {
		return "", "", false
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return "", "", false
	}
	return "quasard", m.Name, true
}

// Deregister recursively removes the process directory. Safe to call
// whether or not Register ever succeeded.
func (r *Registrar) Deregister() {
	if err := os.RemoveAll(r.dir()); err != nil {
		logger.Warn("supervisor: remove process dir failed", "error", err)
	} else {
		logger.Info("supervisor: deregistered", "name", r.name)
	}
}
