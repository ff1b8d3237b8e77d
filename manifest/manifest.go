// Package manifest handles ember.toml project configuration.
package manifest

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/ember/vm"
)

// FileName is the name of the project file.
const FileName = "ember.toml"

// Manifest represents an ember.toml project configuration.
type Manifest struct {
	Project Project       `toml:"project"`
	Source  Source        `toml:"source"`
	Runtime RuntimeConfig `toml:"runtime"`
	Image   ImageConfig   `toml:"image"`
	Cache   CacheConfig   `toml:"cache"`

	// Dir is the directory containing the ember.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Entry   string `toml:"entry"`
}

// Source lists scripts executed before the entry script. Their top-level
// variables are visible to it.
type Source struct {
	Prelude []string `toml:"prelude"`
}

// RuntimeConfig sizes the environment.
type RuntimeConfig struct {
	Mode          string `toml:"mode"`
	Memory        int    `toml:"memory"`
	Stack         int    `toml:"stack"`
	CompileBuffer int    `toml:"compile-buffer"`
	NodeLimit     int    `toml:"node-limit"`
}

// ImageConfig configures image output.
type ImageConfig struct {
	Output    string `toml:"output"`
	ByteOrder string `toml:"byte-order"`
}

// CacheConfig locates the compiled image cache. An empty path disables it.
type CacheConfig struct {
	Path string `toml:"path"`
}

// Default returns the manifest used when a project has no ember.toml.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

// Load parses an ember.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %s", path, undecoded[0])
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.Project.Entry == "" {
		m.Project.Entry = "main.em"
	}
	if m.Runtime.Mode == "" {
		m.Runtime.Mode = "interpreter"
	}
	if m.Runtime.Memory == 0 {
		m.Runtime.Memory = vm.DefaultMemory
	}
	if m.Runtime.Stack == 0 {
		m.Runtime.Stack = vm.DefaultStack
	}
	if m.Image.Output == "" {
		base := filepath.Base(m.Project.Entry)
		m.Image.Output = base[:len(base)-len(filepath.Ext(base))] + ".emx"
	}
	if m.Image.ByteOrder == "" {
		m.Image.ByteOrder = "little"
	}
}

func (m *Manifest) validate() error {
	if _, err := ParseMode(m.Runtime.Mode); err != nil {
		return err
	}
	if _, err := m.ByteOrder(); err != nil {
		return err
	}
	if m.Runtime.Memory < 0 || m.Runtime.Stack < 0 || m.Runtime.CompileBuffer < 0 || m.Runtime.NodeLimit < 0 {
		return fmt.Errorf("runtime sizes must not be negative")
	}
	return nil
}

// FindAndLoad walks up from startDir to find an ember.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// ParseMode converts a mode name to a vm.Mode.
func ParseMode(s string) (vm.Mode, error) {
	switch s {
	case "interactive":
		return vm.ModeInteractive, nil
	case "interpreter":
		return vm.ModeInterpreter, nil
	case "image":
		return vm.ModeImage, nil
	}
	return 0, fmt.Errorf("unknown runtime mode %q", s)
}

// Mode returns the configured environment mode.
func (m *Manifest) Mode() vm.Mode {
	mode, _ := ParseMode(m.Runtime.Mode)
	return mode
}

// ByteOrder returns the configured image byte order.
func (m *Manifest) ByteOrder() (binary.ByteOrder, error) {
	switch m.Image.ByteOrder {
	case "little":
		return binary.LittleEndian, nil
	case "big":
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("unknown byte order %q", m.Image.ByteOrder)
}

// EnvConfig converts the runtime section to an environment configuration.
// Natives are left for the caller.
func (m *Manifest) EnvConfig() vm.Config {
	return vm.Config{
		Memory:        m.Runtime.Memory,
		Stack:         m.Runtime.Stack,
		CompileBuffer: m.Runtime.CompileBuffer,
		NodeLimit:     m.Runtime.NodeLimit,
	}
}

// EntryPath returns the absolute path of the entry script.
func (m *Manifest) EntryPath() string {
	return m.path(m.Project.Entry)
}

// PreludePaths returns absolute paths for the prelude scripts.
func (m *Manifest) PreludePaths() []string {
	var paths []string
	for _, p := range m.Source.Prelude {
		paths = append(paths, m.path(p))
	}
	return paths
}

// OutputPath returns the path of the built image.
func (m *Manifest) OutputPath() string {
	return m.path(m.Image.Output)
}

// CachePath returns the path of the image cache, or "" when disabled.
func (m *Manifest) CachePath() string {
	if m.Cache.Path == "" {
		return ""
	}
	return m.path(m.Cache.Path)
}

func (m *Manifest) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
