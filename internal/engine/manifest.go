package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/woxQAQ/drafter-wasm/internal/protocol"
)

// ManifestFile is the file name looked up when a manifest directory is given.
const ManifestFile = "engine.yaml"

// Manifest describes an engine build: which wasm file to load and how to
// talk to it.
type Manifest struct {
	Name     string     `yaml:"name"`
	Version  string     `yaml:"version"`
	Protocol string     `yaml:"protocol"`
	Wasm     WasmConfig `yaml:"wasm"`
	Exports  Exports    `yaml:"exports"`

	// Run after instantiation. Reactor builds need "_initialize".
	StartFunctions []string `yaml:"start_functions"`

	path string
}

// WasmConfig holds Wasm module configuration.
type WasmConfig struct {
	File string `yaml:"file"`
	Size int    `yaml:"size"` // KB
}

// Exports names the allocator exports of the engine build.
type Exports struct {
	Malloc string `yaml:"malloc"`
	Free   string `yaml:"free"`
}

// DefaultStartFunctions are run when a manifest does not list any.
var DefaultStartFunctions = []string{"_initialize"}

// ParseManifest reads a manifest from path, which is either the manifest
// file itself or a directory containing engine.yaml.
func ParseManifest(path string) (*Manifest, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, ManifestFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ManifestNotFoundError{
			Path: path,
			Err:  err,
		}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestParseError{
			Path: path,
			Err:  err,
		}
	}

	m.path = path
	m.applyDefaults()

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// NewManifest builds a manifest with default exports for an engine whose
// bytes are supplied directly.
func NewManifest(name string, version protocol.Version) *Manifest {
	m := &Manifest{
		Name:     name,
		Version:  "embedded",
		Protocol: string(version),
	}
	m.applyDefaults()
	return m
}

// ManifestForFile builds a manifest for a bare wasm file, for setups that
// configure the engine without an engine.yaml.
func ManifestForFile(wasmPath string, version protocol.Version) *Manifest {
	m := NewManifest(filepath.Base(wasmPath), version)
	m.Version = "unknown"
	m.Wasm.File = filepath.Base(wasmPath)
	m.path = filepath.Join(filepath.Dir(wasmPath), ManifestFile)
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Protocol == "" {
		m.Protocol = string(protocol.Bitpacked)
	}
	if m.Exports.Malloc == "" {
		m.Exports.Malloc = "malloc"
	}
	if m.Exports.Free == "" {
		m.Exports.Free = "free"
	}
	if m.StartFunctions == nil {
		m.StartFunctions = append([]string(nil), DefaultStartFunctions...)
	}
}

// Validate checks manifest fields.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "name",
			Message: "name is required",
		}
	}

	if m.Version == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "version",
			Message: "version is required",
		}
	}

	if _, err := protocol.New(protocol.Version(m.Protocol)); err != nil {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "protocol",
			Message: err.Error(),
		}
	}

	if m.Wasm.File == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "wasm.file",
			Message: "wasm.file is required",
		}
	}

	wasmPath := m.WasmPath()
	if _, err := os.Stat(wasmPath); os.IsNotExist(err) {
		return &WasmNotFoundError{
			ManifestPath: m.Path(),
			WasmFile:     m.Wasm.File,
		}
	}

	return nil
}

// ProtocolVersion returns the calling convention of the engine build.
func (m *Manifest) ProtocolVersion() protocol.Version {
	return protocol.Version(m.Protocol)
}

// Path returns the manifest file path.
func (m *Manifest) Path() string {
	return m.path
}

// WasmPath returns the path to the Wasm file, relative to the manifest.
func (m *Manifest) WasmPath() string {
	if filepath.IsAbs(m.Wasm.File) {
		return m.Wasm.File
	}
	return filepath.Join(m.Dir(), m.Wasm.File)
}

// Dir returns the directory containing the manifest.
func (m *Manifest) Dir() string {
	return filepath.Dir(m.path)
}

// String identifies the engine build in logs.
func (m *Manifest) String() string {
	return fmt.Sprintf("%s@%s (%s)", m.Name, m.Version, m.Protocol)
}
