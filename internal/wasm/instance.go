package wasm

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/emscripten"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const wasiModuleName = wasi_snapshot_preview1.ModuleName

// InstanceManager creates and manages module instances.
type InstanceManager struct {
	runtime *Runtime
	logger  *zap.Logger

	// Guards the one-time instantiation of shared import modules.
	wasiReady atomic.Bool
}

// NewInstanceManager creates a new instance manager.
func NewInstanceManager(runtime *Runtime, logger *zap.Logger) *InstanceManager {
	return &InstanceManager{
		runtime: runtime,
		logger:  logger.With(zap.String("component", "wasm-instance")),
	}
}

// InstanceConfig holds configuration for creating instances.
type InstanceConfig struct {
	// Module name to instantiate.
	ModuleName string

	// Instance ID (if empty, one is generated).
	InstanceID string

	// Exports to resolve and cache. Missing names fail instantiation.
	Exports []string

	// Start functions run after instantiation, e.g. "_initialize" for reactor builds.
	// Functions the module does not export are skipped.
	StartFunctions []string
}

// Instance represents an instantiated Wasm module.
type Instance struct {
	module api.Module

	ID        string
	Name      string
	CreatedAt int64

	// Exported functions (cached for performance).
	exports map[string]api.Function

	stdout, stderr *logWriter
	imports        []api.Closer
	runtime        *Runtime
}

// Instantiate creates a new instance from a compiled module.
// WASI and emscripten imports are wired when the module asks for them.
func (m *InstanceManager) Instantiate(ctx context.Context, config *InstanceConfig) (*Instance, error) {
	compiled, ok := m.runtime.GetCompiledModule(config.ModuleName)
	if !ok {
		return nil, &ModuleNotFoundError{ModuleName: config.ModuleName}
	}

	if limit := m.runtime.config.MaxInstances; limit > 0 && m.runtime.InstanceCount() >= limit {
		return nil, &InstanceLimitError{Limit: limit}
	}

	instanceID := config.InstanceID
	if instanceID == "" {
		instanceID = generateInstanceID()
	}

	m.logger.Info("Instantiating Wasm module",
		zap.String("module", config.ModuleName),
		zap.String("instance_id", instanceID),
	)

	closers, err := m.instantiateImports(ctx, compiled.Module)
	if err != nil {
		return nil, &InstantiationError{
			ModuleName: config.ModuleName,
			InstanceID: instanceID,
			Err:        err,
		}
	}

	stdoutLevel := zapcore.InfoLevel
	if m.runtime.config.DebugEnabled {
		stdoutLevel = zapcore.DebugLevel
	}
	stdout := newLogWriter(m.logger.With(zap.String("instance_id", instanceID)), "stdout", stdoutLevel)
	stderr := newLogWriter(m.logger.With(zap.String("instance_id", instanceID)), "stderr", zapcore.WarnLevel)

	moduleConfig := wazero.NewModuleConfig().
		WithName(instanceID).
		WithStdout(stdout).
		WithStderr(stderr).
		WithStartFunctions(config.StartFunctions...)

	module, err := m.runtime.runtime.InstantiateModule(ctx, compiled.Module, moduleConfig)
	if err != nil {
		closeAll(ctx, closers)
		return nil, &InstantiationError{
			ModuleName: config.ModuleName,
			InstanceID: instanceID,
			Err:        err,
		}
	}

	exports, err := m.cacheExportedFunctions(module, config)
	if err != nil {
		_ = module.Close(ctx)
		closeAll(ctx, closers)
		return nil, err
	}

	instance := &Instance{
		module:    module,
		ID:        instanceID,
		Name:      config.ModuleName,
		CreatedAt: time.Now().Unix(),
		exports:   exports,
		stdout:    stdout,
		stderr:    stderr,
		imports:   closers,
		runtime:   m.runtime,
	}

	m.runtime.StoreInstance(instance)

	m.logger.Info("Module instantiated successfully",
		zap.String("instance_id", instanceID),
		zap.Int("exported_functions", len(exports)),
	)

	return instance, nil
}

// instantiateImports satisfies the WASI and emscripten imports of compiled.
// The emscripten trampolines are per guest module, WASI is shared by the runtime.
func (m *InstanceManager) instantiateImports(ctx context.Context, compiled wazero.CompiledModule) ([]api.Closer, error) {
	var needWASI, needEnv bool
	for _, fn := range compiled.ImportedFunctions() {
		modName, _, _ := fn.Import()
		switch modName {
		case wasiModuleName:
			needWASI = true
		case "env":
			needEnv = true
		}
	}

	var closers []api.Closer
	if needWASI && m.wasiReady.CompareAndSwap(false, true) {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, m.runtime.runtime); err != nil {
			m.wasiReady.Store(false)
			return nil, fmt.Errorf("failed to instantiate %s: %w", wasiModuleName, err)
		}
	}
	if needEnv {
		closer, err := emscripten.InstantiateForModule(ctx, m.runtime.runtime, compiled)
		if err != nil {
			return nil, fmt.Errorf("failed to instantiate emscripten imports: %w", err)
		}
		closers = append(closers, closer)
	}
	return closers, nil
}

// cacheExportedFunctions resolves the configured exports once.
func (m *InstanceManager) cacheExportedFunctions(module api.Module, config *InstanceConfig) (map[string]api.Function, error) {
	exports := make(map[string]api.Function, len(config.Exports))
	for _, name := range config.Exports {
		fn := module.ExportedFunction(name)
		if fn == nil {
			return nil, &FunctionNotFoundError{
				ModuleName:   config.ModuleName,
				FunctionName: name,
			}
		}
		exports[name] = fn
	}
	return exports, nil
}

// Function returns a cached export.
func (i *Instance) Function(name string) (api.Function, error) {
	fn, ok := i.exports[name]
	if !ok {
		return nil, &FunctionNotFoundError{ModuleName: i.Name, FunctionName: name}
	}
	return fn, nil
}

// Memory returns a memory helper bound to this instance's allocator exports.
func (i *Instance) Memory(mallocName, freeName string) (*Memory, error) {
	malloc, err := i.Function(mallocName)
	if err != nil {
		return nil, err
	}
	free, err := i.Function(freeName)
	if err != nil {
		return nil, err
	}
	if i.module.Memory() == nil {
		return nil, &MemoryAccessError{Operation: "export", Err: fmt.Errorf("module '%s' exports no memory", i.Name)}
	}
	return NewMemory(i.module, malloc, free), nil
}

// Close closes the instance and releases resources.
func (i *Instance) Close(ctx context.Context) error {
	i.stdout.Flush()
	i.stderr.Flush()
	i.runtime.DeleteInstance(i.ID)
	err := i.module.Close(ctx)
	closeAll(ctx, i.imports)
	return err
}

func closeAll(ctx context.Context, closers []api.Closer) {
	for _, c := range closers {
		_ = c.Close(ctx)
	}
}

var instanceSeq atomic.Uint64

// generateInstanceID generates a unique instance ID.
func generateInstanceID() string {
	return fmt.Sprintf("inst-%d-%d", time.Now().UnixNano(), instanceSeq.Add(1))
}
