package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/woxQAQ/drafter-wasm/internal/options"
	"github.com/woxQAQ/drafter-wasm/internal/protocol"
	"github.com/woxQAQ/drafter-wasm/internal/wasm"
)

// Loader compiles an engine build and binds it to its calling convention.
type Loader struct {
	runtime      *wasm.Runtime
	moduleLoader *wasm.ModuleLoader
	instances    *wasm.InstanceManager
	logger       *zap.Logger

	// Engines get their own component field, so they derive from this one.
	root *zap.Logger
}

// NewLoader creates a new engine loader.
func NewLoader(runtime *wasm.Runtime, logger *zap.Logger) *Loader {
	return &Loader{
		runtime:      runtime,
		moduleLoader: wasm.NewModuleLoader(runtime, logger),
		instances:    wasm.NewInstanceManager(runtime, logger),
		logger:       logger.With(zap.String("component", "engine-loader")),
		root:         logger,
	}
}

// Load loads the wasm file the manifest points at.
func (l *Loader) Load(ctx context.Context, m *Manifest) (*Engine, error) {
	return l.LoadSource(ctx, &wasm.FileModuleSource{Path: m.WasmPath()}, m)
}

// LoadBytes loads an engine build held in memory.
func (l *Loader) LoadBytes(ctx context.Context, m *Manifest, data []byte) (*Engine, error) {
	return l.LoadSource(ctx, &wasm.MemoryModuleSource{ModuleName: m.Name, Data: data}, m)
}

// LoadSource compiles src, instantiates it and resolves the exports the
// manifest's protocol needs.
func (l *Loader) LoadSource(ctx context.Context, src wasm.ModuleSource, m *Manifest) (*Engine, error) {
	start := time.Now()

	l.logger.Info("Loading engine",
		zap.String("name", m.Name),
		zap.String("version", m.Version),
		zap.String("protocol", m.Protocol),
	)

	encoder, err := protocol.New(m.ProtocolVersion())
	if err != nil {
		return nil, &LoadError{Engine: m.Name, Err: err}
	}

	compiled, err := l.moduleLoader.LoadModule(ctx, src)
	if err != nil {
		return nil, &LoadError{Engine: m.Name, Err: err}
	}

	if m.Wasm.Size > 0 && compiled.SizeBytes/1024 != int64(m.Wasm.Size) {
		l.logger.Warn("Engine build size differs from manifest",
			zap.String("name", m.Name),
			zap.Int("manifest_kb", m.Wasm.Size),
			zap.Int64("actual_kb", compiled.SizeBytes/1024),
		)
	}

	parseExport := encoder.Export(options.Parse)
	validateExport := encoder.Export(options.Validate)

	instance, err := l.instances.Instantiate(ctx, &wasm.InstanceConfig{
		ModuleName:     compiled.Name,
		Exports:        []string{m.Exports.Malloc, m.Exports.Free, parseExport, validateExport},
		StartFunctions: startFunctions(compiled, m.StartFunctions),
	})
	if err != nil {
		return nil, &LoadError{Engine: m.Name, Err: err}
	}

	eng, err := newEngine(instance, m, encoder, l.root)
	if err != nil {
		_ = instance.Close(ctx)
		return nil, &LoadError{Engine: m.Name, Err: err}
	}

	l.logger.Info("Engine loaded successfully",
		zap.String("name", m.Name),
		zap.Int64("size_bytes", compiled.SizeBytes),
		zap.Duration("duration", time.Since(start)),
	)

	return eng, nil
}

// startFunctions keeps the configured start functions the module exports.
func startFunctions(compiled *wasm.CompiledModule, names []string) []string {
	exported := compiled.Module.ExportedFunctions()
	var out []string
	for _, name := range names {
		if _, ok := exported[name]; ok {
			out = append(out, name)
		}
	}
	return out
}
