package wasm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// wasmMagic opens every wasm binary. Emscripten's JS glue and truncated
// downloads are the usual reasons it is missing.
var wasmMagic = []byte{0x00, 'a', 's', 'm'}

var errNotWasm = errors.New("not a wasm binary (missing \\0asm header)")

// ModuleLoader compiles engine builds and caches the result by name.
type ModuleLoader struct {
	runtime *Runtime
	logger  *zap.Logger
}

// NewModuleLoader creates a new module loader.
func NewModuleLoader(runtime *Runtime, logger *zap.Logger) *ModuleLoader {
	return &ModuleLoader{
		runtime: runtime,
		logger:  logger.With(zap.String("component", "wasm-loader")),
	}
}

// ModuleSource supplies the bytes of an engine build.
type ModuleSource interface {
	Bytes() ([]byte, error)

	// Name keys the compiled module cache.
	Name() string
}

// FileModuleSource reads an engine build from disk.
type FileModuleSource struct {
	Path string
}

func (f *FileModuleSource) Bytes() ([]byte, error) {
	return os.ReadFile(f.Path)
}

func (f *FileModuleSource) Name() string {
	return f.Path
}

// MemoryModuleSource serves an engine build embedded in the host binary.
type MemoryModuleSource struct {
	ModuleName string
	Data       []byte
}

func (m *MemoryModuleSource) Bytes() ([]byte, error) {
	return m.Data, nil
}

func (m *MemoryModuleSource) Name() string {
	return m.ModuleName
}

// LoadModule compiles source unless a module with the same name and the same
// bytes is already cached. A cached module whose bytes changed, e.g. after
// the engine was rebuilt in place, is closed and compiled again.
func (l *ModuleLoader) LoadModule(ctx context.Context, source ModuleSource) (*CompiledModule, error) {
	wasmBytes, err := source.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to read module %s: %w", source.Name(), err)
	}
	digest := sha256.Sum256(wasmBytes)
	sum := hex.EncodeToString(digest[:])

	if cached, ok := l.runtime.GetCompiledModule(source.Name()); ok {
		if cached.Digest == sum {
			l.logger.Debug("Module cache hit",
				zap.String("module", source.Name()),
			)
			return cached, nil
		}
		l.logger.Info("Engine build changed, recompiling",
			zap.String("module", source.Name()),
			zap.String("old_digest", cached.Digest[:12]),
			zap.String("new_digest", sum[:12]),
		)
		if err := l.Unload(ctx, source.Name()); err != nil {
			return nil, err
		}
	}

	if !bytes.HasPrefix(wasmBytes, wasmMagic) {
		return nil, &CompilationError{ModuleName: source.Name(), Err: errNotWasm}
	}

	l.logger.Info("Compiling Wasm module",
		zap.String("module", source.Name()),
		zap.Int("size_bytes", len(wasmBytes)),
	)

	startTime := time.Now()

	// With a cache dir the native code survives restarts and this only validates.
	compiled, err := l.runtime.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, &CompilationError{
			ModuleName: source.Name(),
			Err:        err,
		}
	}

	compiledModule := &CompiledModule{
		Module:     compiled,
		Name:       source.Name(),
		Digest:     sum,
		SizeBytes:  int64(len(wasmBytes)),
		CompiledAt: time.Now().Unix(),
	}

	l.runtime.StoreCompiledModule(compiledModule)

	l.logger.Info("Module compiled successfully",
		zap.String("module", source.Name()),
		zap.String("digest", sum[:12]),
		zap.Duration("duration", time.Since(startTime)),
	)

	return compiledModule, nil
}

// Unload drops a compiled module from the cache and releases its code.
// Instances created from it keep running.
func (l *ModuleLoader) Unload(ctx context.Context, name string) error {
	cached, ok := l.runtime.GetCompiledModule(name)
	if !ok {
		return &ModuleNotFoundError{ModuleName: name}
	}
	l.runtime.DeleteCompiledModule(name)
	return cached.Module.Close(ctx)
}

// LoadModuleFromFile loads an engine build from path.
func (l *ModuleLoader) LoadModuleFromFile(ctx context.Context, path string) (*CompiledModule, error) {
	return l.LoadModule(ctx, &FileModuleSource{Path: path})
}

// LoadModuleFromMemory loads an engine build held in memory.
func (l *ModuleLoader) LoadModuleFromMemory(ctx context.Context, name string, data []byte) (*CompiledModule, error) {
	return l.LoadModule(ctx, &MemoryModuleSource{ModuleName: name, Data: data})
}
