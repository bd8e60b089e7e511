// Package engine binds a loaded drafter wasm build to its calling convention
// and runs raw parse/validate calls against it.
package engine

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/woxQAQ/drafter-wasm/internal/options"
	"github.com/woxQAQ/drafter-wasm/internal/protocol"
	"github.com/woxQAQ/drafter-wasm/internal/wasm"
)

// Engine is one instantiated engine build.
//
// A wasm instance cannot run two calls at once, so Call holds a mutex for
// the whole request: allocation, native call and release.
type Engine struct {
	manifest *Manifest
	instance *wasm.Instance
	bridge   *wasm.Bridge
	encoder  protocol.Encoder
	parse    api.Function
	validate api.Function
	logger   *zap.Logger

	mu     sync.Mutex
	closed bool
}

func newEngine(instance *wasm.Instance, m *Manifest, encoder protocol.Encoder, logger *zap.Logger) (*Engine, error) {
	mem, err := instance.Memory(m.Exports.Malloc, m.Exports.Free)
	if err != nil {
		return nil, err
	}
	parse, err := instance.Function(encoder.Export(options.Parse))
	if err != nil {
		return nil, err
	}
	validate, err := instance.Function(encoder.Export(options.Validate))
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String("engine", m.Name))
	return &Engine{
		manifest: m,
		instance: instance,
		bridge:   wasm.NewBridge(mem, logger),
		encoder:  encoder,
		parse:    parse,
		validate: validate,
		logger:   logger.With(zap.String("component", "engine")),
	}, nil
}

// Manifest returns the manifest the engine was loaded from.
func (e *Engine) Manifest() *Manifest {
	return e.manifest
}

// Protocol returns the engine's calling convention.
func (e *Engine) Protocol() protocol.Version {
	return e.encoder.Version()
}

// Check reports whether set can be expressed to this engine build.
func (e *Engine) Check(op options.Operation, set options.Set) error {
	return e.encoder.Check(op, set)
}

// Call runs op on text and returns the engine's status and output.
// ctx is consulted before the call starts; a running native call is not
// interrupted.
func (e *Engine) Call(ctx context.Context, op options.Operation, text string, set options.Set) (wasm.Response, error) {
	if err := e.encoder.Check(op, set); err != nil {
		return wasm.Response{}, err
	}

	fn, export := e.parse, e.encoder.Export(op)
	if op == options.Validate {
		fn = e.validate
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return wasm.Response{}, &ClosedError{Engine: e.manifest.Name}
	}
	if err := ctx.Err(); err != nil {
		return wasm.Response{}, err
	}

	e.logger.Debug("Calling engine",
		zap.String("operation", string(op)),
		zap.String("export", export),
		zap.Int("input_bytes", len(text)),
	)

	return e.bridge.WithEncodedRequest(ctx, text, func(ctx context.Context, req wasm.Request) (int32, error) {
		results, err := fn.Call(ctx, e.encoder.Args(op, req.Input, req.Slot, set)...)
		if err != nil {
			return 0, &CallError{Export: export, Err: err}
		}
		return api.DecodeI32(results[0]), nil
	})
}

// Close releases the engine instance. Later calls fail with ClosedError.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	return e.instance.Close(ctx)
}
