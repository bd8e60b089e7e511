// Package drafter parses and validates API Blueprint documents with the
// drafter engine compiled to WebAssembly.
//
// A Drafter owns one wazero runtime and, once loaded, one engine instance.
// Every operation is available three ways: ParseSync returns the result,
// Parse returns a settled Promise, ParseFunc hands the result to a callback.
// Invoke offers the same operations behind a loosely typed argument list.
//
// Calls run on the caller's goroutine and are serialised per Drafter; the
// promise and callback forms only change how the outcome is delivered.
package drafter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/woxQAQ/drafter-wasm/internal/config"
	"github.com/woxQAQ/drafter-wasm/internal/engine"
	"github.com/woxQAQ/drafter-wasm/internal/observability"
	"github.com/woxQAQ/drafter-wasm/internal/options"
	"github.com/woxQAQ/drafter-wasm/internal/protocol"
	"github.com/woxQAQ/drafter-wasm/internal/readiness"
	"github.com/woxQAQ/drafter-wasm/internal/result"
	"github.com/woxQAQ/drafter-wasm/internal/wasm"
)

// Operation selects parse or validate.
type Operation = options.Operation

const (
	OpParse    = options.Parse
	OpValidate = options.Validate
)

// Result is the outcome of a successful call.
type Result = result.Result

// Drafter is the entry point to the engine. It is safe for concurrent use.
type Drafter struct {
	logger  *zap.Logger
	tracer  trace.Tracer
	runtime *wasm.Runtime
	loader  *engine.Loader

	gate   readiness.Gate
	engine atomic.Pointer[engine.Engine]

	loadMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

type settings struct {
	logger        *zap.Logger
	tracer        trace.Tracer
	runtimeConfig *wasm.RuntimeConfig
}

// Option configures a Drafter.
type Option func(*settings)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithTracer sets the tracer for call spans. The default uses the global
// OpenTelemetry provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *settings) { s.tracer = tracer }
}

// WithRuntimeConfig overrides the wasm runtime limits.
func WithRuntimeConfig(cfg *wasm.RuntimeConfig) Option {
	return func(s *settings) { s.runtimeConfig = cfg }
}

// Source locates an engine build. The first non-empty of Manifest, WasmPath
// and Wasm is used.
type Source struct {
	// Manifest is an engine.yaml path or the directory that holds it.
	Manifest string
	// WasmPath is a bare engine build.
	WasmPath string
	// Wasm is an engine build held in memory, named Name.
	Wasm []byte
	Name string
	// Protocol is the calling convention of WasmPath or Wasm builds.
	Protocol string
}

// SourceFromConfig builds a Source from the engine section of cfg.
func SourceFromConfig(cfg *config.Config) Source {
	return Source{
		Manifest: cfg.Engine.Manifest,
		WasmPath: cfg.Engine.WasmPath,
		Protocol: cfg.Engine.Protocol,
	}
}

// ErrNoSource is returned when a Source names no engine build.
var ErrNoSource = errors.New("no engine source configured: set a manifest or wasm path")

func (s Source) manifest() (*engine.Manifest, error) {
	switch {
	case s.Manifest != "":
		return engine.ParseManifest(s.Manifest)
	case s.WasmPath != "":
		m := engine.ManifestForFile(s.WasmPath, protocol.Version(s.Protocol))
		if err := m.Validate(); err != nil {
			return nil, err
		}
		return m, nil
	case len(s.Wasm) > 0:
		name := s.Name
		if name == "" {
			name = "drafter"
		}
		return engine.NewManifest(name, protocol.Version(s.Protocol)), nil
	default:
		return nil, ErrNoSource
	}
}

// New creates a Drafter with a fresh runtime. It is not ready until Load
// succeeds.
func New(ctx context.Context, opts ...Option) (*Drafter, error) {
	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(observability.TracerName)
	}

	rt, err := wasm.NewRuntime(ctx, s.logger, s.runtimeConfig)
	if err != nil {
		return nil, err
	}

	return &Drafter{
		logger:  s.logger.With(zap.String("component", "drafter")),
		tracer:  s.tracer,
		runtime: rt,
		loader:  engine.NewLoader(rt, s.logger),
	}, nil
}

// Open creates a Drafter from configuration and loads the configured engine.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Drafter, error) {
	opts = append([]Option{WithRuntimeConfig(cfg.RuntimeConfig())}, opts...)
	d, err := New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if err := d.Load(ctx, SourceFromConfig(cfg)); err != nil {
		_ = d.Close(ctx)
		return nil, err
	}
	return d, nil
}

// Load instantiates the engine and opens the readiness gate. A Drafter
// loads at most one engine; a failed Load may be retried.
func (d *Drafter) Load(ctx context.Context, src Source) error {
	d.loadMu.Lock()
	defer d.loadMu.Unlock()

	if d.gate.IsReady() {
		return &AlreadyLoadedError{}
	}
	if d.runtime.IsClosed() {
		return &engine.ClosedError{Engine: src.Name}
	}

	m, err := src.manifest()
	if err != nil {
		return err
	}

	var eng *engine.Engine
	if len(src.Wasm) > 0 && src.Manifest == "" && src.WasmPath == "" {
		eng, err = d.loader.LoadBytes(ctx, m, src.Wasm)
	} else {
		eng, err = d.loader.Load(ctx, m)
	}
	if err != nil {
		return err
	}

	d.engine.Store(eng)
	d.gate.MarkReady()

	d.logger.Info("Engine ready",
		zap.Stringer("engine", m),
		zap.String("protocol", string(eng.Protocol())),
	)
	return nil
}

// LoadAsync runs Load in the background. The channel receives its result
// and is then closed.
func (d *Drafter) LoadAsync(ctx context.Context, src Source) <-chan error {
	ch := make(chan error, 1)
	go func() {
		defer close(ch)
		ch <- d.Load(ctx, src)
	}()
	return ch
}

// IsReady reports whether the engine has been loaded.
func (d *Drafter) IsReady() bool {
	return d.gate.IsReady()
}

// Ready returns a channel closed once the engine is loaded.
func (d *Drafter) Ready() <-chan struct{} {
	return d.gate.Ready()
}

// Close releases the engine and the runtime. The Drafter stays ready; later
// calls fail with an EngineError.
func (d *Drafter) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		var errs []error
		if eng := d.engine.Load(); eng != nil {
			errs = append(errs, eng.Close(ctx))
		}
		errs = append(errs, d.runtime.Close(ctx))
		d.closeErr = errors.Join(errs...)
	})
	return d.closeErr
}
