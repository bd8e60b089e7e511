package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/woxQAQ/drafter-wasm/internal/enginetest"
	"github.com/woxQAQ/drafter-wasm/internal/options"
	"github.com/woxQAQ/drafter-wasm/internal/protocol"
	"github.com/woxQAQ/drafter-wasm/internal/wasm"
)

func setup(t *testing.T, version protocol.Version) (*Engine, *enginetest.Engine) {
	t.Helper()

	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	rt, err := wasm.NewRuntime(ctx, logger, wasm.DefaultRuntimeConfig())
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close(ctx) })

	fake := enginetest.New()
	if err := fake.Install(ctx, rt); err != nil {
		t.Fatalf("Failed to install fake engine: %v", err)
	}

	eng, err := NewLoader(rt, logger).LoadBytes(ctx, NewManifest("drafter-test", version), enginetest.Module())
	if err != nil {
		t.Fatalf("LoadBytes() failed: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close(ctx) })

	return eng, fake
}

func TestLoadRunsInitialize(t *testing.T) {
	eng, fake := setup(t, protocol.Bitpacked)

	if fake.Initialized() != 1 {
		t.Errorf("expected _initialize to run once, ran %d times", fake.Initialized())
	}
	if eng.Protocol() != protocol.Bitpacked {
		t.Errorf("expected protocol 'bitpacked', got '%s'", eng.Protocol())
	}
}

func TestCallParseBitpacked(t *testing.T) {
	eng, fake := setup(t, protocol.Bitpacked)

	set := options.Set{RequireBlueprintName: true, Sourcemap: true, JSON: true, Type: options.Refract}
	resp, err := eng.Call(context.Background(), options.Parse, "# API\n", set)
	if err != nil {
		t.Fatalf("Call() failed: %v", err)
	}

	if resp.Status != 0 {
		t.Errorf("expected status 0, got %d", resp.Status)
	}
	if !resp.HasOutput || !strings.Contains(resp.Output, `"content":"API"`) {
		t.Errorf("unexpected output: %s", resp.Output)
	}

	calls := fake.Calls()
	if len(calls) != 1 || calls[0].Func != "drafter_c_parse" {
		t.Fatalf("unexpected calls: %+v", calls)
	}
	if calls[0].Args[1] != 6 || calls[0].Args[2] != protocol.TypeRefract {
		t.Errorf("unexpected encoded options: %v", calls[0].Args)
	}

	if fake.Live() != 0 {
		t.Errorf("expected no live allocations, got %d", fake.Live())
	}
}

func TestCallValidatePositional(t *testing.T) {
	eng, fake := setup(t, protocol.Positional)

	set := options.Set{RequireBlueprintName: true, JSON: true, Type: options.Refract}
	resp, err := eng.Call(context.Background(), options.Validate, "not a blueprint", set)
	if err != nil {
		t.Fatalf("Call() failed: %v", err)
	}

	if resp.Status <= 0 {
		t.Errorf("expected positive status, got %d", resp.Status)
	}
	if !strings.Contains(resp.Output, enginetest.MissingNameMessage) {
		t.Errorf("expected missing-name annotation, got: %s", resp.Output)
	}

	calls := fake.Calls()
	if len(calls) != 1 || calls[0].Func != "c_validate" || calls[0].Args[1] != 1 {
		t.Errorf("unexpected calls: %+v", calls)
	}

	if fake.Live() != 0 {
		t.Errorf("expected no live allocations, got %d", fake.Live())
	}
}

func TestCallPositionalRejectsAST(t *testing.T) {
	eng, fake := setup(t, protocol.Positional)

	_, err := eng.Call(context.Background(), options.Parse, "# API\n", options.Set{JSON: true, Type: options.AST})
	var optErr *options.InvalidOptionError
	if !errors.As(err, &optErr) {
		t.Fatalf("expected InvalidOptionError, got %v", err)
	}

	if fake.Mallocs() != 0 || len(fake.Calls()) != 0 {
		t.Errorf("rejected options must not touch the engine: mallocs=%d calls=%d", fake.Mallocs(), len(fake.Calls()))
	}
}

func TestCallTrapReleasesMemory(t *testing.T) {
	eng, fake := setup(t, protocol.Bitpacked)

	_, err := eng.Call(context.Background(), options.Parse, enginetest.TrapMarker, options.Defaults())
	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected CallError, got %v", err)
	}
	if callErr.Export != "drafter_c_parse" {
		t.Errorf("expected export 'drafter_c_parse', got '%s'", callErr.Export)
	}

	if fake.Live() != 0 {
		t.Errorf("expected no live allocations after trap, got %d", fake.Live())
	}

	// The instance stays usable after a trapped call.
	if _, err := eng.Call(context.Background(), options.Parse, "# API\n", options.Defaults()); err != nil {
		t.Errorf("Call() after trap failed: %v", err)
	}
}

func TestCallCanceledContext(t *testing.T) {
	eng, fake := setup(t, protocol.Bitpacked)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.Call(ctx, options.Parse, "# API\n", options.Defaults())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if fake.Mallocs() != 0 {
		t.Errorf("canceled call must not allocate, got %d mallocs", fake.Mallocs())
	}
}

func TestCallAfterClose(t *testing.T) {
	eng, _ := setup(t, protocol.Bitpacked)
	ctx := context.Background()

	if err := eng.Close(ctx); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := eng.Close(ctx); err != nil {
		t.Errorf("second Close() should be a no-op: %v", err)
	}

	_, err := eng.Call(ctx, options.Parse, "# API\n", options.Defaults())
	var closedErr *ClosedError
	if !errors.As(err, &closedErr) {
		t.Errorf("expected ClosedError, got %v", err)
	}
}

func TestLoadMissingExport(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	rt, err := wasm.NewRuntime(ctx, logger, wasm.DefaultRuntimeConfig())
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}
	defer rt.Close(ctx)

	if err := enginetest.New().Install(ctx, rt); err != nil {
		t.Fatal(err)
	}

	_, err = NewLoader(rt, logger).LoadBytes(ctx,
		NewManifest("drafter-old", protocol.Bitpacked),
		enginetest.ModuleWithout("drafter_c_parse", "drafter_c_validate"))

	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected LoadError, got %v", err)
	}
	var fnErr *wasm.FunctionNotFoundError
	if !errors.As(err, &fnErr) {
		t.Errorf("expected FunctionNotFoundError in chain, got %v", err)
	}
}

func TestLoadFromManifest(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "drafter.wasm"), enginetest.Module(), 0o644); err != nil {
		t.Fatal(err)
	}
	manifest := "name: drafter\nversion: 5.1.0\nprotocol: positional\nwasm:\n  file: drafter.wasm\n"
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := ParseManifest(dir)
	if err != nil {
		t.Fatalf("ParseManifest() failed: %v", err)
	}

	rt, err := wasm.NewRuntime(ctx, logger, wasm.DefaultRuntimeConfig())
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}
	defer rt.Close(ctx)

	if err := enginetest.New().Install(ctx, rt); err != nil {
		t.Fatal(err)
	}

	eng, err := NewLoader(rt, logger).Load(ctx, m)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	defer eng.Close(ctx)

	if eng.Manifest().Name != "drafter" || eng.Protocol() != protocol.Positional {
		t.Errorf("unexpected engine: %s", eng.Manifest())
	}
}

func TestLogEntriesCarryOneComponent(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	rt, err := wasm.NewRuntime(ctx, logger, wasm.DefaultRuntimeConfig())
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}
	defer rt.Close(ctx)

	if err := enginetest.New().Install(ctx, rt); err != nil {
		t.Fatal(err)
	}

	eng, err := NewLoader(rt, logger).LoadBytes(ctx, NewManifest("drafter-test", protocol.Bitpacked), enginetest.Module())
	if err != nil {
		t.Fatalf("LoadBytes() failed: %v", err)
	}
	defer eng.Close(ctx)

	set := options.Defaults()
	if _, err := eng.Call(ctx, options.Parse, "# API\n", set); err != nil {
		t.Fatalf("Call() failed: %v", err)
	}

	seen := map[string]bool{}
	for _, entry := range logs.AllUntimed() {
		n := 0
		for _, f := range entry.Context {
			if f.Key == "component" {
				n++
				seen[f.String] = true
			}
		}
		if n != 1 {
			t.Errorf("%q has %d component fields, want 1", entry.Message, n)
		}
	}

	for _, component := range []string{"engine-loader", "engine", "wasm-bridge"} {
		if !seen[component] {
			t.Errorf("no entry logged by component %q", component)
		}
	}
}
