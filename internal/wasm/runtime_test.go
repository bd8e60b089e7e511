package wasm

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"
)

func newTestRuntime(t *testing.T, config *RuntimeConfig) *Runtime {
	t.Helper()
	runtime, err := NewRuntime(context.Background(), zaptest.NewLogger(t), config)
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}
	return runtime
}

func TestRuntimeLifecycle(t *testing.T) {
	ctx := context.Background()
	runtime := newTestRuntime(t, nil)

	if runtime.IsClosed() {
		t.Error("Runtime should not be closed initially")
	}

	// Close multiple times should not error.
	if err := runtime.Close(ctx); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := runtime.Close(ctx); err != nil {
		t.Errorf("Second close failed: %v", err)
	}

	if !runtime.IsClosed() {
		t.Error("Runtime should be closed after Close()")
	}
}

func TestRuntimeCloseCancelledContext(t *testing.T) {
	runtime := newTestRuntime(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := runtime.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("Unexpected error when closing with cancelled context: %v", err)
	}
}

func TestDefaultRuntimeConfig(t *testing.T) {
	config := DefaultRuntimeConfig()

	if config.MemoryPages != 512 {
		t.Errorf("Default memory pages = %d, want 512", config.MemoryPages)
	}
	if config.DebugEnabled {
		t.Error("Debug should be disabled by default")
	}
	if config.MaxInstances != 16 {
		t.Errorf("Default max instances = %d, want 16", config.MaxInstances)
	}
	if config.CacheDir != "" {
		t.Errorf("Compilation cache should be in memory by default, got %q", config.CacheDir)
	}

	runtime := newTestRuntime(t, nil)
	defer runtime.Close(context.Background())
	if runtime.Config().MemoryPages != 512 {
		t.Error("nil config should fall back to the defaults")
	}
}

func TestRuntimeCompilationCacheDir(t *testing.T) {
	runtime := newTestRuntime(t, &RuntimeConfig{CacheDir: t.TempDir(), MemoryPages: 128})

	if runtime.Config().MemoryPages != 128 {
		t.Errorf("Memory pages not set correctly")
	}
	if err := runtime.Close(context.Background()); err != nil {
		t.Errorf("Failed to close runtime: %v", err)
	}
}

func TestRuntimeModuleCache(t *testing.T) {
	runtime := newTestRuntime(t, nil)
	defer runtime.Close(context.Background())

	runtime.StoreCompiledModule(&CompiledModule{Name: "drafter", Digest: "abc", SizeBytes: 1024})

	retrieved, ok := runtime.GetCompiledModule("drafter")
	if !ok {
		t.Fatal("Failed to retrieve module from cache")
	}
	if retrieved.Digest != "abc" {
		t.Errorf("Retrieved wrong module: %+v", retrieved)
	}

	runtime.DeleteCompiledModule("drafter")
	if _, ok := runtime.GetCompiledModule("drafter"); ok {
		t.Error("Module should have been removed")
	}
}

func TestRuntimeInstanceTracking(t *testing.T) {
	runtime := newTestRuntime(t, nil)
	defer runtime.Close(context.Background())

	instance := &Instance{ID: "inst-1", Name: "drafter"}
	runtime.StoreInstance(instance)

	retrieved, ok := runtime.GetInstance("inst-1")
	if !ok || retrieved != instance {
		t.Fatal("Failed to retrieve instance from tracking")
	}
	if runtime.InstanceCount() != 1 {
		t.Errorf("InstanceCount() = %d, want 1", runtime.InstanceCount())
	}

	// Untracked before Close, which would otherwise close its nil module.
	runtime.DeleteInstance("inst-1")
	if _, ok := runtime.GetInstance("inst-1"); ok {
		t.Error("Instance should have been deleted")
	}
}

func TestErrorMessages(t *testing.T) {
	cause := errors.New("test error")

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "compilation",
			err:  &CompilationError{ModuleName: "drafter", Err: cause},
			want: "failed to compile Wasm module 'drafter': test error",
		},
		{
			name: "instantiation",
			err:  &InstantiationError{ModuleName: "drafter", InstanceID: "inst-1", Err: cause},
			want: "failed to instantiate module 'drafter' (instance: inst-1): test error",
		},
		{
			name: "module not found",
			err:  &ModuleNotFoundError{ModuleName: "drafter"},
			want: "module 'drafter' not found in cache",
		},
		{
			name: "function not found",
			err:  &FunctionNotFoundError{ModuleName: "drafter", FunctionName: "drafter_c_parse"},
			want: "function 'drafter_c_parse' not found in module 'drafter'",
		},
		{
			name: "memory access",
			err:  &MemoryAccessError{Operation: "read", Address: 64, Length: 4},
			want: "memory access failed (op=read, addr=64, len=4)",
		},
		{
			name: "allocation",
			err:  &AllocationError{Size: 17},
			want: "guest allocation of 17 bytes failed",
		},
		{
			name: "instance limit",
			err:  &InstanceLimitError{Limit: 2},
			want: "instance limit reached (2)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %s, want %s", got, tt.want)
			}
		})
	}

	wrapped := &MemoryAccessError{Operation: "read", Address: 64, Err: errUnterminated}
	if !errors.Is(wrapped, errUnterminated) {
		t.Error("MemoryAccessError should unwrap to its cause")
	}
}
