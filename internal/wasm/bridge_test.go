package wasm_test

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/drafter-wasm/internal/wasm"
)

func TestBridgeReleasesEverything(t *testing.T) {
	f := newFixture(t, nil)
	bridge := wasm.NewBridge(f.mem, zaptest.NewLogger(t))
	ctx := context.Background()

	var seen wasm.Request
	resp, err := bridge.WithEncodedRequest(ctx, "# API\n", func(ctx context.Context, req wasm.Request) (int32, error) {
		seen = req

		text, err := f.mem.ReadCString(req.Input)
		if err != nil {
			return 0, err
		}
		if text != "# API\n" {
			t.Errorf("engine saw %q", text)
		}

		out, err := f.mem.Alloc(ctx, 8)
		if err != nil {
			return 0, err
		}
		if err := f.mem.WriteCString(out, 8, "{}"); err != nil {
			return 0, err
		}
		return 3, f.mem.WritePointer(req.Slot, out)
	})
	if err != nil {
		t.Fatalf("WithEncodedRequest() failed: %v", err)
	}

	if resp.Status != 3 || resp.Output != "{}" || !resp.HasOutput {
		t.Errorf("unexpected response %+v", resp)
	}
	if seen.InputSize != wasm.CStringSize("# API\n") {
		t.Errorf("InputSize = %d, want %d", seen.InputSize, wasm.CStringSize("# API\n"))
	}
	if f.fake.Live() != 0 || len(f.fake.BadFrees()) != 0 {
		t.Errorf("leaked %d allocations, bad frees %v", f.fake.Live(), f.fake.BadFrees())
	}
	if f.fake.Mallocs() != 3 || f.fake.Frees() != 3 {
		t.Errorf("expected 3 mallocs and 3 frees, got %d and %d", f.fake.Mallocs(), f.fake.Frees())
	}
}

func TestBridgeNullOutput(t *testing.T) {
	f := newFixture(t, nil)
	bridge := wasm.NewBridge(f.mem, zaptest.NewLogger(t))

	resp, err := bridge.WithEncodedRequest(context.Background(), "", func(context.Context, wasm.Request) (int32, error) {
		return 0, nil
	})
	if err != nil {
		t.Fatalf("WithEncodedRequest() failed: %v", err)
	}
	if resp.HasOutput || resp.Output != "" {
		t.Errorf("null slot should mean no output, got %+v", resp)
	}
	if f.fake.Live() != 0 || len(f.fake.BadFrees()) != 0 {
		t.Errorf("leaked %d allocations, bad frees %v", f.fake.Live(), f.fake.BadFrees())
	}
}

func TestBridgeCallErrorStillFreesOutput(t *testing.T) {
	f := newFixture(t, nil)
	bridge := wasm.NewBridge(f.mem, zaptest.NewLogger(t))
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := bridge.WithEncodedRequest(ctx, "# API\n", func(ctx context.Context, req wasm.Request) (int32, error) {
		out, err := f.mem.Alloc(ctx, 8)
		if err != nil {
			return 0, err
		}
		_ = f.mem.WritePointer(req.Slot, out)
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected call error, got %v", err)
	}
	if f.fake.Live() != 0 {
		t.Errorf("leaked %d allocations", f.fake.Live())
	}
}

func TestBridgeAllocationFailures(t *testing.T) {
	for _, after := range []int{0, 1} {
		f := newFixture(t, nil)
		bridge := wasm.NewBridge(f.mem, zaptest.NewLogger(t))
		f.fake.FailMallocAfter(after)

		called := false
		_, err := bridge.WithEncodedRequest(context.Background(), "# API\n", func(context.Context, wasm.Request) (int32, error) {
			called = true
			return 0, nil
		})

		var allocErr *wasm.AllocationError
		if !errors.As(err, &allocErr) {
			t.Errorf("after=%d: expected AllocationError, got %v", after, err)
		}
		if called {
			t.Errorf("after=%d: engine must not run without its buffers", after)
		}
		if f.fake.Live() != 0 {
			t.Errorf("after=%d: leaked %d allocations", after, f.fake.Live())
		}
	}
}

func TestBridgePanicReleases(t *testing.T) {
	f := newFixture(t, nil)
	bridge := wasm.NewBridge(f.mem, zaptest.NewLogger(t))

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected the panic to propagate")
			}
		}()
		_, _ = bridge.WithEncodedRequest(context.Background(), "# API\n", func(context.Context, wasm.Request) (int32, error) {
			panic("engine bug")
		})
	}()

	if f.fake.Live() != 0 {
		t.Errorf("leaked %d allocations", f.fake.Live())
	}
}
