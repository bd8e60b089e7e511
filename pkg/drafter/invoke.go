package drafter

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/woxQAQ/drafter-wasm/internal/engine"
	"github.com/woxQAQ/drafter-wasm/internal/observability"
	"github.com/woxQAQ/drafter-wasm/internal/options"
	"github.com/woxQAQ/drafter-wasm/internal/result"
)

// prepare validates raw options for op. Everything it rejects is rejected
// before the engine allocates anything, whatever the calling convention.
func (d *Drafter) prepare(op Operation, raw map[string]any) (options.Set, bool, error) {
	set, sync, err := options.Resolve(op, raw)
	if err != nil {
		return set, false, err
	}
	if eng := d.engine.Load(); eng != nil {
		if err := eng.Check(op, set); err != nil {
			return set, false, err
		}
	}
	return set, sync, nil
}

// run is the single implementation behind every calling convention.
func (d *Drafter) run(ctx context.Context, op Operation, text string, set options.Set) (*Result, error) {
	ctx, span := observability.StartCallSpan(ctx, d.tracer, string(op), len(text))
	defer span.End()

	res, err := d.runOnce(ctx, op, text, set)
	observability.RecordError(span, err)
	return res, err
}

func (d *Drafter) runOnce(ctx context.Context, op Operation, text string, set options.Set) (*Result, error) {
	eng := d.engine.Load()
	if !d.gate.IsReady() || eng == nil {
		return nil, &NotReadyError{Operation: op}
	}

	resp, err := eng.Call(ctx, op, text, set)
	if err != nil {
		return nil, d.classify(op, err)
	}

	observability.RecordCallResult(trace.SpanFromContext(ctx), string(eng.Protocol()), resp.Status)

	d.logger.Debug("Call completed",
		zap.String("operation", string(op)),
		zap.Int32("status", resp.Status),
		zap.Int("output_bytes", len(resp.Output)),
	)

	switch {
	case resp.Status < 0:
		return nil, &EngineError{Operation: op, Status: resp.Status}
	case op == OpValidate && resp.Status == 0:
		// No findings.
		return nil, nil
	}

	res, err := result.Shape(resp.Status, resp.Output, resp.HasOutput, set.JSON)
	if err != nil {
		return nil, err
	}

	if op == OpParse && resp.Status > 0 {
		return nil, &ContentError{Operation: op, Status: resp.Status, Result: res}
	}
	return res, nil
}

// classify maps engine-layer failures onto the public error kinds. Option,
// memory, decode and context errors pass through unchanged.
func (d *Drafter) classify(op Operation, err error) error {
	var callErr *engine.CallError
	var closedErr *engine.ClosedError
	if errors.As(err, &callErr) || errors.As(err, &closedErr) {
		return &EngineError{Operation: op, Err: err}
	}
	return err
}
