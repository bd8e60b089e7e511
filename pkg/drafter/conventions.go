package drafter

import (
	"context"
)

// The sync option is accepted by every method below and has no effect:
// the method name already fixes how the outcome is delivered.

// ParseSync parses text and returns the result. Blueprint errors are
// returned as *ContentError carrying the engine's document.
func (d *Drafter) ParseSync(ctx context.Context, text string, opts map[string]any) (*Result, error) {
	return d.direct(ctx, OpParse, text, opts)
}

// ValidateSync validates text. A nil result with a nil error means no
// findings; otherwise the result describes them.
func (d *Drafter) ValidateSync(ctx context.Context, text string, opts map[string]any) (*Result, error) {
	return d.direct(ctx, OpValidate, text, opts)
}

// Parse runs ParseSync and delivers the outcome through a Promise. Invalid
// options are returned directly and no promise is created.
func (d *Drafter) Parse(ctx context.Context, text string, opts map[string]any) (*Promise, error) {
	return d.promise(ctx, OpParse, text, opts)
}

// Validate runs ValidateSync and delivers the outcome through a Promise.
func (d *Drafter) Validate(ctx context.Context, text string, opts map[string]any) (*Promise, error) {
	return d.promise(ctx, OpValidate, text, opts)
}

// ParseFunc runs ParseSync and hands the outcome to cb before returning.
// Only argument and option errors are returned; everything else goes to cb.
func (d *Drafter) ParseFunc(ctx context.Context, text string, opts map[string]any, cb Callback) error {
	return d.callback(ctx, OpParse, "ParseFunc", text, opts, cb)
}

// ValidateFunc runs ValidateSync and hands the outcome to cb.
func (d *Drafter) ValidateFunc(ctx context.Context, text string, opts map[string]any, cb Callback) error {
	return d.callback(ctx, OpValidate, "ValidateFunc", text, opts, cb)
}

func (d *Drafter) direct(ctx context.Context, op Operation, text string, opts map[string]any) (*Result, error) {
	set, _, err := d.prepare(op, opts)
	if err != nil {
		return nil, err
	}
	return d.run(ctx, op, text, set)
}

func (d *Drafter) promise(ctx context.Context, op Operation, text string, opts map[string]any) (*Promise, error) {
	set, _, err := d.prepare(op, opts)
	if err != nil {
		return nil, err
	}
	p := newPromise()
	p.settle(d.run(ctx, op, text, set))
	return p, nil
}

func (d *Drafter) callback(ctx context.Context, op Operation, method, text string, opts map[string]any, cb Callback) error {
	if cb == nil {
		return &ArgumentError{Method: method, Message: "callback must not be nil"}
	}
	set, _, err := d.prepare(op, opts)
	if err != nil {
		return err
	}
	res, err := d.run(ctx, op, text, set)
	cb(err, res)
	return nil
}
