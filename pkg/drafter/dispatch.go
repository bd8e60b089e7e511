package drafter

import (
	"context"
)

type method struct {
	op    Operation
	sync  bool
	usage string
}

var methods = map[string]method{
	"parse":        {op: OpParse, usage: "`parse(string, options, [callback])`"},
	"parseSync":    {op: OpParse, sync: true, usage: "`parseSync(string, options)`"},
	"validate":     {op: OpValidate, usage: "`validate(string, options, [callback])`"},
	"validateSync": {op: OpValidate, sync: true, usage: "`validateSync(string, options)`"},
}

// Invoke calls one of parse, parseSync, validate or validateSync with a
// loosely typed argument list: the text, then optionally an options map
// and a Callback. A Callback may take the options position.
//
// The outcome depends on how the call is made:
//   - *Sync methods, or options with sync set, return the value directly:
//     the decoded document, the raw string when json is false, or nil.
//   - with a Callback, the callback receives the outcome and Invoke
//     returns (nil, nil).
//   - otherwise Invoke returns a settled *Promise.
//
// Argument and option errors are always returned directly.
func (d *Drafter) Invoke(ctx context.Context, name string, args ...any) (any, error) {
	m, ok := methods[name]
	if !ok {
		return nil, &ArgumentError{Method: name, Message: "unknown method, expected parse, parseSync, validate or validateSync"}
	}

	maxArgs := 3
	if m.sync {
		maxArgs = 2
	}
	if len(args) < 1 || len(args) > maxArgs {
		return nil, &ArgumentError{Method: name, Message: "wrong number of arguments, " + m.usage + " expected"}
	}

	text, ok := args[0].(string)
	if !ok {
		return nil, &ArgumentError{Method: name, Message: "wrong 1st argument - string expected, " + m.usage}
	}

	var opts map[string]any
	var cb Callback
	if len(args) > 1 {
		switch v := args[1].(type) {
		case nil:
		case map[string]any:
			opts = v
		default:
			fn, isFunc := asCallback(v)
			if !isFunc || m.sync {
				return nil, &ArgumentError{Method: name, Message: "wrong 2nd argument - object expected, " + m.usage}
			}
			cb = fn
		}
	}
	if len(args) > 2 && args[2] != nil {
		fn, isFunc := asCallback(args[2])
		if !isFunc || cb != nil {
			return nil, &ArgumentError{Method: name, Message: "wrong 3rd argument - function expected, " + m.usage}
		}
		cb = fn
	}

	set, sync, err := d.prepare(m.op, opts)
	if err != nil {
		return nil, err
	}

	switch {
	case m.sync || sync:
		res, err := d.run(ctx, m.op, text, set)
		if err != nil || res == nil {
			return nil, err
		}
		return res.Value(), nil
	case cb != nil:
		res, err := d.run(ctx, m.op, text, set)
		cb(err, res)
		return nil, nil
	default:
		p := newPromise()
		p.settle(d.run(ctx, m.op, text, set))
		return p, nil
	}
}

func asCallback(v any) (Callback, bool) {
	switch fn := v.(type) {
	case Callback:
		return fn, fn != nil
	case func(error, *Result):
		return fn, fn != nil
	default:
		return nil, false
	}
}
