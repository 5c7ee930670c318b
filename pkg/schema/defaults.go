package schema

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// DefaultEvaluator evaluates Starlark default-value expressions for
// properties left unset on a create path. Expressions see the values
// submitted so far as `values` plus `now` as an RFC3339 string.
type DefaultEvaluator struct {
	timeout time.Duration
}

// NewDefaultEvaluator creates an evaluator with the given per-expression
// timeout.
func NewDefaultEvaluator(timeout time.Duration) *DefaultEvaluator {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &DefaultEvaluator{timeout: timeout}
}

// Eval evaluates one default expression against the submitted values.
func (de *DefaultEvaluator) Eval(ctx context.Context, expr string, values map[string]any) (any, error) {
	evalCtx, cancel := context.WithTimeout(ctx, de.timeout)
	defer cancel()

	resultCh := make(chan any, 1)
	errCh := make(chan error, 1)

	go func() {
		v, err := evalSync(expr, values)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- v
	}()

	select {
	case <-evalCtx.Done():
		return nil, fmt.Errorf("default expression timeout after %v", de.timeout)
	case err := <-errCh:
		return nil, err
	case v := <-resultCh:
		return v, nil
	}
}

// ApplyDefaults fills unset properties of a create payload from their
// default expressions, in property order, before validation. Properties the
// caller submitted (even as empty string) are left alone.
func (de *DefaultEvaluator) ApplyDefaults(ctx context.Context, model *Model, values map[string]any) error {
	for i := range model.Properties {
		p := &model.Properties[i]
		if p.Default == "" {
			continue
		}
		if _, present := values[p.Name]; present {
			continue
		}
		v, err := de.Eval(ctx, p.Default, values)
		if err != nil {
			return fmt.Errorf("default for property %q: %w", p.Name, err)
		}
		values[p.Name] = v
	}
	return nil
}

func evalSync(expr string, values map[string]any) (any, error) {
	thread := &starlark.Thread{
		Name: "recordloom-default",
		Print: func(_ *starlark.Thread, _ string) {
			// print is a no-op inside default expressions
		},
	}

	dict := starlark.NewDict(len(values))
	for k, v := range values {
		sv, err := toStarlark(v)
		if err != nil {
			return nil, fmt.Errorf("failed to convert value %s: %w", k, err)
		}
		if err := dict.SetKey(starlark.String(k), sv); err != nil {
			return nil, err
		}
	}

	predeclared := starlark.StringDict{
		"values": dict,
		"now":    starlark.String(time.Now().UTC().Format(time.RFC3339)),
	}

	v, err := starlark.EvalOptions(&syntax.FileOptions{}, thread, "default.star", expr, predeclared)
	if err != nil {
		return nil, fmt.Errorf("starlark evaluation failed: %w", err)
	}
	return fromStarlark(v)
}

func toStarlark(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}
	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

func fromStarlark(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return float64(i), nil
		}
		return nil, fmt.Errorf("integer out of range: %v", val)
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		out := make([]any, 0, val.Len())
		it := val.Iterate()
		defer it.Done()
		var item starlark.Value
		for it.Next(&item) {
			gv, err := fromStarlark(item)
			if err != nil {
				return nil, err
			}
			out = append(out, gv)
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]any, val.Len())
		for _, k := range val.Keys() {
			key, ok := k.(starlark.String)
			if !ok {
				return nil, fmt.Errorf("non-string dict key: %v", k)
			}
			item, _, err := val.Get(k)
			if err != nil {
				return nil, err
			}
			gv, err := fromStarlark(item)
			if err != nil {
				return nil, err
			}
			out[string(key)] = gv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
