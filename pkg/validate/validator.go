// Package validate implements the constraint validator: required, regex
// ruleset, uniqueness, and numeric bound checks of candidate value sets
// against a Model. The validator is pure apart from the uniqueness scan; it
// never writes.
package validate

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/recordloom/recordloom/pkg/engine"
	"github.com/recordloom/recordloom/pkg/schema"
)

// Validator implements engine.Validator.
type Validator struct {
	schemas engine.SchemaSource
	logger  zerolog.Logger

	mu       sync.Mutex
	patterns map[string]*compiledPattern
}

// compiledPattern caches one ruleset compilation outcome. Broken patterns
// are cached too so the warning fires once per pattern, not per record.
type compiledPattern struct {
	re  *regexp.Regexp
	err error
}

// New creates a validator backed by the given definition source.
func New(schemas engine.SchemaSource, logger zerolog.Logger) *Validator {
	return &Validator{
		schemas:  schemas,
		logger:   logger.With().Str("component", "validator").Logger(),
		patterns: make(map[string]*compiledPattern),
	}
}

var _ engine.Validator = (*Validator)(nil)

// Validate checks values against the model and stops at the first failing
// property, returning a field-attributed validation error.
func (v *Validator) Validate(ctx context.Context, store engine.Reader, model *schema.Model, values map[string]any, existingEntityID string) error {
	failures, err := v.run(ctx, store, model, values, existingEntityID, true)
	if err != nil {
		return err
	}
	if len(failures) > 0 {
		return engine.NewValidationError(failures[0].Property, "%s", failures[0].Message)
	}
	return nil
}

// ValidateAll collects every failure for form display.
func (v *Validator) ValidateAll(ctx context.Context, store engine.Reader, model *schema.Model, values map[string]any, existingEntityID string) (*engine.ValidationResult, error) {
	failures, err := v.run(ctx, store, model, values, existingEntityID, false)
	if err != nil {
		return nil, err
	}
	return &engine.ValidationResult{
		Valid:    len(failures) == 0,
		Failures: failures,
	}, nil
}

// run walks the model's properties in declared order. Checks per property:
// required, ruleset regex, uniqueness, numeric bounds. The result is
// deterministic and independent of the order of unrelated properties.
func (v *Validator) run(ctx context.Context, store engine.Reader, model *schema.Model, values map[string]any, existingEntityID string, firstOnly bool) ([]engine.ValidationFailure, error) {
	var failures []engine.ValidationFailure
	add := func(property, format string, args ...any) {
		failures = append(failures, engine.ValidationFailure{
			Property: property,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	for i := range model.Properties {
		if firstOnly && len(failures) > 0 {
			return failures, nil
		}
		p := &model.Properties[i]
		raw, present := values[p.Name]
		missing := !present || raw == nil || raw == ""

		if p.Required && missing {
			add(p.Name, "value is required")
			continue
		}
		if missing {
			continue
		}

		switch p.Type {
		case schema.PropertyTypeString:
			s, ok := raw.(string)
			if !ok {
				add(p.Name, "expected a string, got %T", raw)
				continue
			}
			if p.RulesetName != "" && s != "" {
				if ok, msg := v.matchRuleset(p.RulesetName, s); !ok {
					add(p.Name, "%s", msg)
					continue
				}
			}
			if p.Unique {
				conflict, err := v.scanUnique(ctx, store, model.ID, p.Name, s, existingEntityID)
				if err != nil {
					return nil, err
				}
				if conflict {
					add(p.Name, "value %q is already used by another %s", s, model.Name)
					continue
				}
			}

		case schema.PropertyTypeNumber:
			n, ok := coerceNumber(raw)
			if !ok {
				// Coercion failure is only an error for required
				// properties; optional garbage is dropped by callers.
				if p.Required {
					add(p.Name, "expected a number, got %v", raw)
				}
				continue
			}
			if p.Min != nil && n < *p.Min {
				add(p.Name, "value %v is below the minimum %v", n, *p.Min)
				continue
			}
			if p.Max != nil && n > *p.Max {
				add(p.Name, "value %v is above the maximum %v", n, *p.Max)
				continue
			}
		}
	}

	if firstOnly && len(failures) > 0 {
		return failures, nil
	}

	// The value bag is dynamic; keys that match no declared property are a
	// boundary violation, reported deterministically.
	var unknown []string
	for k := range values {
		if _, ok := model.Property(k); !ok {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		add(k, "model %s has no property %q", model.Name, k)
		if firstOnly {
			break
		}
	}

	return failures, nil
}

// matchRuleset applies a named regex ruleset. A missing ruleset or a pattern
// that fails to compile skips the rule with a warning instead of rejecting
// the value: definitions are user-authored and a broken pattern must not
// lock users out of their own records.
func (v *Validator) matchRuleset(name, value string) (bool, string) {
	rs, ok := v.schemas.RulesetByName(name)
	if !ok {
		v.logger.Warn().Str("ruleset", name).Msg("Ruleset not found; rule skipped")
		return true, ""
	}

	re, err := v.compile(rs.Pattern)
	if err != nil {
		v.logger.Warn().
			Str("ruleset", rs.Name).
			Str("pattern", rs.Pattern).
			Err(err).
			Msg("Ruleset pattern does not compile; rule skipped")
		return true, ""
	}

	if !re.MatchString(value) {
		return false, fmt.Sprintf("value %q does not match ruleset %q", value, rs.Name)
	}
	return true, ""
}

func (v *Validator) compile(pattern string) (*regexp.Regexp, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if cp, ok := v.patterns[pattern]; ok {
		return cp.re, cp.err
	}
	re, err := regexp.Compile(pattern)
	v.patterns[pattern] = &compiledPattern{re: re, err: err}
	return re, err
}

// scanUnique scans sibling entities of the model for a conflicting value.
// The entity being updated never conflicts with itself, and soft-deleted
// entities are excluded uniformly.
func (v *Validator) scanUnique(ctx context.Context, store engine.Reader, modelID, property, value, existingEntityID string) (bool, error) {
	siblings, err := store.ListEntitiesByModel(ctx, modelID, false)
	if err != nil {
		return false, engine.NewStoreError(err, "uniqueness scan for %s.%s failed", modelID, property)
	}
	for _, sibling := range siblings {
		if sibling.ID == existingEntityID {
			continue
		}
		if s, ok := sibling.Values[property].(string); ok && s == value {
			return true, nil
		}
	}
	return false, nil
}

// coerceNumber converts the dynamic value bag representations of a number.
func coerceNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
