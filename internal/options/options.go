// Package options validates caller-supplied option maps against the per
// operation allow-list and resolves them into a typed Set.
package options

import (
	"fmt"
	"sort"
	"strings"
)

// Operation selects which engine entry point a call goes to.
type Operation string

const (
	Parse    Operation = "parse"
	Validate Operation = "validate"
)

// OutputType selects the structural model of a parse result.
type OutputType string

const (
	Refract OutputType = "refract"
	AST     OutputType = "ast"
)

// Option keys accepted from callers.
const (
	KeyGenerateSourceMap    = "generateSourceMap"
	KeyExportSourcemap      = "exportSourcemap"
	KeyRequireBlueprintName = "requireBlueprintName"
	KeyJSON                 = "json"
	KeyType                 = "type"

	// KeySync is a calling-convention hint, removed before allow-list checks.
	KeySync = "sync"
)

var allowed = map[Operation][]string{
	Parse:    {KeyGenerateSourceMap, KeyExportSourcemap, KeyRequireBlueprintName, KeyJSON, KeyType},
	Validate: {KeyRequireBlueprintName, KeyJSON},
}

// Allowed returns the option keys op accepts.
func Allowed(op Operation) []string {
	return append([]string(nil), allowed[op]...)
}

// Set holds the validated options of one call.
type Set struct {
	RequireBlueprintName bool
	// Sourcemap is set by either generateSourceMap or exportSourcemap.
	Sourcemap bool
	// JSON defaults to true; false returns the raw engine output.
	JSON bool
	// Type is always Refract for validate.
	Type OutputType
}

// Defaults returns the Set used when no options are given.
func Defaults() Set {
	return Set{JSON: true, Type: Refract}
}

// InvalidOptionError reports an unknown option key or an unusable value.
type InvalidOptionError struct {
	Operation Operation
	Key       string
	Value     any
	Allowed   []string
	Reason    string
}

func (e *InvalidOptionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid option '%s' for %s: %s", e.Key, e.Operation, e.Reason)
	}
	quoted := make([]string, len(e.Allowed))
	for i, k := range e.Allowed {
		quoted[i] = "'" + k + "'"
	}
	return fmt.Sprintf("unrecognized option '%s' for %s, expected: %s",
		e.Key, e.Operation, strings.Join(quoted, ", "))
}

// Resolve checks raw against op's allow-list. The sync hint is extracted
// first and returned beside the Set; raw itself is not modified.
// A nil raw map yields Defaults().
func Resolve(op Operation, raw map[string]any) (Set, bool, error) {
	set := Defaults()

	list, ok := allowed[op]
	if !ok {
		return set, false, &InvalidOptionError{Operation: op, Reason: "unknown operation"}
	}

	sync := false
	if v, present := raw[KeySync]; present {
		b, isBool := v.(bool)
		if !isBool {
			return set, false, invalidValue(op, KeySync, v, "expected a boolean")
		}
		sync = b
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		if k != KeySync {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !contains(list, k) {
			return set, false, &InvalidOptionError{
				Operation: op,
				Key:       k,
				Value:     raw[k],
				Allowed:   Allowed(op),
			}
		}
	}

	for _, k := range keys {
		v := raw[k]
		switch k {
		case KeyType:
			s, isString := v.(string)
			switch OutputType(s) {
			case Refract, AST:
				set.Type = OutputType(s)
			default:
				if !isString {
					return set, false, invalidValue(op, k, v, "expected 'ast' or 'refract'")
				}
				return set, false, invalidValue(op, k, v, fmt.Sprintf("unknown type '%s', expected 'ast' or 'refract'", s))
			}
		default:
			b, isBool := v.(bool)
			if !isBool {
				return set, false, invalidValue(op, k, v, "expected a boolean")
			}
			switch k {
			case KeyGenerateSourceMap, KeyExportSourcemap:
				set.Sourcemap = set.Sourcemap || b
			case KeyRequireBlueprintName:
				set.RequireBlueprintName = b
			case KeyJSON:
				set.JSON = b
			}
		}
	}

	return set, sync, nil
}

func invalidValue(op Operation, key string, value any, reason string) *InvalidOptionError {
	return &InvalidOptionError{
		Operation: op,
		Key:       key,
		Value:     value,
		Allowed:   Allowed(op),
		Reason:    reason,
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
