package sandbox

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dkoval/scriptbox/validator"
)

// ExecutionRequest carries one submission across the isolation boundary.
// Code and Context are the only caller-controlled data a worker ever sees.
type ExecutionRequest struct {
	ID             string         `json:"id,omitempty"`
	Code           string         `json:"code"`
	Context        map[string]any `json:"context,omitempty"`
	TimeoutSec     int            `json:"timeout_seconds,omitempty"`
	MaxOutputBytes int            `json:"max_output_bytes,omitempty"`
}

// engineGlobals are names the engine itself binds; context keys may not
// shadow them.
var engineGlobals = map[string]bool{
	"print":   true,
	"console": true,
	"require": true,
}

var identifierRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// SanitizeContext verifies that caller-supplied context is safe to inject as
// plain bindings: keys must be ordinary identifiers outside the reserved
// namespace, and values must be primitives or flat sequences/mappings of
// primitives. Object references never cross the boundary.
func SanitizeContext(ctx map[string]any) error {
	for key, value := range ctx {
		if strings.HasPrefix(key, validator.ReservedPrefix) {
			return fmt.Errorf("context key %q uses the reserved prefix", key)
		}
		if !identifierRe.MatchString(key) {
			return fmt.Errorf("context key %q is not a plain identifier", key)
		}
		if engineGlobals[key] {
			return fmt.Errorf("context key %q collides with a sandbox builtin", key)
		}
		if err := checkValue(key, value, false); err != nil {
			return err
		}
	}
	return nil
}

// checkValue accepts primitives and, at the top level only, flat sequences
// and string-keyed mappings of primitives.
func checkValue(key string, value any, nested bool) error {
	switch v := value.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return nil
	case []any:
		if nested {
			return fmt.Errorf("context key %q nests a sequence inside a container; only flat values are allowed", key)
		}
		for _, item := range v {
			if err := checkValue(key, item, true); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		if nested {
			return fmt.Errorf("context key %q nests a mapping inside a container; only flat values are allowed", key)
		}
		for k, item := range v {
			if strings.HasPrefix(k, validator.ReservedPrefix) {
				return fmt.Errorf("context key %q contains reserved-prefix key %q", key, k)
			}
			if err := checkValue(key, item, true); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("context key %q has unsupported value type %T", key, value)
	}
}
