package sandbox

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/dkoval/scriptbox/validator"
)

// AccessGuard decides whether a single property operation on a host module
// may proceed. Guards intercept every access path the runtime offers for the
// object: property get, set, existence check, delete and key iteration.
type AccessGuard interface {
	Allow(name string) bool
}

// Module is a host capability scripts obtain through require(). Bind builds
// the value handed to the script; Guard supplies the mandatory interception
// point. A nil guard makes the module unusable: the engine refuses to start.
type Module interface {
	Name() string
	Bind(vm *goja.Runtime, env *Env) (goja.Value, error)
	Guard() AccessGuard
}

// Env is the per-execution state host modules may touch. Script output is
// captured here, never on the process's real streams.
type Env struct {
	Stdout *BoundedBuffer
	Stderr *BoundedBuffer
	Now    func() time.Time
}

// reservedNameGuard rejects any property whose name uses the reserved
// prefix. It is the default guard for every built-in module.
type reservedNameGuard struct{}

func (reservedNameGuard) Allow(name string) bool {
	return !strings.HasPrefix(name, validator.ReservedPrefix)
}

// securityPrefix marks exceptions raised by guard rejections so the engine
// can classify them apart from ordinary script errors.
const securityPrefix = "sandbox security violation"

func throwSecurity(vm *goja.Runtime, format string, args ...any) {
	// NewTypeError treats its first argument as a format string; pre-format
	// and pass through %s so a property name with a verb cannot garble it.
	panic(vm.NewTypeError("%s", securityPrefix+": "+fmt.Sprintf(format, args...)))
}

// guardedObject exposes a read-only property map to scripts with every
// operation routed through the module's guard. It implements
// goja.DynamicObject, which covers all access paths goja provides: get,
// set, has, delete and key enumeration.
type guardedObject struct {
	vm     *goja.Runtime
	module string
	guard  AccessGuard
	props  map[string]goja.Value
}

func newGuardedObject(vm *goja.Runtime, module string, guard AccessGuard) *guardedObject {
	return &guardedObject{
		vm:     vm,
		module: module,
		guard:  guard,
		props:  make(map[string]goja.Value),
	}
}

func (o *guardedObject) define(name string, fn func(goja.FunctionCall) goja.Value) {
	o.props[name] = o.vm.ToValue(fn)
}

func (o *guardedObject) Get(key string) goja.Value {
	if !o.guard.Allow(key) {
		throwSecurity(o.vm, "access to %q on module %q", key, o.module)
	}
	if v, ok := o.props[key]; ok {
		return v
	}
	return goja.Undefined()
}

func (o *guardedObject) Set(key string, _ goja.Value) bool {
	if !o.guard.Allow(key) {
		throwSecurity(o.vm, "write to %q on module %q", key, o.module)
	}
	// Host modules are immutable from script code.
	return false
}

func (o *guardedObject) Has(key string) bool {
	if !o.guard.Allow(key) {
		throwSecurity(o.vm, "probe of %q on module %q", key, o.module)
	}
	_, ok := o.props[key]
	return ok
}

func (o *guardedObject) Delete(key string) bool {
	if !o.guard.Allow(key) {
		throwSecurity(o.vm, "delete of %q on module %q", key, o.module)
	}
	return false
}

func (o *guardedObject) Keys() []string {
	keys := make([]string, 0, len(o.props))
	for k := range o.props {
		if o.guard.Allow(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// builtinModules returns the host modules the engine can serve. The config
// allow-list selects the subset a given deployment actually exposes.
func builtinModules() []Module {
	return []Module{
		logModule{},
		textModule{},
		clockModule{},
		encodingModule{},
	}
}

// logModule writes leveled lines into the bounded capture buffers:
// info/debug to stdout, warn/error to stderr.
type logModule struct{}

func (logModule) Name() string       { return "log" }
func (logModule) Guard() AccessGuard { return reservedNameGuard{} }

func (m logModule) Bind(vm *goja.Runtime, env *Env) (goja.Value, error) {
	obj := newGuardedObject(vm, m.Name(), m.Guard())

	emit := func(buf *BoundedBuffer, level string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			buf.WriteString("[" + level + "] " + formatArgs(call.Arguments) + "\n")
			return goja.Undefined()
		}
	}
	obj.define("debug", emit(env.Stdout, "debug"))
	obj.define("info", emit(env.Stdout, "info"))
	obj.define("warn", emit(env.Stderr, "warn"))
	obj.define("error", emit(env.Stderr, "error"))

	return vm.NewDynamicObject(obj), nil
}

// textModule offers a small string toolkit.
type textModule struct{}

func (textModule) Name() string       { return "text" }
func (textModule) Guard() AccessGuard { return reservedNameGuard{} }

func (m textModule) Bind(vm *goja.Runtime, _ *Env) (goja.Value, error) {
	obj := newGuardedObject(vm, m.Name(), m.Guard())

	obj.define("upper", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(strings.ToUpper(call.Argument(0).String()))
	})
	obj.define("lower", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(strings.ToLower(call.Argument(0).String()))
	})
	obj.define("trim", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(strings.TrimSpace(call.Argument(0).String()))
	})
	obj.define("split", func(call goja.FunctionCall) goja.Value {
		parts := strings.Split(call.Argument(0).String(), call.Argument(1).String())
		return vm.ToValue(parts)
	})
	obj.define("contains", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(strings.Contains(call.Argument(0).String(), call.Argument(1).String()))
	})

	return vm.NewDynamicObject(obj), nil
}

// clockModule exposes wall-clock reads. Scripts cannot sleep through it; it
// only reads time, the coordinator's deadline still bounds them.
type clockModule struct{}

func (clockModule) Name() string       { return "clock" }
func (clockModule) Guard() AccessGuard { return reservedNameGuard{} }

func (m clockModule) Bind(vm *goja.Runtime, env *Env) (goja.Value, error) {
	obj := newGuardedObject(vm, m.Name(), m.Guard())

	obj.define("now", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(env.Now().UnixMilli())
	})
	obj.define("iso", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(env.Now().UTC().Format(time.RFC3339))
	})

	return vm.NewDynamicObject(obj), nil
}

// encodingModule provides JSON encode/decode without reaching the host.
type encodingModule struct{}

func (encodingModule) Name() string       { return "encoding" }
func (encodingModule) Guard() AccessGuard { return reservedNameGuard{} }

func (m encodingModule) Bind(vm *goja.Runtime, _ *Env) (goja.Value, error) {
	obj := newGuardedObject(vm, m.Name(), m.Guard())

	obj.define("jsonEncode", func(call goja.FunctionCall) goja.Value {
		raw, err := json.Marshal(call.Argument(0).Export())
		if err != nil {
			panic(vm.NewTypeError("value is not JSON-encodable"))
		}
		return vm.ToValue(string(raw))
	})
	obj.define("jsonDecode", func(call goja.FunctionCall) goja.Value {
		var out any
		if err := json.Unmarshal([]byte(call.Argument(0).String()), &out); err != nil {
			panic(vm.NewTypeError("invalid JSON: %v", err))
		}
		return vm.ToValue(out)
	})

	return vm.NewDynamicObject(obj), nil
}

// formatArgs renders call arguments the way console.log would.
func formatArgs(args []goja.Value) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = formatValue(arg)
	}
	return strings.Join(parts, " ")
}

func formatValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	exported := v.Export()
	switch val := exported.(type) {
	case string:
		return val
	case map[string]any, []any:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(raw)
	default:
		return fmt.Sprintf("%v", val)
	}
}
