// Package builtins is the registry of host-callable functions exposed to
// bytecode through the global environment. Behavior is plain Go; an
// optional YAML manifest supplies the name/arity/doc metadata the CLI's
// list-builtins command reads from, mirroring the
// separation the teacher keeps between internal/config data and
// internal/evaluator behavior.
package builtins

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/jsvmp-lang/jsvmp/internal/config"
	"github.com/jsvmp-lang/jsvmp/internal/vm"
)

// Doc describes one host builtin for documentation and listing purposes.
// It never carries behavior — that always comes from Registry.
type Doc struct {
	Name  string `yaml:"name"`
	Arity int    `yaml:"arity"` // -1 means variadic
	Help  string `yaml:"help"`
}

// DefaultDocs is the built-in manifest baked into the binary, used when no
// external YAML manifest is supplied. Its shape matches what an external
// manifest file would contain. The print entry documents the print
// statement, which compiles to the print opcode; Registry has no host
// function by that name.
var DefaultDocs = []Doc{
	{Name: config.PrintFuncName, Arity: 1, Help: "write the stringified argument followed by a newline"},
	{Name: config.MaxFuncName, Arity: -1, Help: "return the greatest of its numeric arguments"},
	{Name: config.MinFuncName, Arity: -1, Help: "return the least of its numeric arguments"},
	{Name: config.LenFuncName, Arity: 1, Help: "return the length of a string argument"},
	{Name: config.TypeOfFuncName, Arity: 1, Help: "return the runtime type name of its argument as a string"},
	{Name: config.UUIDFuncName, Arity: 0, Help: "return a freshly generated random UUID as a string"},
}

func arityError(name string, want int, got int) error {
	if want < 0 {
		return fmt.Errorf("%s: expected at least one argument, got %d", name, got)
	}
	return fmt.Errorf("%s: expected %d argument(s), got %d", name, want, got)
}

// Registry builds the name->HostFunc map installed into a fresh
// interpreter's global environment by vm.NewInterp.
func Registry() map[string]vm.HostFunc {
	return map[string]vm.HostFunc{
		config.MaxFuncName: func(args []vm.Value) (vm.Value, error) {
			if len(args) == 0 {
				return vm.Value{}, arityError(config.MaxFuncName, -1, 0)
			}
			best := numArg(args[0])
			for _, a := range args[1:] {
				if n := numArg(a); n > best {
					best = n
				}
			}
			return vm.Num(best), nil
		},
		config.MinFuncName: func(args []vm.Value) (vm.Value, error) {
			if len(args) == 0 {
				return vm.Value{}, arityError(config.MinFuncName, -1, 0)
			}
			best := numArg(args[0])
			for _, a := range args[1:] {
				if n := numArg(a); n < best {
					best = n
				}
			}
			return vm.Num(best), nil
		},
		config.LenFuncName: func(args []vm.Value) (vm.Value, error) {
			if len(args) != 1 {
				return vm.Value{}, arityError(config.LenFuncName, 1, len(args))
			}
			return vm.Num(float64(len(args[0].Str))), nil
		},
		config.TypeOfFuncName: func(args []vm.Value) (vm.Value, error) {
			if len(args) != 1 {
				return vm.Value{}, arityError(config.TypeOfFuncName, 1, len(args))
			}
			return vm.Str(args[0].TypeName()), nil
		},
		config.UUIDFuncName: func(args []vm.Value) (vm.Value, error) {
			if len(args) != 0 {
				return vm.Value{}, arityError(config.UUIDFuncName, 0, len(args))
			}
			return vm.Str(uuid.New().String()), nil
		},
	}
}

// numArg reads a Value as float64 for builtins that only make sense on
// numbers. Any non-number argument counts as 0; unlike the interpreter's
// arithmetic ops, numeric strings are not parsed and booleans are not
// mapped to 1/0.
func numArg(v vm.Value) float64 {
	if v.Kind == vm.KindNumber {
		return v.Num
	}
	return 0
}

// SortedDocs returns docs sorted by name, for deterministic CLI listing.
func SortedDocs(docs []Doc) []Doc {
	out := append([]Doc(nil), docs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
