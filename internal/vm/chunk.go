package vm

import (
	"strconv"

	"github.com/jsvmp-lang/jsvmp/internal/config"
)

// FuncDescriptor is the (entry_offset, arity, param_name_indices[]) triple
// from spec.md §3.
type FuncDescriptor struct {
	Entry        int
	Arity        int
	ParamNameIdx []int
}

// Chunk is the compiler's output triple: code bytes, constant pool, and
// function table (spec.md §6's compile API). Grounded structurally on the
// teacher's vm.Chunk, minus the line/column tables the teacher attaches —
// this VM reports compile errors from the token stream directly, before a
// Chunk exists, so the Chunk itself stays exactly the wire triple.
type Chunk struct {
	Code   []byte
	Consts []Value
	Funcs  []FuncDescriptor
}

// NewChunk returns an empty Chunk ready for the compiler to append to.
func NewChunk() *Chunk {
	return &Chunk{Code: make([]byte, 0, config.MaxProgramLength+1)}
}

// constKey is the (kind-tag, textual form) dedup key from spec.md §3.
func constKey(v Value) string {
	switch v.Kind {
	case KindUndefined:
		return "u:"
	case KindNumber:
		return "n:" + strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindString:
		return "s:" + v.Str
	default:
		// closures/host values never appear in the constant pool.
		return "?:"
	}
}

// AddConst inserts v into the pool, deduplicating by (kind, textual form)
// and preserving first-insertion order, and returns its index. Fails the
// program if the pool would exceed the 1-byte index width (256 entries).
func (c *Chunk) AddConst(v Value) (int, error) {
	key := constKey(v)
	for i, existing := range c.Consts {
		if constKey(existing) == key {
			return i, nil
		}
	}
	if len(c.Consts) >= config.MaxConstPoolSize {
		return 0, errConstPoolFull
	}
	c.Consts = append(c.Consts, v)
	return len(c.Consts) - 1, nil
}

// AddFunc appends a function descriptor and returns its 1-byte index.
func (c *Chunk) AddFunc(fn FuncDescriptor) (int, error) {
	if len(c.Funcs) >= config.MaxFuncTableSize {
		return 0, errFuncTableFull
	}
	c.Funcs = append(c.Funcs, fn)
	return len(c.Funcs) - 1, nil
}

// Len is the current length of the code stream.
func (c *Chunk) Len() int { return len(c.Code) }
