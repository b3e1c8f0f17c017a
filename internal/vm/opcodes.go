// Package vm holds the pieces spec.md calls inseparable: the bytecode
// container, the single-pass compiler that emits it, the interpreter that
// executes it, and the protection transform layered on top of it.
package vm

// Opcode is the logical instruction enumeration from spec.md §4.3. Its
// declaration order here *is* the plain container's physical byte
// assignment (spec.md §9's open question on opcode numbering) — the
// protected container re-permutes this per image regardless, so the plain
// assignment only needs to be stable, not meaningful.
type Opcode byte

const (
	OpPushConst Opcode = iota
	OpLoadVar
	OpStoreVar
	OpAssignVar
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpEq
	OpNe
	OpLt
	OpGt
	OpLe
	OpGe
	OpPrint
	OpPop
	OpMakeClos
	OpCall
	OpRet
	OpJmp
	OpJmpIfFalse
	OpHalt

	opcodeCount // sentinel; number of logical opcodes, used by the protection layer
)

// hasImmediate reports whether op is followed by a single 1-byte operand.
func hasImmediate(op Opcode) bool {
	switch op {
	case OpPushConst, OpLoadVar, OpStoreVar, OpAssignVar, OpMakeClos, OpCall, OpJmp, OpJmpIfFalse:
		return true
	default:
		return false
	}
}

// HasImmediateOperand is the exported form of hasImmediate, for callers
// outside this package such as internal/disasm.
func (op Opcode) HasImmediateOperand() bool { return hasImmediate(op) }

// ReferencesConstPool reports whether op's immediate is a constant pool
// index, as opposed to a function index or a jump target.
func (op Opcode) ReferencesConstPool() bool {
	switch op {
	case OpPushConst, OpLoadVar, OpStoreVar, OpAssignVar:
		return true
	default:
		return false
	}
}

var opcodeNames = map[Opcode]string{
	OpPushConst:  "push_const",
	OpLoadVar:    "load_var",
	OpStoreVar:   "store_var",
	OpAssignVar:  "assign_var",
	OpAdd:        "add",
	OpSub:        "sub",
	OpMul:        "mul",
	OpDiv:        "div",
	OpEq:         "eq",
	OpNe:         "ne",
	OpLt:         "lt",
	OpGt:         "gt",
	OpLe:         "le",
	OpGe:         "ge",
	OpPrint:      "print",
	OpPop:        "pop",
	OpMakeClos:   "make_clos",
	OpCall:       "call",
	OpRet:        "ret",
	OpJmp:        "jmp",
	OpJmpIfFalse: "jmp_if_false",
	OpHalt:       "halt",
}

// Name renders an opcode mnemonic for disassembly and error messages.
func (op Opcode) Name() string {
	if n, ok := opcodeNames[op]; ok {
		return n
	}
	return "???"
}
